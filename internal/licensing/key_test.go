package licensing

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey_Format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		key, err := GenerateKey()
		require.NoError(t, err)
		require.Len(t, key, KeyLength)
		for _, c := range key {
			assert.True(t, strings.ContainsRune(KeyAlphabet, c), "unexpected rune %q", c)
		}
		assert.False(t, seen[key], "duplicate key %s", key)
		seen[key] = true
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "ABCD****", MaskKey("ABCDEFGHIJKLMNOP"))
	assert.Equal(t, "****", MaskKey("ABC"))
}

func TestLicenseExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, (&License{}).Expired(now))
	assert.True(t, (&License{ExpiresAt: &past}).Expired(now))
	assert.False(t, (&License{ExpiresAt: &future}).Expired(now))
}

func TestRedemptionResultString(t *testing.T) {
	assert.Equal(t, "redeemed", Redeemed.String())
	assert.Equal(t, "already_used", AlreadyUsed.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "expired", Expired.String())
}
