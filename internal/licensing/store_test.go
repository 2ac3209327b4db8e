package licensing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibero-data/licensor/internal/database/dbtest"
	"github.com/ibero-data/licensor/internal/licensing"
)

func newStore(t *testing.T, opts ...licensing.Option) *licensing.Store {
	t.Helper()
	return licensing.NewStore(dbtest.New(t), 365*24*time.Hour, zerolog.Nop(), opts...)
}

func fixedKeys(keys ...string) licensing.KeyGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		k := keys[i%len(keys)]
		i++
		return k, nil
	}
}

func TestGenerate_CreatesUnusedLicense(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	lic, err := store.Generate(ctx)
	require.NoError(t, err)
	assert.Len(t, lic.Key, licensing.KeyLength)
	assert.False(t, lic.Used)
	require.NotNil(t, lic.ExpiresAt)

	got, err := store.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, lic.ID, got.ID)
	assert.False(t, got.Used)
	assert.Nil(t, got.UserHash)
}

func TestGenerate_DuplicateKey(t *testing.T) {
	store := newStore(t, licensing.WithKeyGenerator(fixedKeys("SAMEKEY000000000")))
	ctx := context.Background()

	_, err := store.Generate(ctx)
	require.NoError(t, err)

	_, err = store.Generate(ctx)
	assert.ErrorIs(t, err, licensing.ErrDuplicateKey)
}

func TestGenerateUnique_RetriesCollisions(t *testing.T) {
	store := newStore(t, licensing.WithKeyGenerator(fixedKeys("AAAAAAAAAAAAAAAA", "AAAAAAAAAAAAAAAA", "BBBBBBBBBBBBBBBB")))
	ctx := context.Background()

	first, err := store.GenerateUnique(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAAAAAAAAAA", first.Key)

	// second call sees one collision then succeeds
	second, err := store.GenerateUnique(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "BBBBBBBBBBBBBBBB", second.Key)
}

func TestRedeem_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	lic, err := store.Generate(ctx)
	require.NoError(t, err)

	licensed, err := store.IsLicensed(ctx, "device-1")
	require.NoError(t, err)
	assert.False(t, licensed)

	res, err := store.Redeem(ctx, lic.Key, "device-1")
	require.NoError(t, err)
	assert.Equal(t, licensing.Redeemed, res)

	licensed, err = store.IsLicensed(ctx, "device-1")
	require.NoError(t, err)
	assert.True(t, licensed)

	got, err := store.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.True(t, got.Used)
	require.NotNil(t, got.UserHash)
	assert.Equal(t, "device-1", *got.UserHash)
}

func TestRedeem_UnknownKey(t *testing.T) {
	store := newStore(t)

	res, err := store.Redeem(context.Background(), "NOPE", "device-1")
	require.NoError(t, err)
	assert.Equal(t, licensing.Invalid, res)
}

func TestRedeem_AlreadyUsedKeepsBinding(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	lic, err := store.Generate(ctx)
	require.NoError(t, err)

	res, err := store.Redeem(ctx, lic.Key, "first")
	require.NoError(t, err)
	require.Equal(t, licensing.Redeemed, res)

	res, err = store.Redeem(ctx, lic.Key, "second")
	require.NoError(t, err)
	assert.Equal(t, licensing.AlreadyUsed, res)

	got, err := store.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.Equal(t, "first", *got.UserHash)

	licensed, err := store.IsLicensed(ctx, "second")
	require.NoError(t, err)
	assert.False(t, licensed)
}

func TestRedeem_PastExpirationStillRedeemsByDefault(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newStore(t, licensing.WithClock(clock))
	ctx := context.Background()

	lic, err := store.Generate(ctx)
	require.NoError(t, err)
	require.NotNil(t, lic.ExpiresAt)

	now = now.Add(366 * 24 * time.Hour)

	res, err := store.Redeem(ctx, lic.Key, "late")
	require.NoError(t, err)
	assert.Equal(t, licensing.Redeemed, res)

	licensed, err := store.IsLicensed(ctx, "late")
	require.NoError(t, err)
	assert.True(t, licensed)

	// the expiration date is still recorded
	got, err := store.Get(ctx, lic.Key)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(*lic.ExpiresAt))
}

func TestRedeem_ExpiredWhenEnforced(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newStore(t, licensing.WithClock(clock), licensing.WithExpiryEnforced(true))
	ctx := context.Background()

	lic, err := store.Generate(ctx)
	require.NoError(t, err)

	now = now.Add(366 * 24 * time.Hour)

	res, err := store.Redeem(ctx, lic.Key, "late")
	require.NoError(t, err)
	assert.Equal(t, licensing.Expired, res)

	got, err := store.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.False(t, got.Used)
}

func TestRedeem_RejectsEmptyInput(t *testing.T) {
	store := newStore(t)

	_, err := store.Redeem(context.Background(), "", "hash")
	assert.ErrorIs(t, err, licensing.ErrInvalidRequest)

	_, err = store.Redeem(context.Background(), "KEY", "")
	assert.ErrorIs(t, err, licensing.ErrInvalidRequest)
}

func TestRedeem_ConcurrentSingleWinner(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	lic, err := store.Generate(ctx)
	require.NoError(t, err)

	// SQLite runs with a single open connection, so these transactions are
	// serialized and the lost-race branch of the conditional update is only
	// reached by the PostgreSQL integration test.
	const workers = 16
	results := make([]licensing.RedemptionResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.Redeem(ctx, lic.Key, fmt.Sprint("c", i))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	winner := ""
	used := 0
	for i, r := range results {
		switch r {
		case licensing.Redeemed:
			require.Empty(t, winner, "more than one claimant redeemed the key")
			winner = fmt.Sprint("c", i)
		case licensing.AlreadyUsed:
			used++
		}
	}
	require.NotEmpty(t, winner)
	assert.Equal(t, workers-1, used)

	got, err := store.Get(ctx, lic.Key)
	require.NoError(t, err)
	assert.True(t, got.Used)
	require.NotNil(t, got.UserHash)
	assert.Equal(t, winner, *got.UserHash)

	for i := 0; i < workers; i++ {
		claimant := fmt.Sprint("c", i)
		licensed, err := store.IsLicensed(ctx, claimant)
		require.NoError(t, err)
		assert.Equal(t, claimant == winner, licensed, claimant)
	}
}

func TestIssueForPurchase(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	key, userID, err := store.IssueForPurchase(ctx, licensing.Purchaser{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "analytical",
		City:     "London",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, key)
	assert.NotZero(t, userID)

	lic, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, lic.Used)

	user, err := store.UserForLicense(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.Equal(t, "London", user.City)

	res, err := store.Redeem(ctx, key, "ada-device")
	require.NoError(t, err)
	assert.Equal(t, licensing.Redeemed, res)
}

func TestIssueForPurchase_KeyGeneratorFailureKeepsNothing(t *testing.T) {
	store := newStore(t, licensing.WithKeyGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	ctx := context.Background()

	_, _, err := store.IssueForPurchase(ctx, licensing.Purchaser{Name: "x"})
	assert.ErrorIs(t, err, licensing.ErrPersistence)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
	assert.Zero(t, stats.Users)
}

func TestIssueForPurchase_ExhaustedCollisions(t *testing.T) {
	store := newStore(t, licensing.WithKeyGenerator(fixedKeys("TAKENKEY00000000")))
	ctx := context.Background()

	_, err := store.Generate(ctx)
	require.NoError(t, err)

	_, _, err = store.IssueForPurchase(ctx, licensing.Purchaser{Name: "x"})
	assert.ErrorIs(t, err, licensing.ErrDuplicateKey)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Total)
	assert.Zero(t, stats.Users)
}

func TestGet_NotFound(t *testing.T) {
	store := newStore(t)

	_, err := store.Get(context.Background(), "MISSING")
	assert.ErrorIs(t, err, licensing.ErrNotFound)
}

func TestListAndStats(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	var keys []string
	for i := 0; i < 3; i++ {
		lic, err := store.Generate(ctx)
		require.NoError(t, err)
		keys = append(keys, lic.Key)
	}
	_, err := store.Redeem(ctx, keys[0], "h1")
	require.NoError(t, err)

	list, err := store.List(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, keys[2], list[0].Key)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 1, stats.Used)
	assert.EqualValues(t, 2, stats.Unused)
	assert.EqualValues(t, 1, stats.Licensed)
}

func TestSeedDemo_Idempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	n, err := store.SeedDemo(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(licensing.DemoKeys), n)

	n, err = store.SeedDemo(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	res, err := store.Redeem(ctx, licensing.DemoKeys[0], "demo")
	require.NoError(t, err)
	assert.Equal(t, licensing.Redeemed, res)
}
