package licensing

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	// KeyLength is the number of characters in a license key.
	KeyLength = 16
	// KeyAlphabet is the set keys are drawn from.
	KeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// KeyGenerator produces candidate license keys.
type KeyGenerator func() (string, error)

var alphabetSize = big.NewInt(int64(len(KeyAlphabet)))

// GenerateKey returns a KeyLength key with each character drawn uniformly
// from KeyAlphabet.
func GenerateKey() (string, error) {
	b := make([]byte, KeyLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b[i] = KeyAlphabet[n.Int64()]
	}
	return string(b), nil
}
