package licensing

import (
	"errors"
	"time"
)

var (
	// ErrInvalidRequest is returned before any store access when required
	// input is missing or malformed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDuplicateKey means a freshly generated key collided with an
	// existing one. Callers may retry generation.
	ErrDuplicateKey = errors.New("license key already exists")
	// ErrNotFound is returned by lookups for unknown keys.
	ErrNotFound = errors.New("license not found")
	// ErrPersistence wraps store failures (unreachable store, constraint
	// violations other than key collisions).
	ErrPersistence = errors.New("persistence failure")
)

// License is a single-use license key record.
type License struct {
	ID          int64      `json:"id"`
	Key         string     `json:"license_key"`
	GeneratedAt time.Time  `json:"generated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Used        bool       `json:"used"`
	UserHash    *string    `json:"user_hash,omitempty"`
}

// Expired reports whether the license has an expiration date at or before now.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Purchaser holds the contact details submitted after a purchase.
type Purchaser struct {
	Name     string
	Email    string
	Password string
	Phone    string
	Address  string
	City     string
	State    string
	Zip      string
}

// User is a purchaser record linked to exactly one license.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	Zip       string    `json:"zip"`
	LicenseID int64     `json:"license_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedemptionResult is the outcome of a redeem attempt. Negative outcomes are
// values, not errors.
type RedemptionResult int

const (
	Invalid RedemptionResult = iota
	AlreadyUsed
	Expired
	Redeemed
)

func (r RedemptionResult) String() string {
	switch r {
	case Invalid:
		return "invalid"
	case AlreadyUsed:
		return "already_used"
	case Expired:
		return "expired"
	case Redeemed:
		return "redeemed"
	default:
		return "unknown"
	}
}

// Stats summarises the license table.
type Stats struct {
	Total    int64 `json:"total"`
	Used     int64 `json:"used"`
	Unused   int64 `json:"unused"`
	Expired  int64 `json:"expired"`
	Users    int64 `json:"users"`
	Licensed int64 `json:"licensed_hashes"`
}

// MaskKey hides all but the first four characters of a key for logging.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
