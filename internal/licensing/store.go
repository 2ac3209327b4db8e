package licensing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibero-data/licensor/internal/auth"
	"github.com/ibero-data/licensor/internal/database"
)

// DefaultKeyAttempts bounds how many keys are tried when generation collides.
const DefaultKeyAttempts = 3

// DemoKeys are inserted by SeedDemo for local testing.
var DemoKeys = []string{"VALID_KEY_12345", "VALID_KEY_67890"}

// Store owns the license and users tables.
type Store struct {
	db       *database.DB
	validity time.Duration
	keygen   KeyGenerator
	enforce  bool
	now      func() time.Time
	logger   zerolog.Logger
}

type Option func(*Store)

// WithKeyGenerator replaces the random key source.
func WithKeyGenerator(gen KeyGenerator) Option {
	return func(s *Store) {
		s.keygen = gen
	}
}

// WithExpiryEnforced makes Redeem refuse keys whose expiration date has
// passed. By default the expiration date is recorded but not checked.
func WithExpiryEnforced(enforce bool) Option {
	return func(s *Store) {
		s.enforce = enforce
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a license store. validity is added to the generation time
// to compute the expiration date; zero means licenses never expire.
func NewStore(db *database.DB, validity time.Duration, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		db:       db,
		validity: validity,
		keygen:   GenerateKey,
		now:      time.Now,
		logger:   logger.With().Str("component", "licenses").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newLicense() (*License, error) {
	key, err := s.keygen()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	lic := &License{Key: key, GeneratedAt: now}
	if s.validity > 0 {
		exp := now.Add(s.validity)
		lic.ExpiresAt = &exp
	}
	return lic, nil
}

func (s *Store) insertLicense(ctx context.Context, tx *sql.Tx, lic *License) error {
	err := tx.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO license (licenseKey, generatedAt, expirationDate, used, user_hash)
		VALUES (?, ?, ?, ?, NULL)
		RETURNING id
	`), lic.Key, lic.GeneratedAt, nullTime(lic.ExpiresAt), false).Scan(&lic.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("%w: insert license: %w", ErrPersistence, err)
	}
	return nil
}

// Generate creates one unused license with a fresh key. A key collision is
// reported as ErrDuplicateKey and nothing is written.
func (s *Store) Generate(ctx context.Context) (*License, error) {
	lic, err := s.newLicense()
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %w", ErrPersistence, err)
	}

	err = s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		return s.insertLicense(ctx, tx, lic)
	})
	if err != nil {
		return nil, wrapPersistence(err)
	}

	s.logger.Info().Str("license_key", MaskKey(lic.Key)).Msg("generated license")
	return lic, nil
}

// GenerateUnique calls Generate until a key does not collide, up to attempts
// times.
func (s *Store) GenerateUnique(ctx context.Context, attempts int) (*License, error) {
	var lic *License
	err := retryDuplicate(attempts, func() error {
		var err error
		lic, err = s.Generate(ctx)
		return err
	})
	return lic, err
}

// IssueForPurchase creates an unused license and the purchaser's user row in
// one transaction. If either insert fails nothing is kept. Key collisions are
// retried with a new key.
func (s *Store) IssueForPurchase(ctx context.Context, p Purchaser) (string, int64, error) {
	var passwordHash *string
	if p.Password != "" {
		hash, err := auth.HashPassword(p.Password)
		if err != nil {
			return "", 0, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = &hash
	}

	var (
		key    string
		userID int64
	)
	err := retryDuplicate(DefaultKeyAttempts, func() error {
		lic, err := s.newLicense()
		if err != nil {
			return fmt.Errorf("%w: generate key: %w", ErrPersistence, err)
		}

		return s.db.ExecTx(ctx, func(tx *sql.Tx) error {
			if err := s.insertLicense(ctx, tx, lic); err != nil {
				return err
			}

			now := s.now().UTC()
			err := tx.QueryRowContext(ctx, s.db.Rebind(`
				INSERT INTO users (name, email, password, phone, address, city, state, zip, license_id, createdAt, updatedAt)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				RETURNING id
			`), p.Name, p.Email, passwordHash, p.Phone, p.Address, p.City, p.State, p.Zip, lic.ID, now, now).Scan(&userID)
			if err != nil {
				return fmt.Errorf("%w: insert user: %w", ErrPersistence, err)
			}

			key = lic.Key
			return nil
		})
	})
	if err != nil {
		return "", 0, wrapPersistence(err)
	}

	s.logger.Info().Str("license_key", MaskKey(key)).Int64("user_id", userID).Msg("issued license for purchase")
	return key, userID, nil
}

// Redeem performs the one-way unused -> used transition for key, binding it
// to claimant. The conditional update guarantees that of any number of
// concurrent attempts on the same key at most one observes Redeemed.
func (s *Store) Redeem(ctx context.Context, key, claimant string) (RedemptionResult, error) {
	if key == "" || claimant == "" {
		return Invalid, ErrInvalidRequest
	}

	result := Invalid
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		var (
			used bool
			exp  sql.NullTime
		)
		err := tx.QueryRowContext(ctx,
			s.db.Rebind("SELECT used, expirationDate FROM license WHERE licenseKey = ?"), key,
		).Scan(&used, &exp)
		if errors.Is(err, sql.ErrNoRows) {
			result = Invalid
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: lookup license: %w", ErrPersistence, err)
		}

		if used {
			result = AlreadyUsed
			return nil
		}
		if s.enforce && exp.Valid && !exp.Time.After(s.now()) {
			result = Expired
			return nil
		}

		res, err := tx.ExecContext(ctx,
			s.db.Rebind("UPDATE license SET used = ?, user_hash = ? WHERE licenseKey = ? AND used = ?"),
			true, claimant, key, false,
		)
		if err != nil {
			return fmt.Errorf("%w: redeem license: %w", ErrPersistence, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: redeem license: %w", ErrPersistence, err)
		}
		if n == 0 {
			// another redemption committed between the read and the update
			result = AlreadyUsed
			return nil
		}
		result = Redeemed
		return nil
	})
	if err != nil {
		return Invalid, wrapPersistence(err)
	}

	s.logger.Info().
		Str("license_key", MaskKey(key)).
		Str("result", result.String()).
		Msg("license redemption")
	return result, nil
}

// IsLicensed reports whether any license is bound to userHash.
func (s *Store) IsLicensed(ctx context.Context, userHash string) (bool, error) {
	if userHash == "" {
		return false, ErrInvalidRequest
	}

	var one int
	err := s.db.Conn().QueryRowContext(ctx,
		s.db.Rebind("SELECT 1 FROM license WHERE user_hash = ? LIMIT 1"), userHash,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check license: %w", ErrPersistence, err)
	}
	return true, nil
}

const licenseColumns = "id, licenseKey, generatedAt, expirationDate, used, user_hash"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*License, error) {
	var (
		lic  License
		exp  sql.NullTime
		hash sql.NullString
	)
	if err := row.Scan(&lic.ID, &lic.Key, &lic.GeneratedAt, &exp, &lic.Used, &hash); err != nil {
		return nil, err
	}
	if exp.Valid {
		t := exp.Time
		lic.ExpiresAt = &t
	}
	if hash.Valid {
		h := hash.String
		lic.UserHash = &h
	}
	return &lic, nil
}

// Get looks a license up by key.
func (s *Store) Get(ctx context.Context, key string) (*License, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		s.db.Rebind("SELECT "+licenseColumns+" FROM license WHERE licenseKey = ?"), key)
	lic, err := scanLicense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get license: %w", ErrPersistence, err)
	}
	return lic, nil
}

// List returns licenses newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*License, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Conn().QueryContext(ctx,
		s.db.Rebind("SELECT "+licenseColumns+" FROM license ORDER BY id DESC LIMIT ? OFFSET ?"), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list licenses: %w", ErrPersistence, err)
	}
	defer rows.Close()

	licenses := make([]*License, 0)
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan license: %w", ErrPersistence, err)
		}
		licenses = append(licenses, lic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list licenses: %w", ErrPersistence, err)
	}
	return licenses, nil
}

// UserForLicense returns the purchaser linked to a license, ErrNotFound if
// the license was generated without a purchase.
func (s *Store) UserForLicense(ctx context.Context, licenseID int64) (*User, error) {
	var (
		u                                             User
		name, email, phone, address, city, state, zip sql.NullString
	)
	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, name, email, phone, address, city, state, zip, license_id, createdAt, updatedAt
		FROM users WHERE license_id = ? ORDER BY id LIMIT 1
	`), licenseID).Scan(&u.ID, &name, &email, &phone, &address, &city, &state, &zip, &u.LicenseID, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get user: %w", ErrPersistence, err)
	}
	u.Name, u.Email, u.Phone = name.String, email.String, phone.String
	u.Address, u.City, u.State, u.Zip = address.String, city.String, state.String, zip.String
	return &u, nil
}

// Stats counts licenses by state.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.Conn().QueryRowContext(ctx, s.db.Rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN used THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN NOT used AND expirationDate IS NOT NULL AND expirationDate <= ? THEN 1 ELSE 0 END), 0),
			COUNT(DISTINCT user_hash)
		FROM license
	`), s.now().UTC()).Scan(&st.Total, &st.Used, &st.Expired, &st.Licensed)
	if err != nil {
		return nil, fmt.Errorf("%w: license stats: %w", ErrPersistence, err)
	}
	st.Unused = st.Total - st.Used

	if err := s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&st.Users); err != nil {
		return nil, fmt.Errorf("%w: user stats: %w", ErrPersistence, err)
	}
	return &st, nil
}

// SeedDemo inserts DemoKeys as unused licenses, leaving existing rows alone.
func (s *Store) SeedDemo(ctx context.Context) (int, error) {
	inserted := 0
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, key := range DemoKeys {
			now := s.now().UTC()
			var exp *time.Time
			if s.validity > 0 {
				t := now.Add(s.validity)
				exp = &t
			}
			res, err := tx.ExecContext(ctx, s.db.Rebind(`
				INSERT INTO license (licenseKey, generatedAt, expirationDate, used, user_hash)
				VALUES (?, ?, ?, ?, NULL)
				ON CONFLICT (licenseKey) DO NOTHING
			`), key, now, nullTime(exp), false)
			if err != nil {
				return fmt.Errorf("%w: seed license: %w", ErrPersistence, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, wrapPersistence(err)
	}
	return inserted, nil
}

func retryDuplicate(attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !errors.Is(err, ErrDuplicateKey) {
			return err
		}
	}
	return err
}

// wrapPersistence makes sure store errors that are not already classified
// (begin/commit failures from ExecTx, context cancellation) carry
// ErrPersistence.
func wrapPersistence(err error) error {
	if err == nil || errors.Is(err, ErrPersistence) || errors.Is(err, ErrDuplicateKey) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
