// Package trials records per-device free-trial usage counters.
package trials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibero-data/licensor/internal/database"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrPersistence    = errors.New("persistence failure")
)

// Counter is the stored trial usage for one user hash.
type Counter struct {
	UserHash  string    `json:"user_hash"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store owns the trials table. Reports overwrite the stored count with the
// client supplied absolute value; the last committed report wins.
type Store struct {
	db     *database.DB
	now    func() time.Time
	logger zerolog.Logger
}

func NewStore(db *database.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: logger.With().Str("component", "trials").Logger(),
	}
}

// Report stores count for userHash and returns the stored value.
func (s *Store) Report(ctx context.Context, userHash string, count int) (int, error) {
	if userHash == "" || count < 0 {
		return 0, ErrInvalidRequest
	}

	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO trials (user_hash, count, updateDate)
			VALUES (?, ?, ?)
			ON CONFLICT (user_hash) DO UPDATE SET
				count = excluded.count,
				updateDate = excluded.updateDate
		`), userHash, count, s.now().UTC())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: report trial: %w", ErrPersistence, err)
	}

	s.logger.Debug().Str("user_hash", userHash).Int("count", count).Msg("trial count reported")
	return count, nil
}

// Read returns the stored count, 0 when userHash has never reported.
func (s *Store) Read(ctx context.Context, userHash string) (int, error) {
	c, err := s.Get(ctx, userHash)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, nil
	}
	return c.Count, nil
}

// Get returns the full counter row or nil if none exists.
func (s *Store) Get(ctx context.Context, userHash string) (*Counter, error) {
	if userHash == "" {
		return nil, ErrInvalidRequest
	}

	c := Counter{UserHash: userHash}
	err := s.db.Conn().QueryRowContext(ctx,
		s.db.Rebind("SELECT count, updateDate FROM trials WHERE user_hash = ?"), userHash,
	).Scan(&c.Count, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read trial: %w", ErrPersistence, err)
	}
	return &c, nil
}

// Total returns how many distinct hashes have reported.
func (s *Store) Total(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM trials").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count trials: %w", ErrPersistence, err)
	}
	return n, nil
}
