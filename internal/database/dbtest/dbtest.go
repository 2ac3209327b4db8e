// Package dbtest opens throwaway migrated databases for package tests.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ibero-data/licensor/internal/database"
)

var seq atomic.Int64

// New returns a migrated in-memory SQLite database that is closed when the
// test ends.
func New(t *testing.T) *database.DB {
	t.Helper()

	db := Open(t)
	_, err := db.Migrate(context.Background())
	require.NoError(t, err)
	return db
}

// Open returns an unmigrated in-memory SQLite database.
func Open(t *testing.T) *database.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	url := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))

	db, err := database.Open(context.Background(), url, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
