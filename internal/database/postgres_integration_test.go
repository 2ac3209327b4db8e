//go:build integration

package database_test

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ibero-data/licensor/internal/database"
	"github.com/ibero-data/licensor/internal/licensing"
	"github.com/ibero-data/licensor/internal/trials"
)

// dockerAvailable returns true if a Docker daemon is reachable.
func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

func openPostgres(t *testing.T) *database.DB {
	t.Helper()
	if !dockerAvailable() {
		t.Skip("Docker is not available, skipping integration tests")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("licensor_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.Open(ctx, connStr, zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Migrate(ctx)
	require.NoError(t, err)
	return db
}

func TestPostgres_LicenseAndTrialLifecycle(t *testing.T) {
	db := openPostgres(t)
	ctx := context.Background()
	assert.Equal(t, database.DialectPostgres, db.Dialect())

	applied, err := db.Migrate(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	licenses := licensing.NewStore(db, 24*time.Hour, zerolog.Nop())
	lic, err := licenses.Generate(ctx)
	require.NoError(t, err)

	// Unlike SQLite, the pool here has several connections, so redemptions
	// really overlap and some lose the conditional update (0 rows affected).
	const workers = 16
	results := make([]licensing.RedemptionResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := licenses.Redeem(ctx, lic.Key, fmt.Sprint("c", i))
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

	got, err := licenses.Get(ctx, lic.Key)
	require.NoError(t, err)
	require.NotNil(t, got.UserHash)
	assert.Equal(t, winner, *got.UserHash)

	ok, err := licenses.IsLicensed(ctx, winner)
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = licenses.IssueForPurchase(ctx, licensing.Purchaser{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)

	counters := trials.NewStore(db, zerolog.Nop())
	_, err = counters.Report(ctx, "device", 4)
	require.NoError(t, err)
	_, err = counters.Report(ctx, "device", 7)
	require.NoError(t, err)
	count, err := counters.Read(ctx, "device")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}
