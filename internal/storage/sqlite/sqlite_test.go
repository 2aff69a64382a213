//go:build sqlite

package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrGSommer/vacation-planner-sub001/internal/storage/storetest"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "planner.db")
	s, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dsn
}

func TestStore_Conformance(t *testing.T) {
	s, _ := newTestStore(t)
	storetest.Run(t, s)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s, dsn := newTestStore(t)
	require.NoError(t, runMigrations(s.db))

	var applied int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 6, applied)

	status, err := Status(dsn)
	require.NoError(t, err)
	assert.True(t, strings.Contains(status, "schema_version=6"), status)
}

func TestCreditBalanceCheckConstraint(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.db.ExecContext(context.Background(),
		`INSERT INTO credit_accounts (user_id, balance, monthly_quota, updated_at) VALUES ('neg', -1, 0, '')`)
	require.Error(t, err)
}
