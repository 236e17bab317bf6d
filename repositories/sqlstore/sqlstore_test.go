package sqlstore

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/upb/hitl-control-plane/config"
	"go.uber.org/zap"
)

// fakeClock is a settable time source shared by repositories under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// newSQLiteDB returns a lazily opened store in a per-test directory
func newSQLiteDB(t *testing.T, name string, schema Schema) *DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:      config.DriverSQLite,
		DSN:         filepath.Join(t.TempDir(), name),
		BusyTimeout: 5 * time.Second,
	}
	db := NewDB(cfg, schema, zap.NewNop())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return WrapDB(conn, DialectSQLite, zap.NewNop()), mock
}
