package workers

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	s.Now = func() time.Time { return testNow }
	return s
}

func testSettings() internal.Settings {
	return internal.Settings{
		DEPLOY_DIR:         "/deploy",
		CONFIG_RELOAD_TIME: time.Second,
		RECONCILE_INTERVAL: time.Hour,
		HEALTH_INTERVAL:    time.Second,
	}
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}
