package provision

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kaif367/growupquotexapi/dns"
	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

// sideEffects runs the fake commander and then a hook for matching commands
type sideEffects struct {
	*host.FakeCommander
	hooks map[string]func(host.Cmd)
}

func (s *sideEffects) Run(ctx context.Context, c host.Cmd) ([]byte, error) {
	out, err := s.FakeCommander.Run(ctx, c)
	if err == nil {
		for prefix, hook := range s.hooks {
			if strings.HasPrefix(c.String(), prefix) {
				hook(c)
			}
		}
	}
	return out, err
}

func newLedger(t *testing.T) *store.Store {
	t.Helper()

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	s.Now = func() time.Time { return testNow }
	return s
}

func testSettings(root string) internal.Settings {
	return internal.Settings{
		NGINX_SITES_AVAILABLE:   filepath.Join(root, "nginx/sites-available"),
		NGINX_SITES_ENABLED:     filepath.Join(root, "nginx/sites-enabled"),
		SYSTEMD_UNIT_DIR:        filepath.Join(root, "systemd"),
		TASK_XML_DIR:            filepath.Join(root, "tasks"),
		LETSENCRYPT_LIVE_DIR:    filepath.Join(root, "letsencrypt/live"),
		LETSENCRYPT_WEBROOT:     filepath.Join(root, "acme"),
		LETSENCRYPT_HOOKS_DIR:   filepath.Join(root, "bin"),
		CERT_RENEW_BEFORE:       720 * time.Hour,
		DNS_PROPAGATION_TIMEOUT: time.Second,
	}
}

type testEnv struct {
	*Environment
	cmdr   *host.FakeCommander
	ledger *store.Store
	root   string
}

// newTestEnv builds a debian host environment. OsFs rooted in a temp
// dir is used because the nginx step needs symlinks.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	templates, err := internal.GetTemplates()
	require.NoError(t, err)

	root := t.TempDir()
	cmdr := host.NewFakeCommander()
	ledger := newLedger(t)

	env := &Environment{
		Fs:        afero.NewOsFs(),
		Commander: cmdr,
		Facts:     host.Facts{OS: "linux", Platform: "ubuntu", PlatformFamily: "debian"},
		Settings:  testSettings(root),
		Ledger:    ledger,
		Templates: templates,
		Resolver:  dns.NewResolver(""),
		NewBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
		Now: func() time.Time { return testNow },
	}

	return &testEnv{Environment: env, cmdr: cmdr, ledger: ledger, root: root}
}

func (e *testEnv) deployment(name string, domains ...string) internal.Deployment {
	d := internal.Deployment{
		Name:    name,
		Domains: domains,
		Project: internal.Project{Dir: filepath.Join(e.root, "srv", name)},
	}.WithDefaults(e.goos())
	return d
}

// register stores d so runs can be recorded against it
func (e *testEnv) register(t *testing.T, d internal.Deployment) {
	t.Helper()
	_, err := e.ledger.UpsertDeployment(context.Background(), "/deploy/"+d.Name+".toml", d)
	require.NoError(t, err)
}

func serverPort(t *testing.T, srv *httptest.Server) uint {
	t.Helper()

	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	n, err := strconv.ParseUint(port, 10, 16)
	require.NoError(t, err)
	return uint(n)
}

func serverHost(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func names(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name()
	}
	return out
}

func newStatusServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"connected": true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}
