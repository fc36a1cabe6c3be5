package provision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kaif367/growupquotexapi/dns"
	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanOrder(t *testing.T) {
	env := newTestEnv(t)

	steps, err := Plan(env.Environment, env.deployment("api", "example.tk"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"packages", "interpreter", "checkout", "virtualenv", "requirements",
		"playwright", "firewall", "supervisor", "upstream", "dns", "nginx",
		"propagation", "certificate", "nginx-tls", "verify",
	}, names(steps))

	d := env.deployment("web", "web.example.tk")
	d.Topology = internal.TopologyPaaS
	steps, err = Plan(env.Environment, d)
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout", "manifests"}, names(steps))

	_, err = Plan(env.Environment, internal.Deployment{Name: "empty", Project: internal.Project{Dir: "/srv"}})
	assert.ErrorContains(t, err, "at least one domain")
}

func TestPackagesFor(t *testing.T) {
	d := internal.Deployment{Packages: []string{"htop", "git"}}
	assert.Equal(t, []string{"python3", "python3-venv", "python3-pip", "git", "nginx", "ufw", "htop"}, PackagesFor(d))

	d.TLS = internal.TLS{Enabled: true, Source: internal.SslSourceLetsEncrypt, DNSPlugin: "digitalocean"}
	assert.Contains(t, PackagesFor(d), "certbot")
	assert.Contains(t, PackagesFor(d), "python3-certbot-dns-digitalocean")

	d.TLS.DNSPlugin = "cloudflare"
	assert.NotContains(t, PackagesFor(d), "python3-certbot-dns-cloudflare")
}

func TestPackages(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.cmdr.
		On("dpkg-query", "install ok installed", nil).
		On("dpkg-query -W -f=${Status} nginx", "", errors.New("exit status 1"))

	step := &Packages{base: base{env: env.Environment, d: env.deployment("api", "example.tk")}, Names: []string{"git", "nginx"}}

	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Changed)
	assert.Equal(t, "missing nginx", drift.Reason)

	_, err = step.Apply(ctx)
	require.NoError(t, err)
	assert.True(t, env.cmdr.Ran("apt-get update"))
	assert.True(t, env.cmdr.Ran("apt-get install -y -q nginx"))

	env.Facts = host.Facts{OS: "linux", PlatformFamily: "rhel"}
	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Skip)
}

func TestInterpreterMissing(t *testing.T) {
	env := newTestEnv(t)
	env.cmdr.On("python3 --version", "", errors.New("executable file not found in $PATH"))

	step := &Interpreter{base{env: env.Environment, d: env.deployment("api", "example.tk")}}
	_, err := step.Check(context.Background())
	assert.ErrorContains(t, err, "python not found")

	env.cmdr.On("python3 --version", "Python 3.11.9\n", nil)
	drift, err := step.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Python 3.11.9", drift.Reason)
}

func TestCheckout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := env.deployment("api", "example.tk")
	d.Project.Repo = "https://github.com/example/api.git"

	step := &Checkout{base: base{env: env.Environment, d: d}}
	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Changed)

	_, err = step.Apply(ctx)
	require.NoError(t, err)
	assert.True(t, env.cmdr.Ran("git clone --branch main https://github.com/example/api.git "+d.Project.Dir))

	require.NoError(t, os.MkdirAll(filepath.Join(d.Project.Dir, ".git"), 0o755))
	env.cmdr.Reset()
	env.cmdr.
		On("git -C "+d.Project.Dir+" rev-parse HEAD", "aaaaaaaaaaaa\n", nil).
		On("git -C "+d.Project.Dir+" rev-parse origin/main", "bbbbbbbbbbbb\n", nil)

	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Changed)
	assert.True(t, env.cmdr.Ran("git -C "+d.Project.Dir+" fetch --quiet origin main"))

	_, err = step.Apply(ctx)
	require.NoError(t, err)
	assert.True(t, env.cmdr.Ran("git -C "+d.Project.Dir+" merge --ff-only origin/main"))

	env.cmdr.On("git -C "+d.Project.Dir+" rev-parse origin/main", "aaaaaaaaaaaa\n", nil)
	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.False(t, drift.Changed)

	d.Project.Repo = ""
	drift, err = (&Checkout{base: base{env: env.Environment, d: d}}).Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Skip)
}

func TestRequirementsFollowDigest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := env.deployment("api", "example.tk")
	d.Project.Playwright = true
	d.Project.PlaywrightBrowsersPath = "/opt/browsers"
	env.register(t, d)

	require.NoError(t, os.MkdirAll(d.Project.Dir, 0o755))
	reqPath := filepath.Join(d.Project.Dir, "requirements.txt")
	require.NoError(t, os.WriteFile(reqPath, []byte("fastapi\n"), 0o644))

	plan := func() []Step {
		b := base{env: env.Environment, d: d}
		return []Step{&Requirements{base: b}, &Playwright{base: b}}
	}

	runner := &Runner{Ledger: env.ledger}
	report, err := runner.Run(ctx, d, plan())
	require.NoError(t, err)
	assert.Equal(t, StatusChanged, report.Outcomes[0].Status)
	assert.Equal(t, StatusChanged, report.Outcomes[1].Status)

	venvPython := filepath.Join(d.Project.Dir, "venv/bin/python")
	assert.True(t, env.cmdr.Ran(venvPython+" -m pip install -r "+reqPath))
	assert.True(t, env.cmdr.Ran(venvPython+" -m playwright install --with-deps chromium"))

	var playwrightEnv []string
	for _, c := range env.cmdr.Commands() {
		if strings.Contains(c.String(), "playwright") {
			playwrightEnv = c.Env
		}
	}
	assert.Contains(t, playwrightEnv, "PLAYWRIGHT_BROWSERS_PATH=/opt/browsers")

	env.cmdr.Reset()
	report, err = runner.Run(ctx, d, plan())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, report.Outcomes[0].Status)
	assert.Equal(t, StatusOK, report.Outcomes[1].Status)
	assert.Empty(t, env.cmdr.History())

	require.NoError(t, os.WriteFile(reqPath, []byte("fastapi\nplaywright\n"), 0o644))
	report, err = runner.Run(ctx, d, plan())
	require.NoError(t, err)
	assert.Equal(t, StatusChanged, report.Outcomes[0].Status)
	assert.Equal(t, StatusChanged, report.Outcomes[1].Status)
}

func TestRequirementsMissingFile(t *testing.T) {
	env := newTestEnv(t)
	step := &Requirements{base: base{env: env.Environment, d: env.deployment("api", "example.tk")}}

	drift, err := step.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, drift.Skip)
}

const ufwActive = `Status: active

To                         Action      From
--                         ------      ----
22/tcp                     ALLOW       Anywhere
80/tcp                     ALLOW       Anywhere
22/tcp (v6)                ALLOW       Anywhere (v6)
443/tcp                    ALLOW       10.0.0.0/8
`

type fakeGroups struct {
	rules map[string][]FirewallRule
}

func (f *fakeGroups) Rules(_ context.Context, group string) ([]FirewallRule, error) {
	return f.rules[group], nil
}

func (f *fakeGroups) AddRule(_ context.Context, group string, rule FirewallRule) error {
	f.rules[group] = append(f.rules[group], rule)
	return nil
}

func TestFirewallUFW(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.cmdr.On("ufw status", ufwActive, nil)

	step := &Firewall{base: base{env: env.Environment, d: env.deployment("api", "example.tk")}}
	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Changed)
	assert.Equal(t, "closed ports 443,8000", drift.Reason)

	_, err = step.Apply(ctx)
	require.NoError(t, err)
	assert.True(t, env.cmdr.Ran("ufw allow 443/tcp"))
	assert.True(t, env.cmdr.Ran("ufw allow 8000/tcp"))
	assert.False(t, env.cmdr.Ran("ufw allow 22/tcp"))
	assert.False(t, env.cmdr.Ran("ufw --force enable"))

	env.cmdr.On("ufw status", "Status: inactive\n", nil)
	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.Contains(t, drift.Reason, "firewall inactive")

	env.cmdr.Reset()
	_, err = step.Apply(ctx)
	require.NoError(t, err)
	history := env.cmdr.History()
	assert.Equal(t, "ufw --force enable", history[len(history)-1])
}

func TestFirewallSourceAndGroup(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.cmdr.On("ufw status", ufwActive, nil)
	groups := &fakeGroups{rules: map[string][]FirewallRule{
		"grp": {{Port: 443, Subnet: "10.0.0.0", SubnetSize: 8}},
	}}
	env.FirewallGroups = groups

	d := env.deployment("api", "example.tk")
	d.Firewall.Source = "10.0.0.0/8"
	d.Firewall.Ports = []uint{443, 8000}
	d.Firewall.VultrGroup = "grp"

	step := &Firewall{base: base{env: env.Environment, d: d}}
	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, "closed ports 8000; missing group rules for 8000", drift.Reason)

	_, err = step.Apply(ctx)
	require.NoError(t, err)
	assert.True(t, env.cmdr.Ran("ufw allow proto tcp from 10.0.0.0/8 to any port 8000"))
	require.Len(t, groups.rules["grp"], 2)
	assert.Equal(t, FirewallRule{Port: 8000, Subnet: "10.0.0.0", SubnetSize: 8, Notes: "apideploy api"}, groups.rules["grp"][1])
}

func TestFirewallNetsh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.Facts = host.Facts{OS: "windows"}
	env.cmdr.
		On("netsh advfirewall firewall show rule", "Rule Name: x", nil).
		On("netsh advfirewall firewall show rule name=apideploy-api-8000", "No rules match the specified criteria.", errors.New("exit status 1"))

	step := &Firewall{base: base{env: env.Environment, d: env.deployment("api", "example.tk")}}
	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, "closed ports 8000", drift.Reason)

	_, err = step.Apply(ctx)
	require.NoError(t, err)
	assert.True(t, env.cmdr.Ran("netsh advfirewall firewall add rule name=apideploy-api-8000 dir=in action=allow protocol=TCP localport=8000 remoteip=any"))
}

func TestSupervisorSystemd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := env.deployment("api", "example.tk")
	env.register(t, d)

	step := &Supervisor{base: base{env: env.Environment, d: d}}
	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Changed)

	_, err = step.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"systemctl daemon-reload",
		"systemctl enable api.service",
		"systemctl restart api.service",
	}, env.cmdr.History())

	unit, err := os.ReadFile(filepath.Join(env.Settings.SYSTEMD_UNIT_DIR, "api.service"))
	require.NoError(t, err)
	assert.Contains(t, string(unit), "Restart=always\n")
	assert.Contains(t, string(unit), "RestartSec=10\n")
	assert.Contains(t, string(unit), "WorkingDirectory="+d.Project.Dir+"\n")

	artifacts, err := env.ledger.Artifacts(ctx, "api")
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, ArtifactSystemd, artifacts[0].Kind)

	// Unit in place but the service died
	env.cmdr.On("systemctl is-active", "failed\n", errors.New("exit status 3"))
	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, "api.service is failed", drift.Reason)

	env.cmdr.On("systemctl is-active", "active\n", nil)
	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.False(t, drift.Changed)
}

func TestSupervisorTaskScheduler(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.Facts = host.Facts{OS: "windows"}
	d := env.deployment("api", "example.tk")
	require.Equal(t, internal.SupervisorTaskScheduler, d.Supervisor.Kind)
	env.register(t, d)

	step := &Supervisor{base: base{env: env.Environment, d: d}}
	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Changed)

	_, err = step.Apply(ctx)
	require.NoError(t, err)

	xmlPath := filepath.Join(env.Settings.TASK_XML_DIR, "api.xml")
	assert.True(t, env.cmdr.Ran("schtasks /Create /TN apideploy-api /XML "+xmlPath+" /F"))
	assert.True(t, env.cmdr.Ran("schtasks /Run /TN apideploy-api"))

	raw, err := os.ReadFile(xmlPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFE}, raw[:2], "UTF-16LE byte order mark")

	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.False(t, drift.Changed)

	env.cmdr.On("schtasks /Query", "", errors.New("exit status 1"))
	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task apideploy-api not registered", drift.Reason)
}

func TestUpstreamAndVerify(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/status" {
			fmt.Fprint(w, `{"connected": true, "balance": 10}`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := env.deployment("api", serverHost(srv))
	d.Port = serverPort(t, srv)

	upstream := &Upstream{base{env: env.Environment, d: d}}
	drift, err := upstream.Check(ctx)
	require.NoError(t, err)
	assert.False(t, drift.Changed, "a 404 still means the process is up")

	verify := &Verify{base: base{env: env.Environment, d: d}}
	drift, err = verify.Check(ctx)
	require.NoError(t, err)
	assert.False(t, drift.Changed)
	assert.Contains(t, drift.Reason, "answered 200, connected=true")

	srv.Close()

	drift, err = upstream.Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Changed)
	_, err = upstream.Apply(ctx)
	assert.ErrorContains(t, err, "never answered")

	_, err = verify.Apply(ctx)
	assert.ErrorContains(t, err, "verification of")

	public := false
	d.Verify.Public = &public
	drift, err = (&Verify{base: base{env: env.Environment, d: d}}).Check(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Skip)
}

type memProvider struct {
	records map[string][]string
}

func (m *memProvider) Name() string { return "mem" }

func (m *memProvider) Lookup(_ context.Context, fqdn string) ([]string, error) {
	return m.records[fqdn], nil
}

func (m *memProvider) SetA(_ context.Context, fqdn, ip string) error {
	m.records[fqdn] = []string{ip}
	return nil
}

func (m *memProvider) SetTXT(context.Context, string, string) error { return nil }

func (m *memProvider) ClearTXT(context.Context, string) error { return nil }

func TestDNSRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	provider := &memProvider{records: map[string][]string{
		"example.tk":     {"198.51.100.1"},
		"www.example.tk": {"203.0.113.5"},
	}}
	env.DNS = func(internal.Deployment) (dns.Provider, error) { return provider, nil }

	d := env.deployment("api", "example.tk", "www.example.tk")
	d.HostIP = "203.0.113.5"
	d.DNS.Provider = internal.DNSCloudflare

	step := &DNSRecords{base: base{env: env.Environment, d: d}, addr: &address{env: env.Environment, d: d}}
	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, "example.tk not pointing at 203.0.113.5", drift.Reason)

	_, err = step.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"203.0.113.5"}, provider.records["example.tk"])

	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.False(t, drift.Changed)
}

func TestDNSRecordsDiscoversIP(t *testing.T) {
	env := newTestEnv(t)
	provider := &memProvider{records: map[string][]string{}}
	env.DNS = func(internal.Deployment) (dns.Provider, error) { return provider, nil }
	env.PublicIP = func(context.Context) (string, error) { return "203.0.113.9", nil }

	d := env.deployment("api", "example.tk")
	d.DNS.Provider = internal.DNSDuckDNS

	step := &DNSRecords{base: base{env: env.Environment, d: d}, addr: &address{env: env.Environment, d: d}}
	drift, err := step.Check(context.Background())
	require.NoError(t, err)
	assert.Contains(t, drift.Reason, "203.0.113.9")

	d.DNS.Provider = internal.DNSNone
	drift, err = (&DNSRecords{base: base{env: env.Environment, d: d}}).Check(context.Background())
	require.NoError(t, err)
	assert.True(t, drift.Skip)
}

func TestManifests(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.Fs = afero.NewMemMapFs()

	d := internal.Deployment{
		Name:     "web",
		Domains:  []string{"web.example.tk"},
		Topology: internal.TopologyPaaS,
		Project:  internal.Project{Dir: "/app", PlaywrightBrowsersPath: "/opt/render/browsers"},
	}.WithDefaults("linux")
	env.register(t, d)

	step := &Manifests{base: base{env: env.Environment, d: d}}
	drift, err := step.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Procfile, render.yaml, runtime.txt out of date", drift.Reason)

	_, err = step.Apply(ctx)
	require.NoError(t, err)

	procfile, err := afero.ReadFile(env.Fs, "/app/Procfile")
	require.NoError(t, err)
	assert.Equal(t, "web: python api_server_simple.py\n", string(procfile))

	runtime, err := afero.ReadFile(env.Fs, "/app/runtime.txt")
	require.NoError(t, err)
	assert.Equal(t, "python-3.11.9\n", string(runtime))

	blueprint, err := afero.ReadFile(env.Fs, "/app/render.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(blueprint), "PLAYWRIGHT_BROWSERS_PATH")

	drift, err = step.Check(ctx)
	require.NoError(t, err)
	assert.False(t, drift.Changed)
}
