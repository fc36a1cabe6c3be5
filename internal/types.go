package internal

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"net"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Settings struct {
	TESTING bool `env:"TESTING"`
	DRY_RUN bool `env:"DRY_RUN"`

	EMAIL string `env:"EMAIL"` // for Let's Encrypt

	DB_PATH            string        `env:"DB_PATH,default=./apideploy.db"`
	DEPLOY_DIR         string        `env:"DEPLOY_DIR,default=./deployments"`
	CONFIG_RELOAD_TIME time.Duration `env:"CONFIG_RELOAD_TIME,default=5s"`
	RECONCILE_INTERVAL time.Duration `env:"RECONCILE_INTERVAL,default=1h"`
	HEALTH_INTERVAL    time.Duration `env:"HEALTH_INTERVAL,default=30s"`
	CERT_RENEW_BEFORE  time.Duration `env:"CERT_RENEW_BEFORE,default=720h"` // 30 days

	NGINX_SITES_AVAILABLE string `env:"NGINX_SITES_AVAILABLE,default=/etc/nginx/sites-available"`
	// Leave empty on distributions that read sites straight from conf.d
	NGINX_SITES_ENABLED string `env:"NGINX_SITES_ENABLED,default=/etc/nginx/sites-enabled"`
	SYSTEMD_UNIT_DIR    string `env:"SYSTEMD_UNIT_DIR,default=/etc/systemd/system"`
	TASK_XML_DIR        string `env:"TASK_XML_DIR,default=C:\\ProgramData\\apideploy"`

	LETSENCRYPT_LIVE_DIR        string `env:"LETSENCRYPT_LIVE_DIR,default=/etc/letsencrypt/live"`
	LETSENCRYPT_WEBROOT         string `env:"LETSENCRYPT_WEBROOT,default=/var/www/acme"`
	LETSENCRYPT_CREDS_DIR       string `env:"LETSENCRYPT_CREDS_DIR,default=./letsencrypt-credentials"`
	LETSENCRYPT_DNS_PROPAGATION int    `env:"LETSENCRYPT_DNS_PROPAGATION,default=120"`
	LETSENCRYPT_HOOKS_DIR       string `env:"LETSENCRYPT_HOOKS_DIR,default=./bin"`

	DNS_PROPAGATION_TIMEOUT time.Duration `env:"DNS_PROPAGATION_TIMEOUT,default=10m"`
	DNS_RESOLVER            string        `env:"DNS_RESOLVER,default=1.1.1.1:53"`
	PUBLIC_IP_URL           string        `env:"PUBLIC_IP_URL,default=https://api.ipify.org"`

	CLOUDFLARE_API_TOKEN string `env:"CLOUDFLARE_API_TOKEN"`
	DUCKDNS_TOKEN        string `env:"DUCKDNS_TOKEN"`
	NOIP_USERNAME        string `env:"NOIP_USERNAME"`
	NOIP_PASSWORD        string `env:"NOIP_PASSWORD"`
	VULTR_API_KEY        string `env:"VULTR_API_KEY"`

	SENTRY_DSN   string `env:"SENTRY_DSN"`
	METRICS_ADDR string `env:"METRICS_ADDR"`
}

const (
	ProxyWebsocket = "websocket"
	ProxyPlain     = "plain"

	TopologyHost = "host"
	TopologyPaaS = "paas"

	SupervisorSystemd       = "systemd"
	SupervisorTaskScheduler = "taskscheduler"

	SslSourceLetsEncrypt = "letsencrypt"
	SslSourceManual      = "manual"

	DNSNone       = "none"
	DNSCloudflare = "cloudflare"
	DNSDuckDNS    = "duckdns"
	DNSNoIP       = "noip"
	DNSVultr      = "vultr"
)

type DeploymentMap map[string]Deployment

// Deployment is the desired state of one API host
type Deployment struct {
	// Filled from the table key when loading a file
	Name string `toml:"-"`

	// Required. The first domain is also the certificate name
	Domains []string
	// Public address the domains should resolve to.
	// Discovered when empty and a DNS provider is configured.
	HostIP string
	// Local port the API listens on. Default 8000
	Port uint

	// websocket (default) or plain
	Proxy string
	// host (default) provisions this machine. paas only writes platform manifests
	Topology string

	Project    Project
	Packages   []string
	Firewall   Firewall
	DNS        DNS
	TLS        TLS
	Supervisor Supervisor
	PaaS       PaaS
	Verify     Verify
}

type Project struct {
	Repo   string
	Branch string // Default "main"
	Dir    string // REQUIRED: checkout path, also the working directory

	Entrypoint   string // Default "api_server.py"
	Interpreter  string // Default python3 (python on windows)
	Requirements string // Default "requirements.txt", relative to Dir

	Playwright             bool
	PlaywrightBrowsersPath string

	// Extra environment for the supervised process
	Env map[string]string
}

type Firewall struct {
	Ports  []uint // Default 22, 80, 443 and Port
	Source string // Default 0.0.0.0/0
	// If set, the rules are also mirrored into this Vultr firewall group
	VultrGroup string
}

type DNS struct {
	Provider string // none (default), cloudflare, duckdns, noip, vultr
	TTL      int
	// Cloudflare only
	Proxied bool
}

type TLS struct {
	Enabled   bool
	Source    string // letsencrypt (default) or manual
	HttpsOnly bool   // Redirect http to https

	// If this is provided, the appropriate certbot dns plugin is used.
	// "cloudflare", "duckdns" and "vultr" are served by the built-in hooks instead.
	DNSPlugin string

	CertPath string // If using manual source
	KeyPath  string // If using manual source
}

type Supervisor struct {
	Kind       string // systemd or taskscheduler, detected from the host when empty
	User       string
	RestartSec int // Default 10
}

type PaaS struct {
	Platform      string // Default "render"
	PythonVersion string // Default "3.11.9"
	StartCommand  string
	BuildCommand  string
}

type Verify struct {
	Path string // Default "/status"
	// Pointer so an explicit false survives defaulting
	Public *bool
}

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// WithDefaults returns a copy with every unset field filled in.
// goos picks the platform specific defaults.
func (d Deployment) WithDefaults(goos string) Deployment {
	if goos == "" {
		goos = runtime.GOOS
	}

	if d.Port == 0 {
		d.Port = 8000
	}
	if d.Proxy == "" {
		d.Proxy = ProxyWebsocket
	}
	if d.Topology == "" {
		d.Topology = TopologyHost
	}

	if d.Project.Branch == "" {
		d.Project.Branch = "main"
	}
	if d.Project.Entrypoint == "" {
		d.Project.Entrypoint = "api_server.py"
		if d.Topology == TopologyPaaS {
			d.Project.Entrypoint = "api_server_simple.py"
		}
	}
	if d.Project.Interpreter == "" {
		d.Project.Interpreter = "python3"
		if goos == "windows" {
			d.Project.Interpreter = "python"
		}
	}
	if d.Project.Requirements == "" {
		d.Project.Requirements = "requirements.txt"
	}

	if len(d.Firewall.Ports) == 0 {
		d.Firewall.Ports = []uint{22, 80, 443, d.Port}
	}
	if d.Firewall.Source == "" {
		d.Firewall.Source = "0.0.0.0/0"
	}

	if d.DNS.Provider == "" {
		d.DNS.Provider = DNSNone
	}
	if d.DNS.TTL == 0 {
		d.DNS.TTL = 300
	}

	if d.TLS.Enabled && d.TLS.Source == "" {
		d.TLS.Source = SslSourceLetsEncrypt
	}

	if d.Supervisor.Kind == "" {
		d.Supervisor.Kind = SupervisorSystemd
		if goos == "windows" {
			d.Supervisor.Kind = SupervisorTaskScheduler
		}
	}
	if d.Supervisor.RestartSec == 0 {
		d.Supervisor.RestartSec = 10
	}

	if d.PaaS.Platform == "" {
		d.PaaS.Platform = "render"
	}
	if d.PaaS.PythonVersion == "" {
		d.PaaS.PythonVersion = "3.11.9"
	}
	if d.PaaS.StartCommand == "" {
		d.PaaS.StartCommand = "python " + d.Project.Entrypoint
	}
	if d.PaaS.BuildCommand == "" {
		d.PaaS.BuildCommand = "pip install -r " + d.Project.Requirements
	}

	if d.Verify.Path == "" {
		d.Verify.Path = "/status"
	}
	if d.Verify.Public == nil {
		public := true
		d.Verify.Public = &public
	}

	return d
}

func (d Deployment) Validate() error {
	if !nameRegex.MatchString(d.Name) {
		return fmt.Errorf("invalid deployment name %q", d.Name)
	}

	if len(d.Domains) == 0 {
		return fmt.Errorf("deployment %q: at least one domain is required", d.Name)
	}
	for _, domain := range d.Domains {
		if domain == "" || strings.ContainsAny(domain, " \t\n;{}") {
			return fmt.Errorf("deployment %q: invalid domain %q", d.Name, domain)
		}
	}

	if d.HostIP != "" && net.ParseIP(d.HostIP) == nil {
		return fmt.Errorf("deployment %q: invalid host ip %q", d.Name, d.HostIP)
	}

	if d.Port == 0 || d.Port > 65535 {
		return fmt.Errorf("deployment %q: invalid port %d", d.Name, d.Port)
	}
	for _, port := range d.Firewall.Ports {
		if port == 0 || port > 65535 {
			return fmt.Errorf("deployment %q: invalid firewall port %d", d.Name, port)
		}
	}

	switch d.Proxy {
	case ProxyWebsocket, ProxyPlain:
	default:
		return fmt.Errorf("deployment %q: unknown proxy type %q", d.Name, d.Proxy)
	}

	switch d.Topology {
	case TopologyHost:
		if d.Project.Dir == "" {
			return fmt.Errorf("deployment %q: project dir is required", d.Name)
		}
	case TopologyPaaS:
	default:
		return fmt.Errorf("deployment %q: unknown topology %q", d.Name, d.Topology)
	}

	switch d.DNS.Provider {
	case DNSNone, DNSCloudflare, DNSDuckDNS, DNSNoIP, DNSVultr:
	default:
		return fmt.Errorf("deployment %q: unknown dns provider %q", d.Name, d.DNS.Provider)
	}

	if d.TLS.Enabled {
		switch d.TLS.Source {
		case SslSourceLetsEncrypt:
		case SslSourceManual:
			if d.TLS.CertPath == "" || d.TLS.KeyPath == "" {
				return fmt.Errorf("deployment %q: manual TLS requires CertPath and KeyPath", d.Name)
			}
		default:
			return fmt.Errorf("deployment %q: unknown SSL source %q", d.Name, d.TLS.Source)
		}
	}

	switch d.Supervisor.Kind {
	case SupervisorSystemd, SupervisorTaskScheduler:
	default:
		return fmt.Errorf("deployment %q: unknown supervisor %q", d.Name, d.Supervisor.Kind)
	}

	if d.Supervisor.RestartSec <= 0 {
		return fmt.Errorf("deployment %q: RestartSec must be positive", d.Name)
	}

	if d.Supervisor.Kind == SupervisorTaskScheduler {
		if err := d.validateTaskArguments(); err != nil {
			return err
		}
	}

	return nil
}

// cmd.exe interprets these even inside quotes
const cmdMetaChars = "\"&|<>^%\r\n"

// validateTaskArguments rejects what cannot be quoted in the cmd.exe line
// that sets the environment of a scheduled task
func (d Deployment) validateTaskArguments() error {
	if strings.ContainsAny(d.Project.Dir, cmdMetaChars) {
		return fmt.Errorf("deployment %q: project dir %q cannot be passed to cmd.exe", d.Name, d.Project.Dir)
	}
	if strings.ContainsAny(d.Project.PlaywrightBrowsersPath, cmdMetaChars) {
		return fmt.Errorf("deployment %q: PlaywrightBrowsersPath %q cannot be passed to cmd.exe", d.Name, d.Project.PlaywrightBrowsersPath)
	}

	for key, value := range d.Project.Env {
		if key == "" || strings.ContainsAny(key, cmdMetaChars+"= \t") {
			return fmt.Errorf("deployment %q: env name %q cannot be passed to cmd.exe", d.Name, key)
		}
		if strings.ContainsAny(value, cmdMetaChars) {
			return fmt.Errorf("deployment %q: env %s has characters cmd.exe cannot take", d.Name, key)
		}
	}

	return nil
}

// UpstreamURL is where the supervised process listens
func (d Deployment) UpstreamURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", d.Port)
}

// PublicURL is the first domain, over https when TLS is enabled
func (d Deployment) PublicURL() string {
	scheme := "http"
	if d.TLS.Enabled {
		scheme = "https"
	}
	return scheme + "://" + d.Domains[0]
}

// LoadFile decodes every deployment in a TOML file
func LoadFile(path string) (DeploymentMap, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read file %q: %w", path, err)
	}

	deployments, err := Decode(content)
	if err != nil {
		return nil, fmt.Errorf("could not decode file %q: %w", path, err)
	}
	return deployments, nil
}

// Decode parses TOML content and names each deployment after its table
func Decode(content []byte) (DeploymentMap, error) {
	var deployments DeploymentMap
	if _, err := toml.Decode(string(content), &deployments); err != nil {
		return nil, err
	}

	for name, d := range deployments {
		d.Name = name
		deployments[name] = d
	}

	return deployments, nil
}

// Value implements the driver Valuer interface.
func (d Deployment) Value() (driver.Value, error) {
	buf := &bytes.Buffer{}
	err := toml.NewEncoder(buf).Encode(d)
	return buf.String(), err
}

// Scan implements the Scanner interface.
func (d *Deployment) Scan(value interface{}) error {
	var err error

	switch x := value.(type) {
	case string:
		_, err = toml.Decode(x, d)
	case []byte:
		_, err = toml.Decode(string(x), d)
	case nil:
		return nil

	default:
		err = fmt.Errorf("cannot scan type %T into type Deployment: %v", value, value)
	}

	return err
}
