package internal

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Config is what the templates are executed with
type Config struct {
	Deployment

	Upstream string
	// Directory served at /.well-known/acme-challenge
	Webroot string

	// Set when the certificate exists and the TLS server block should be rendered
	WithTLS  bool
	CertPath string
	KeyPath  string

	// systemd
	ExecStart string
	Env       []EnvVar

	// Task Scheduler
	TaskCommand     string
	TaskArguments   string
	RestartInterval string
}

type EnvVar struct {
	Key   string
	Value string
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewConfig computes the template fields derived from a defaulted deployment
func NewConfig(d Deployment, settings Settings, goos string) Config {
	config := Config{
		Deployment: d,
		Upstream:   d.UpstreamURL(),
		Webroot:    path.Join(settings.LETSENCRYPT_WEBROOT, d.Name),
	}

	python := VenvPython(d, goos)
	entrypoint := ProjectPath(d, goos, d.Project.Entrypoint)

	config.ExecStart = python + " " + entrypoint

	// Task Scheduler has no environment block, so the variables are set by cmd.exe
	var line strings.Builder
	fmt.Fprintf(&line, `/c set "PORT=%d"`, d.Port)
	if d.Project.PlaywrightBrowsersPath != "" {
		fmt.Fprintf(&line, ` && set "PLAYWRIGHT_BROWSERS_PATH=%s"`, d.Project.PlaywrightBrowsersPath)
	}
	for _, key := range sortedKeys(d.Project.Env) {
		config.Env = append(config.Env, EnvVar{Key: key, Value: d.Project.Env[key]})
		fmt.Fprintf(&line, ` && set "%s=%s"`, key, d.Project.Env[key])
	}
	fmt.Fprintf(&line, ` && "%s" "%s"`, python, entrypoint)

	config.TaskCommand = "cmd.exe"
	config.TaskArguments = line.String()
	config.RestartInterval = restartInterval(d.Supervisor.RestartSec)

	return config
}

// VenvPython is the interpreter inside the project virtualenv
func VenvPython(d Deployment, goos string) string {
	if goos == "windows" {
		return ProjectPath(d, goos, `venv\Scripts\python.exe`)
	}
	return ProjectPath(d, goos, "venv/bin/python")
}

// ProjectPath joins elem onto the project dir with the separator of goos
func ProjectPath(d Deployment, goos string, elem string) string {
	if goos == "windows" {
		return strings.TrimRight(d.Project.Dir, `\`) + `\` + elem
	}
	return path.Join(d.Project.Dir, elem)
}

// Task Scheduler refuses restart intervals below one minute
func restartInterval(seconds int) string {
	minutes := (seconds + 59) / 60
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("PT%dM", minutes)
}

func GetTemplates() (*template.Template, error) {
	t := template.New("configs").Funcs(sprig.TxtFuncMap()).Funcs(template.FuncMap{
		"xml": xmlEscape,
	})

	parsers := []func(*template.Template) error{
		parseProxyLocation,
		parseNginx,
		parseSystemd,
		parseTask,
		parseProcfile,
	}

	for _, parse := range parsers {
		if err := parse(t); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// Render executes a single named template
func Render(t *template.Template, name string, data any) ([]byte, error) {
	var b bytes.Buffer
	if err := t.ExecuteTemplate(&b, name, data); err != nil {
		return nil, fmt.Errorf("could not render %s: %w", name, err)
	}
	return b.Bytes(), nil
}

func xmlEscape(s string) (string, error) {
	var b bytes.Buffer
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

func parseProxyLocation(t *template.Template) error {
	nt := t.New("proxyLocation")
	_, err := nt.Parse(`
    location / {
        proxy_pass {{ .Upstream }};

        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
{{- if eq .Proxy "websocket" }}

        proxy_http_version 1.1;
        proxy_set_header Upgrade $http_upgrade;
        proxy_set_header Connection "upgrade";
        proxy_read_timeout 86400;
{{- end }}
    }`)
	return err
}

func parseNginx(t *template.Template) error {
	nt := t.New("nginx")
	_, err := nt.Parse(`# Managed by apideploy ({{ .Name }}). Local changes are overwritten.
server {
    listen 80;
    listen [::]:80;
    server_name {{ join " " .Domains }};

    location ^~ /.well-known/acme-challenge {
        default_type "text/plain";
        root {{ .Webroot }};
        allow all;
    }
{{ if and .WithTLS .TLS.HttpsOnly }}
    location / {
        return 301 https://$host$request_uri;
    }
{{- else }}
{{ template "proxyLocation" . }}
{{- end }}
}
{{- if .WithTLS }}

server {
    listen 443 ssl http2;
    listen [::]:443 ssl http2;
    server_name {{ join " " .Domains }};

    ssl_certificate {{ .CertPath }};
    ssl_certificate_key {{ .KeyPath }};
    ssl_session_cache shared:SSL:10m;
    ssl_session_timeout 5m;
    ssl_protocols TLSv1.2 TLSv1.3;
    ssl_prefer_server_ciphers on;
    add_header Strict-Transport-Security max-age=15768000;
{{ template "proxyLocation" . }}
}
{{- end }}
`)
	return err
}

func parseSystemd(t *template.Template) error {
	nt := t.New("systemd")
	_, err := nt.Parse(`# Managed by apideploy ({{ .Name }}). Local changes are overwritten.
[Unit]
Description={{ .Name }} API server
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
{{- with .Supervisor.User }}
User={{ . }}
{{- end }}
WorkingDirectory={{ .Project.Dir }}
Environment="PORT={{ .Port }}"
{{- with .Project.PlaywrightBrowsersPath }}
Environment="PLAYWRIGHT_BROWSERS_PATH={{ . }}"
{{- end }}
{{- range .Env }}
Environment="{{ .Key }}={{ .Value }}"
{{- end }}
ExecStart={{ .ExecStart }}
Restart=always
RestartSec={{ .Supervisor.RestartSec }}

[Install]
WantedBy=multi-user.target
`)
	return err
}

func parseTask(t *template.Template) error {
	nt := t.New("task")
	_, err := nt.Parse(`<?xml version="1.0" encoding="UTF-16"?>
<Task version="1.2" xmlns="http://schemas.microsoft.com/windows/2004/02/mit/task">
  <RegistrationInfo>
    <Description>{{ xml .Name }} API server, managed by apideploy</Description>
  </RegistrationInfo>
  <Triggers>
    <BootTrigger>
      <Enabled>true</Enabled>
    </BootTrigger>
  </Triggers>
  <Principals>
    <Principal id="Author">
{{- if .Supervisor.User }}
      <UserId>{{ xml .Supervisor.User }}</UserId>
      <LogonType>Password</LogonType>
{{- else }}
      <UserId>S-1-5-18</UserId>
{{- end }}
      <RunLevel>HighestAvailable</RunLevel>
    </Principal>
  </Principals>
  <Settings>
    <MultipleInstancesPolicy>IgnoreNew</MultipleInstancesPolicy>
    <DisallowStartIfOnBatteries>false</DisallowStartIfOnBatteries>
    <StopIfGoingOnBatteries>false</StopIfGoingOnBatteries>
    <ExecutionTimeLimit>PT0S</ExecutionTimeLimit>
    <RestartOnFailure>
      <Interval>{{ .RestartInterval }}</Interval>
      <Count>999</Count>
    </RestartOnFailure>
    <Enabled>true</Enabled>
  </Settings>
  <Actions Context="Author">
    <Exec>
      <Command>{{ xml .TaskCommand }}</Command>
      <Arguments>{{ xml .TaskArguments }}</Arguments>
      <WorkingDirectory>{{ xml .Project.Dir }}</WorkingDirectory>
    </Exec>
  </Actions>
</Task>
`)
	return err
}

func parseProcfile(t *template.Template) error {
	nt := t.New("procfile")
	_, err := nt.Parse("web: {{ .PaaS.StartCommand }}\n")
	if err != nil {
		return err
	}

	nt = t.New("runtime")
	_, err = nt.Parse("python-{{ .PaaS.PythonVersion }}\n")
	return err
}
