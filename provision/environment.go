package provision

import (
	"context"
	"net/http"
	"text/template"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kaif367/growupquotexapi/dns"
	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/spf13/afero"
)

// Environment is everything steps need to inspect and change the host
type Environment struct {
	Fs        afero.Fs
	Commander host.Commander
	Facts     host.Facts
	Settings  internal.Settings
	Ledger    Ledger
	Templates *template.Template
	HTTP      *http.Client

	// Builds the DNS provider of a deployment
	DNS      func(d internal.Deployment) (dns.Provider, error)
	Resolver dns.Lookup
	PublicIP func(ctx context.Context) (string, error)

	// Optional, mirrors firewall rules into a cloud firewall group
	FirewallGroups FirewallGroups

	// Retry policy of the upstream and verify waits
	NewBackOff func() backoff.BackOff
	Now        func() time.Time
}

func (e *Environment) goos() string {
	return e.Facts.OS
}

func (e *Environment) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Environment) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if e.NewBackOff != nil {
		b = e.NewBackOff()
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.MaxElapsedTime = 2 * time.Minute
		b = exp
	}
	return backoff.WithContext(b, ctx)
}

func (e *Environment) httpClient() *http.Client {
	if e.HTTP != nil {
		return e.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (e *Environment) config(d internal.Deployment) internal.Config {
	return internal.NewConfig(d, e.Settings, e.goos())
}

func (e *Environment) render(name string, data interface{}) ([]byte, error) {
	return internal.Render(e.Templates, name, data)
}

func (e *Environment) run(ctx context.Context, cmd host.Cmd) (string, error) {
	out, err := e.Commander.Run(ctx, cmd)
	return string(out), err
}
