package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/kaif367/growupquotexapi/dns"
	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/provision"
	"github.com/kaif367/growupquotexapi/store"
	"github.com/spf13/afero"
	"github.com/stephenafamo/janus/monitor"
	jSentry "github.com/stephenafamo/janus/monitor/sentry"
)

func openStore(ctx context.Context, settings internal.Settings) (*store.Store, *sql.DB, error) {
	db, err := store.Open(ctx, settings.DB_PATH)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open ledger at %s: %w", settings.DB_PATH, err)
	}

	return store.New(db), db, nil
}

func credentials(settings internal.Settings) dns.Credentials {
	return dns.Credentials{
		CloudflareToken: settings.CLOUDFLARE_API_TOKEN,
		DuckDNSToken:    settings.DUCKDNS_TOKEN,
		NoIPUsername:    settings.NOIP_USERNAME,
		NoIPPassword:    settings.NOIP_PASSWORD,
		VultrAPIKey:     settings.VULTR_API_KEY,
		Resolver:        settings.DNS_RESOLVER,
	}
}

// newEnvironment wires the real host: exec, the os filesystem and live DNS
func newEnvironment(ctx context.Context, settings internal.Settings, ledger provision.Ledger) (*provision.Environment, error) {
	templates, err := internal.GetTemplates()
	if err != nil {
		return nil, fmt.Errorf("could not get templates: %w", err)
	}

	facts, err := host.Detect(ctx)
	if err != nil {
		// Fall back to what the binary was built for
		log.Printf("WARNING: %v, assuming %s\n", err, facts.OS)
	}

	creds := credentials(settings)

	ipClient := retryablehttp.NewClient()
	ipClient.RetryMax = 3
	ipClient.Logger = nil

	env := &provision.Environment{
		Fs:        afero.NewOsFs(),
		Commander: host.Exec{},
		Facts:     facts,
		Settings:  settings,
		Ledger:    ledger,
		Templates: templates,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		DNS: func(d internal.Deployment) (dns.Provider, error) {
			return dns.New(d.DNS.Provider, creds, dns.RecordOptions{
				TTL:     d.DNS.TTL,
				Proxied: d.DNS.Proxied,
			})
		},
		Resolver: dns.NewResolver(settings.DNS_RESOLVER),
		PublicIP: func(ctx context.Context) (string, error) {
			return dns.PublicIP(ctx, ipClient, settings.PUBLIC_IP_URL)
		},
	}

	if settings.VULTR_API_KEY != "" {
		vultr := dns.NewVultr(ctx, settings.VULTR_API_KEY, dns.RecordOptions{})
		env.FirewallGroups = provision.VultrFirewall{Client: vultr.Client}
	}

	return env, nil
}

func getMonitor(settings internal.Settings) (monitor.Monitor, error) {
	options := sentry.ClientOptions{
		Dsn: settings.SENTRY_DSN,
	}

	// Without a DSN, events are only printed
	if settings.TESTING || settings.SENTRY_DSN == "" {
		options.Integrations = func(in []sentry.Integration) []sentry.Integration {
			return append(in, jSentry.LoggingIntegration{
				Logger:        sentryLogger{},
				SupressErrors: settings.TESTING || settings.SENTRY_DSN == "",
			})
		}
	}

	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, fmt.Errorf("could not create sentry client: %w", err)
	}

	hub := sentry.NewHub(client, sentry.NewScope())
	return jSentry.Sentry{Hub: hub}, nil
}

type sentryLogger struct{}

func (sentryLogger) Printf(format string, a ...interface{}) (n int, err error) {
	return fmt.Printf(format, a...)
}
