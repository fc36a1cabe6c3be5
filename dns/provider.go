package dns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bobesa/go-domain-util/domainutil"
	"github.com/cloudflare/cloudflare-go"
	"github.com/hashicorp/go-retryablehttp"
)

var ErrUnsupported = errors.New("operation not supported by dns provider")

// Provider manages records of domains hosted at one DNS service
type Provider interface {
	Name() string
	// Lookup returns the current A record values of fqdn
	Lookup(ctx context.Context, fqdn string) ([]string, error)
	// SetA makes ip the only A record of fqdn
	SetA(ctx context.Context, fqdn, ip string) error
	SetTXT(ctx context.Context, fqdn, value string) error
	ClearTXT(ctx context.Context, fqdn string) error
}

type Credentials struct {
	CloudflareToken string
	DuckDNSToken    string
	NoIPUsername    string
	NoIPPassword    string
	VultrAPIKey     string
	// Nameserver used by providers without a read API
	Resolver string
}

// RecordOptions apply to records created by providers that support them
type RecordOptions struct {
	TTL     int
	Proxied bool // cloudflare only
}

// New returns the provider called name
func New(name string, creds Credentials, opts RecordOptions) (Provider, error) {
	client := newHTTPClient()
	resolver := NewResolver(creds.Resolver)

	switch name {
	case "cloudflare":
		if creds.CloudflareToken == "" {
			return nil, fmt.Errorf("CLOUDFLARE_API_TOKEN is required for cloudflare")
		}
		cf, err := NewCloudflare(creds.CloudflareToken, opts, cloudflare.UsingRetryPolicy(3, 1, 30))
		if err != nil {
			return nil, err
		}
		return cf, nil

	case "duckdns":
		if creds.DuckDNSToken == "" {
			return nil, fmt.Errorf("DUCKDNS_TOKEN is required for duckdns")
		}
		return &DuckDNS{Token: creds.DuckDNSToken, Client: client, Resolver: resolver}, nil

	case "noip":
		if creds.NoIPUsername == "" || creds.NoIPPassword == "" {
			return nil, fmt.Errorf("NOIP_USERNAME and NOIP_PASSWORD are required for noip")
		}
		return &NoIP{
			Username: creds.NoIPUsername,
			Password: creds.NoIPPassword,
			Client:   client,
			Resolver: resolver,
		}, nil

	case "vultr":
		if creds.VultrAPIKey == "" {
			return nil, fmt.Errorf("VULTR_API_KEY is required for vultr")
		}
		return NewVultr(context.Background(), creds.VultrAPIKey, opts), nil

	default:
		return nil, fmt.Errorf("unknown dns provider %q", name)
	}
}

func newHTTPClient() *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil
	return client
}

// SplitName splits fqdn into the registered zone and the record name inside it.
// The record name is empty for the zone apex.
func SplitName(fqdn string) (zone string, record string) {
	fqdn = strings.TrimSuffix(strings.ToLower(fqdn), ".")

	// the challenge label confuses the public suffix lookup
	var prefix string
	if strings.HasPrefix(fqdn, "_acme-challenge.") {
		prefix = "_acme-challenge"
		fqdn = strings.TrimPrefix(fqdn, "_acme-challenge.")
	}

	zone = domainutil.Domain(fqdn)
	if zone == "" {
		zone = fqdn
	}

	if domainutil.HasSubdomain(fqdn) {
		record = domainutil.Subdomain(fqdn)
	}

	if prefix != "" {
		if record == "" {
			record = prefix
		} else {
			record = prefix + "." + record
		}
	}

	return zone, record
}

// ChallengeName is where the ACME DNS-01 TXT record of domain lives
func ChallengeName(domain string) string {
	return "_acme-challenge." + strings.TrimPrefix(domain, "*.")
}
