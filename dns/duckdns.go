package dns

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

const duckDNSAPI = "https://www.duckdns.org/update"

// DuckDNS updates <name>.duckdns.org records. It has no read API,
// so lookups go through the resolver.
type DuckDNS struct {
	Token    string
	BaseURL  string
	Client   *retryablehttp.Client
	Resolver *Resolver
}

func (d *DuckDNS) Name() string { return "duckdns" }

// subdomain returns the single label duckdns expects in "domains"
func (d *DuckDNS) subdomain(fqdn string) (string, error) {
	name := strings.TrimSuffix(strings.ToLower(fqdn), ".")
	name = strings.TrimPrefix(name, "_acme-challenge.")
	if !strings.HasSuffix(name, ".duckdns.org") {
		return "", fmt.Errorf("%s is not a duckdns.org domain", fqdn)
	}

	labels := strings.Split(strings.TrimSuffix(name, ".duckdns.org"), ".")
	// records of sub.name.duckdns.org all point at name.duckdns.org
	return labels[len(labels)-1], nil
}

func (d *DuckDNS) update(ctx context.Context, fqdn string, params url.Values) error {
	sub, err := d.subdomain(fqdn)
	if err != nil {
		return err
	}

	base := d.BaseURL
	if base == "" {
		base = duckDNSAPI
	}

	params.Set("domains", sub)
	params.Set("token", d.Token)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("could not build duckdns request: %w", err)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return fmt.Errorf("duckdns update of %s: %w", sub, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("could not read duckdns response: %w", err)
	}

	answer := strings.TrimSpace(string(body))
	if !strings.HasPrefix(answer, "OK") {
		return fmt.Errorf("duckdns rejected update of %s: %q", sub, answer)
	}

	return nil
}

func (d *DuckDNS) Lookup(ctx context.Context, fqdn string) ([]string, error) {
	return d.Resolver.A(ctx, fqdn)
}

func (d *DuckDNS) SetA(ctx context.Context, fqdn, ip string) error {
	return d.update(ctx, fqdn, url.Values{"ip": {ip}})
}

// SetTXT replaces the single TXT value duckdns keeps per domain
func (d *DuckDNS) SetTXT(ctx context.Context, fqdn, value string) error {
	return d.update(ctx, fqdn, url.Values{"txt": {value}})
}

func (d *DuckDNS) ClearTXT(ctx context.Context, fqdn string) error {
	return d.update(ctx, fqdn, url.Values{"txt": {""}, "clear": {"true"}})
}
