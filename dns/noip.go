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

const noIPAPI = "https://dynupdate.no-ip.com/nic/update"

// NoIP drives the dynamic update protocol. Only A records can be changed.
type NoIP struct {
	Username string
	Password string
	BaseURL  string
	Client   *retryablehttp.Client
	Resolver *Resolver
}

func (n *NoIP) Name() string { return "noip" }

func (n *NoIP) Lookup(ctx context.Context, fqdn string) ([]string, error) {
	return n.Resolver.A(ctx, fqdn)
}

func (n *NoIP) SetA(ctx context.Context, fqdn, ip string) error {
	base := n.BaseURL
	if base == "" {
		base = noIPAPI
	}

	params := url.Values{"hostname": {fqdn}, "myip": {ip}}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("could not build no-ip request: %w", err)
	}
	req.SetBasicAuth(n.Username, n.Password)
	// no-ip blocks clients without an identifying agent
	req.Header.Set("User-Agent", "apideploy/1.0 "+n.Username)

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("no-ip update of %s: %w", fqdn, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return fmt.Errorf("could not read no-ip response: %w", err)
	}

	answer := strings.TrimSpace(string(body))
	code := strings.Fields(answer)
	if len(code) == 0 {
		return fmt.Errorf("no-ip returned an empty response for %s", fqdn)
	}

	switch code[0] {
	case "good", "nochg":
		return nil
	default:
		return fmt.Errorf("no-ip rejected update of %s: %q", fqdn, answer)
	}
}

func (n *NoIP) SetTXT(context.Context, string, string) error {
	return fmt.Errorf("no-ip TXT records: %w", ErrUnsupported)
}

func (n *NoIP) ClearTXT(context.Context, string) error {
	return fmt.Errorf("no-ip TXT records: %w", ErrUnsupported)
}
