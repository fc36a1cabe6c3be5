package dns

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

const publicIPService = "https://api.ipify.org"

// PublicIP asks an echo service for the address this host is seen from
func PublicIP(ctx context.Context, client *retryablehttp.Client, serviceURL string) (string, error) {
	if serviceURL == "" {
		serviceURL = publicIPService
	}
	if client == nil {
		client = newHTTPClient()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, serviceURL, nil)
	if err != nil {
		return "", fmt.Errorf("could not build public ip request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not reach %s: %w", serviceURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s answered %s", serviceURL, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", fmt.Errorf("could not read public ip: %w", err)
	}

	ip := net.ParseIP(strings.TrimSpace(string(body)))
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("%s returned %q, not an IPv4 address", serviceURL, strings.TrimSpace(string(body)))
	}

	return ip.String(), nil
}
