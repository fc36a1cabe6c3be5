package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kaif367/growupquotexapi/dns"
	"github.com/kaif367/growupquotexapi/internal"
)

// address resolves the public IP of the host once per plan
type address struct {
	env *Environment
	d   internal.Deployment
	ip  string
}

func (a *address) get(ctx context.Context) (string, error) {
	if a.ip != "" {
		return a.ip, nil
	}

	if a.d.HostIP != "" {
		a.ip = a.d.HostIP
		return a.ip, nil
	}

	if a.env.PublicIP == nil {
		return "", fmt.Errorf("host ip of %q is not set and cannot be discovered", a.d.Name)
	}

	ip, err := a.env.PublicIP(ctx)
	if err != nil {
		return "", fmt.Errorf("could not discover the public ip: %w", err)
	}
	a.ip = ip
	return ip, nil
}

// DNSRecords points every domain at the host
type DNSRecords struct {
	base
	addr *address

	provider dns.Provider
	stale    []string
}

func (s *DNSRecords) Name() string { return "dns" }

func (s *DNSRecords) Check(ctx context.Context) (Drift, error) {
	if s.d.DNS.Provider == internal.DNSNone {
		return skipped("records managed outside apideploy"), nil
	}

	ip, err := s.addr.get(ctx)
	if err != nil {
		return Drift{}, err
	}

	if s.provider == nil {
		s.provider, err = s.env.DNS(s.d)
		if err != nil {
			return Drift{}, err
		}
	}

	s.stale = nil
	for _, domain := range s.d.Domains {
		values, err := s.provider.Lookup(ctx, domain)
		if err != nil {
			return Drift{}, fmt.Errorf("could not look up %s: %w", domain, err)
		}
		if len(values) != 1 || values[0] != ip {
			s.stale = append(s.stale, domain)
		}
	}

	if len(s.stale) > 0 {
		return drifted("%s not pointing at %s", strings.Join(s.stale, ", "), ip), nil
	}
	return inSync(fmt.Sprintf("%d records point at %s", len(s.d.Domains), ip)), nil
}

func (s *DNSRecords) Apply(ctx context.Context) (string, error) {
	ip, err := s.addr.get(ctx)
	if err != nil {
		return "", err
	}

	for _, domain := range s.stale {
		if err := s.provider.SetA(ctx, domain, ip); err != nil {
			return "", fmt.Errorf("could not point %s at %s: %w", domain, ip, err)
		}
	}

	return digest([]byte(ip + "|" + strings.Join(s.d.Domains, ","))), nil
}

var propagationInterval = 10 * time.Second

// Propagation waits until public resolvers see the records,
// which http-01 validation depends on
type Propagation struct {
	base
	addr    *address
	pending []string
}

func (s *Propagation) Name() string { return "propagation" }

func (s *Propagation) Check(ctx context.Context) (Drift, error) {
	if !s.d.TLS.Enabled || s.d.TLS.Source != internal.SslSourceLetsEncrypt {
		return skipped("no certificate to issue"), nil
	}
	if s.env.Facts.IsWindows() {
		return skipped("certbot is not managed on windows hosts"), nil
	}
	if s.d.DNS.Provider == internal.DNSCloudflare && s.d.DNS.Proxied {
		// Resolvers only ever see the cloudflare edge
		return skipped("proxied through cloudflare"), nil
	}

	ip, err := s.addr.get(ctx)
	if err != nil {
		return Drift{}, err
	}

	s.pending = nil
	for _, domain := range s.d.Domains {
		values, err := s.env.Resolver.A(ctx, domain)
		if err != nil || !containsString(values, ip) {
			s.pending = append(s.pending, domain)
		}
	}

	if len(s.pending) > 0 {
		return drifted("%s not resolving to %s yet", strings.Join(s.pending, ", "), ip), nil
	}
	return inSync("resolving to " + ip), nil
}

func (s *Propagation) Apply(ctx context.Context) (string, error) {
	ip, err := s.addr.get(ctx)
	if err != nil {
		return "", err
	}

	for _, domain := range s.pending {
		err := dns.WaitForA(ctx, s.env.Resolver, domain, ip, propagationInterval, s.env.Settings.DNS_PROPAGATION_TIMEOUT)
		if err != nil {
			return "", err
		}
	}
	return "", nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
