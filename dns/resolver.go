package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/stephenafamo/kronika"
)

// Lookup answers the record queries the propagation waits make
type Lookup interface {
	A(ctx context.Context, fqdn string) ([]string, error)
	TXT(ctx context.Context, fqdn string) ([]string, error)
}

// Resolver queries a single nameserver directly, skipping the local cache
type Resolver struct {
	Addr     string
	resolver *net.Resolver
}

// NewResolver returns a resolver for addr (host:port).
// An empty addr uses the system resolver.
func NewResolver(addr string) *Resolver {
	r := &Resolver{Addr: addr, resolver: net.DefaultResolver}
	if addr == "" {
		return r
	}

	r.resolver = &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, network, addr)
		},
	}
	return r
}

func notFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

// A returns the sorted IPv4 addresses of fqdn. A missing name is not an error.
func (r *Resolver) A(ctx context.Context, fqdn string) ([]string, error) {
	ips, err := r.resolver.LookupIP(ctx, "ip4", fqdn)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not resolve %s: %w", fqdn, err)
	}

	values := make([]string, len(ips))
	for i, ip := range ips {
		values[i] = ip.String()
	}
	sort.Strings(values)
	return values, nil
}

func (r *Resolver) TXT(ctx context.Context, fqdn string) ([]string, error) {
	values, err := r.resolver.LookupTXT(ctx, fqdn)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not resolve TXT %s: %w", fqdn, err)
	}
	return values, nil
}

// Poll calls check every interval until it returns true, fails, or ctx is done
func Poll(ctx context.Context, interval time.Duration, check func(context.Context) (bool, error)) error {
	done, err := check(ctx)
	if err != nil || done {
		return err
	}

	for range kronika.Every(ctx, time.Now().Add(interval), interval) {
		done, err := check(ctx)
		if err != nil || done {
			return err
		}
	}

	return ctx.Err()
}

// WaitForA blocks until fqdn resolves to ip or timeout passes
func WaitForA(ctx context.Context, r Lookup, fqdn, ip string, interval, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last []string
	err := Poll(ctx, interval, func(ctx context.Context) (bool, error) {
		values, err := r.A(ctx, fqdn)
		if err != nil {
			// transient resolver failures are retried until the deadline
			return false, nil
		}
		last = values
		return contains(values, ip), nil
	})
	if err != nil {
		return fmt.Errorf("%s did not resolve to %s within %s (last answer %v): %w", fqdn, ip, timeout, last, err)
	}

	return nil
}

// WaitForTXT blocks until value is among the TXT records of fqdn or ctx is done
func WaitForTXT(ctx context.Context, r Lookup, fqdn, value string, interval time.Duration) error {
	return Poll(ctx, interval, func(ctx context.Context) (bool, error) {
		values, err := r.TXT(ctx, fqdn)
		if err != nil {
			return false, nil
		}
		return contains(values, value), nil
	})
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
