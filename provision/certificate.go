package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/kaif367/growupquotexapi/letsencrypt"
)

// Certificate issues or renews the certificate of the deployment domains
type Certificate struct{ base }

func (s *Certificate) Name() string { return "certificate" }

func (s *Certificate) Check(ctx context.Context) (Drift, error) {
	if !s.d.TLS.Enabled {
		return skipped("tls disabled"), nil
	}
	if s.env.Facts.IsWindows() {
		return skipped("certbot is not managed on windows hosts"), nil
	}

	certPath, _ := letsencrypt.CertPaths(s.env.Settings, s.d)
	info, err := letsencrypt.Inspect(s.env.Fs, certPath)
	missing := errors.Is(err, os.ErrNotExist)

	if s.d.TLS.Source == internal.SslSourceManual {
		if err != nil {
			return Drift{}, fmt.Errorf("manual certificate: %w", err)
		}
		if !info.NotAfter.After(s.env.now()) {
			return Drift{}, fmt.Errorf("manual certificate %s expired %s", certPath, humanize.Time(info.NotAfter))
		}
		return inSync("manual certificate expires " + humanize.Time(info.NotAfter)), nil
	}

	switch {
	case missing:
		return drifted("no certificate at %s", certPath), nil
	case err != nil:
		return drifted("unreadable certificate: %v", err), nil
	case !info.Covers(s.d.Domains):
		return drifted("certificate does not cover every domain"), nil
	case info.ExpiresWithin(s.env.now(), s.env.Settings.CERT_RENEW_BEFORE):
		return drifted("certificate expires %s", humanize.Time(info.NotAfter)), nil
	}

	return inSync("valid until " + info.NotAfter.Format(time.RFC3339)), nil
}

func (s *Certificate) Apply(ctx context.Context) (string, error) {
	if s.d.TLS.DNSPlugin == "" {
		webroot := letsencrypt.Webroot(s.env.Settings, s.d)
		if err := s.env.Fs.MkdirAll(webroot, 0o755); err != nil {
			return "", fmt.Errorf("could not create webroot %s: %w", webroot, err)
		}
	}

	if err := letsencrypt.GetCertificate(ctx, s.env.Commander, s.env.Settings, s.d); err != nil {
		return "", err
	}

	certPath, _ := letsencrypt.CertPaths(s.env.Settings, s.d)
	info, err := letsencrypt.Inspect(s.env.Fs, certPath)
	if err != nil {
		return "", fmt.Errorf("certbot succeeded but the certificate is unreadable: %w", err)
	}

	return info.NotAfter.UTC().Format(time.RFC3339), nil
}
