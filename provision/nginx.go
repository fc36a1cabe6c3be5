package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/kaif367/growupquotexapi/host"
	"github.com/kaif367/growupquotexapi/letsencrypt"
)

// Nginx writes the site config, links it into sites-enabled and reloads nginx.
// The TLS server block is rendered once the certificate exists, so the same
// step runs again after the certificate step.
type Nginx struct {
	base
	// Runs only when TLS is enabled
	TLSPass bool

	rendered  []byte
	fileStale bool
	linkStale bool
}

func (s *Nginx) Name() string {
	if s.TLSPass {
		return "nginx-tls"
	}
	return "nginx"
}

// SitePath is where the site config of a deployment is written
func (s *Nginx) SitePath() string {
	return filepath.Join(s.env.Settings.NGINX_SITES_AVAILABLE, s.d.Name+".conf")
}

func (s *Nginx) linkPath() string {
	if s.env.Settings.NGINX_SITES_ENABLED == "" {
		return ""
	}
	return filepath.Join(s.env.Settings.NGINX_SITES_ENABLED, s.d.Name+".conf")
}

// Render returns the site config for the current state of the certificate
func (s *Nginx) Render() ([]byte, error) {
	config := s.env.config(s.d)

	if s.d.TLS.Enabled {
		certPath, keyPath := letsencrypt.CertPaths(s.env.Settings, s.d)
		ok, err := exists(s.env.Fs, certPath)
		if err != nil {
			return nil, err
		}
		config.WithTLS = ok
		config.CertPath = certPath
		config.KeyPath = keyPath
	}

	return s.env.render("nginx", config)
}

func (s *Nginx) Check(ctx context.Context) (Drift, error) {
	if s.env.Facts.IsWindows() {
		return skipped("nginx is not managed on windows hosts"), nil
	}
	if s.TLSPass && !s.d.TLS.Enabled {
		return skipped("tls disabled"), nil
	}

	rendered, err := s.Render()
	if err != nil {
		return Drift{}, err
	}
	s.rendered = rendered

	s.fileStale, err = fileDiffers(s.env.Fs, s.SitePath(), rendered)
	if err != nil {
		return Drift{}, err
	}

	s.linkStale = false
	if link := s.linkPath(); link != "" {
		target, _, err := linkTarget(s.env.Fs, link)
		if err != nil {
			return Drift{}, err
		}
		s.linkStale = target != s.SitePath()
	}

	switch {
	case s.fileStale:
		return drifted("%s differs", s.SitePath()), nil
	case s.linkStale:
		return drifted("%s does not link to %s", s.linkPath(), s.SitePath()), nil
	}
	return inSync(s.SitePath() + " up to date"), nil
}

func (s *Nginx) Apply(ctx context.Context) (string, error) {
	path := s.SitePath()

	previous, hadPrevious, err := readFile(s.env.Fs, path)
	if err != nil {
		return "", err
	}

	webroot := letsencrypt.Webroot(s.env.Settings, s.d)
	if err := s.env.Fs.MkdirAll(webroot, 0o755); err != nil {
		return "", fmt.Errorf("could not create webroot %s: %w", webroot, err)
	}

	if s.fileStale {
		if err := writeFile(s.env.Fs, path, s.rendered, 0o644); err != nil {
			return "", err
		}
	}

	if s.linkStale {
		if err := forceSymlink(s.env.Fs, path, s.linkPath()); err != nil {
			return "", err
		}
	}

	if _, err := s.env.run(ctx, host.Command("nginx", "-t")); err != nil {
		if restoreErr := s.restore(previous, hadPrevious); restoreErr != nil {
			log.Printf("could not restore %s: %v", path, restoreErr)
		}
		return "", fmt.Errorf("nginx rejected the config, previous version restored: %w", err)
	}

	if err := s.env.Ledger.RecordArtifact(ctx, s.d.Name, ArtifactNginx, path, digest(s.rendered)); err != nil {
		return "", err
	}
	if link := s.linkPath(); link != "" {
		if err := s.env.Ledger.RecordArtifact(ctx, s.d.Name, ArtifactNginxLink, link, path); err != nil {
			return "", err
		}
	}

	if !s.env.Settings.TESTING {
		if _, err := s.env.run(ctx, host.Command("nginx", "-s", "reload")); err != nil {
			return "", fmt.Errorf("could not reload nginx: %w", err)
		}
	}

	return digest(s.rendered), nil
}

func (s *Nginx) restore(previous []byte, hadPrevious bool) error {
	if hadPrevious {
		return writeFile(s.env.Fs, s.SitePath(), previous, 0o644)
	}

	// A new site goes away completely so nginx keeps working
	if link := s.linkPath(); link != "" {
		if err := s.env.Fs.Remove(link); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return s.env.Fs.Remove(s.SitePath())
}
