package letsencrypt

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
)

type CertInfo struct {
	NotAfter time.Time
	DNSNames []string
}

// Inspect reads the leaf certificate of a PEM bundle
func Inspect(fs afero.Fs, certPath string) (*CertInfo, error) {
	raw, err := afero.ReadFile(fs, certPath)
	if err != nil {
		return nil, fmt.Errorf("could not read certificate: %w", err)
	}

	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			return nil, fmt.Errorf("no certificate found in %s", certPath)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("could not parse certificate %s: %w", certPath, err)
		}

		return &CertInfo{NotAfter: cert.NotAfter, DNSNames: cert.DNSNames}, nil
	}
}

// Covers reports whether every domain is one of the certificate names.
// A wildcard name covers a single label.
func (c CertInfo) Covers(domains []string) bool {
	for _, domain := range domains {
		if !c.covers(strings.ToLower(domain)) {
			return false
		}
	}
	return true
}

func (c CertInfo) covers(domain string) bool {
	for _, name := range c.DNSNames {
		name = strings.ToLower(name)
		if name == domain {
			return true
		}

		if strings.HasPrefix(name, "*.") {
			label, rest, found := strings.Cut(domain, ".")
			if found && label != "" && "*."+rest == name {
				return true
			}
		}
	}
	return false
}

// ExpiresWithin reports whether the certificate is invalid at now+window
func (c CertInfo) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !now.Add(window).Before(c.NotAfter)
}
