// Package hooks holds what the certbot manual auth and cleanup hooks share.
// certbot passes the challenge through CERTBOT_* variables and the hooks
// inherit the rest of the apideploy environment.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kaif367/growupquotexapi/dns"
	"github.com/sethvargo/go-envconfig"
	"github.com/stephenafamo/kronika"
)

type Config struct {
	DNS_PROVIDER       string `env:"DNS_PROVIDER,required"`
	DNS_TTL            int    `env:"DNS_TTL,default=120"`
	CERTBOT_DOMAIN     string `env:"CERTBOT_DOMAIN,required"`
	CERTBOT_VALIDATION string `env:"CERTBOT_VALIDATION"`

	LETSENCRYPT_DNS_PROPAGATION int           `env:"LETSENCRYPT_DNS_PROPAGATION,default=120"`
	DNS_RESOLVER                string        `env:"DNS_RESOLVER,default=1.1.1.1:53"`
	DNS_POLL_INTERVAL           time.Duration `env:"DNS_POLL_INTERVAL,default=10s"`
	// Other resolvers used by the CA may lag behind DNS_RESOLVER
	DNS_SETTLE_TIME time.Duration `env:"DNS_SETTLE_TIME,default=10s"`

	CLOUDFLARE_API_TOKEN string `env:"CLOUDFLARE_API_TOKEN"`
	DUCKDNS_TOKEN        string `env:"DUCKDNS_TOKEN"`
	VULTR_API_KEY        string `env:"VULTR_API_KEY"`
}

// Load reads .env and the environment, then builds the DNS provider
func Load(ctx context.Context) (Config, dns.Provider, error) {
	var config Config

	err := godotenv.Overload(".env")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return config, nil, fmt.Errorf("could not load .env: %w", err)
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return config, nil, fmt.Errorf("error parsing config: %w", err)
	}

	provider, err := dns.New(config.DNS_PROVIDER, dns.Credentials{
		CloudflareToken: config.CLOUDFLARE_API_TOKEN,
		DuckDNSToken:    config.DUCKDNS_TOKEN,
		VultrAPIKey:     config.VULTR_API_KEY,
		Resolver:        config.DNS_RESOLVER,
	}, dns.RecordOptions{TTL: config.DNS_TTL})
	if err != nil {
		return config, nil, err
	}

	return config, provider, nil
}

// Auth publishes the validation token and waits for resolver to see it.
// A record that is not visible in time is left to the CA to find.
func Auth(ctx context.Context, config Config, provider dns.Provider, resolver dns.Lookup) error {
	name := dns.ChallengeName(config.CERTBOT_DOMAIN)
	log.Printf("Creating %s TXT record %q", provider.Name(), name)

	if err := provider.SetTXT(ctx, name, config.CERTBOT_VALIDATION); err != nil {
		return fmt.Errorf("could not create DNS record: %w", err)
	}

	wait := time.Second * time.Duration(config.LETSENCRYPT_DNS_PROPAGATION)
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	err := dns.WaitForTXT(waitCtx, resolver, name, config.CERTBOT_VALIDATION, config.DNS_POLL_INTERVAL)
	if err != nil {
		log.Printf("Record not seen after %f seconds, continuing anyway", wait.Seconds())
		return nil
	}

	log.Printf("Record visible at %s", config.DNS_RESOLVER)
	kronika.WaitFor(ctx, config.DNS_SETTLE_TIME)
	return nil
}

// Clean removes every validation token of the domain
func Clean(ctx context.Context, config Config, provider dns.Provider) error {
	name := dns.ChallengeName(config.CERTBOT_DOMAIN)
	log.Printf("Deleting %s TXT records of %q", provider.Name(), name)

	if err := provider.ClearTXT(ctx, name); err != nil {
		return fmt.Errorf("could not delete DNS record: %w", err)
	}

	log.Printf("Deleted the records")
	return nil
}
