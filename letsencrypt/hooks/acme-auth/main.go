// Command acme-auth is the certbot --manual-auth-hook for DNS-01 challenges
package main

import (
	"context"
	"log"

	"github.com/kaif367/growupquotexapi/dns"
	"github.com/kaif367/growupquotexapi/letsencrypt/hooks"
)

func main() {
	ctx := context.Background()

	config, provider, err := hooks.Load(ctx)
	if err != nil {
		log.Fatal(err)
	}

	resolver := dns.NewResolver(config.DNS_RESOLVER)
	if err := hooks.Auth(ctx, config, provider, resolver); err != nil {
		log.Fatal(err)
	}
}
