// Command acme-clean is the certbot --manual-cleanup-hook for DNS-01 challenges
package main

import (
	"context"
	"log"

	"github.com/kaif367/growupquotexapi/letsencrypt/hooks"
)

func main() {
	ctx := context.Background()

	config, provider, err := hooks.Load(ctx)
	if err != nil {
		log.Fatal(err)
	}

	if err := hooks.Clean(ctx, config, provider); err != nil {
		log.Fatal(err)
	}
}
