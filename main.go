package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kaif367/growupquotexapi/cmd"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/sethvargo/go-envconfig"
)

func main() {
	// Load env variables from a .env file if present
	err := godotenv.Overload(".env")
	if err != nil {
		// Ignore error if file is not present
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatal(err)
		}
	}

	var settings = internal.Settings{}

	ctx := context.Background()

	if err := envconfig.Process(ctx, &settings); err != nil {
		log.Fatal(fmt.Errorf("error parsing config: %w", err))
	}

	if err := cmd.Execute(ctx, settings); err != nil {
		os.Exit(1)
	}
}
