package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/storefront/config"
	"github.com/irsalhamdi/storefront/database"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

type adminConfig struct {
	Args conf.Args
	DB   config.DB
}

// Run executes a single maintenance command: migrate or seed.
func Run(log *logrus.Logger) error {
	const prefix = "STORE"
	var cfg adminConfig
	if help, err := conf.Parse(prefix, &cfg); err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	switch cmd := cfg.Args.Num(0); cmd {
	case "migrate":
		if err := database.Migrate(cfg.DB); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		log.Info("migrations complete")

	case "seed":
		db, err := database.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to open db connection: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := database.Seed(ctx, db); err != nil {
			return fmt.Errorf("seeding database: %w", err)
		}
		log.Info("seed data complete")

	default:
		return fmt.Errorf("unknown command %q, expected migrate or seed", cmd)
	}
	return nil
}
