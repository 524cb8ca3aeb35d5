package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pointshop/shopauth/config"
	"github.com/pointshop/shopauth/flow"
	"github.com/pointshop/shopauth/identity"
	"github.com/redis/go-redis/v9"
)

// ---- Lockout Commands ----

func lockoutCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shopauth-cli lockout <subcommand> --email=EMAIL")
	}
	opts := parseArgs(args[1:])
	email := identity.NormalizeEmail(opts["email"])
	if email == "" {
		return errors.New("--email is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.LockoutStore != "redis" {
		return errors.New("lockout state of the memory store lives inside the server process")
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer client.Close()
	throttle := flow.NewThrottle(flow.NewRedisLockoutStore(client, cfg.LockoutPrefix),
		cfg.LockoutMaxFailures, cfg.LockoutDuration, cfg.LockoutFailureWindow)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		retry, err := throttle.IsLocked(ctx, email)
		if err != nil {
			return err
		}
		if retry == 0 {
			fmt.Printf("%s is not locked\n", email)
		} else {
			fmt.Printf("%s is locked for %d more seconds\n", email, retry)
		}
		return nil
	case "unlock":
		if err := throttle.Unlock(ctx, email); err != nil {
			return err
		}
		fmt.Printf("%s unlocked\n", email)
		return nil
	default:
		return fmt.Errorf("unknown lockout subcommand: %s", args[0])
	}
}
