package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pointshop/shopauth/config"
	"github.com/pointshop/shopauth/persistence"
)

// ---- Audit Commands ----

func auditCommand(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: shopauth-cli audit <subcommand>")
	}

	switch args[0] {
	case "query":
		return queryAudit(parseArgs(args[1:]))
	default:
		return fmt.Errorf("unknown audit subcommand: %s", args[0])
	}
}

func queryAudit(opts map[string]string) error {
	limit := 50
	if v, ok := opts["limit"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid --limit %q", v)
		}
		limit = n
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	repo, err := persistence.NewStorage(cfg.DBType, cfg.DSN, persistence.Options{SkipMigrate: true})
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := repo.Events(ctx, opts["email"], limit)
	if err != nil {
		return err
	}
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	return prettyPrint(data)
}
