package main

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

// Version is set at build time
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	cli := &CLI{
		BaseURL: getEnv("SHOPAUTH_URL", "http://localhost:8080"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}

	var err error
	switch cmd {
	case "health":
		err = cli.healthCommand(args)
	case "audit":
		err = auditCommand(args)
	case "lockout":
		err = lockoutCommand(args)
	case "version":
		fmt.Printf("shopauth-cli %s\n", Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`shopauth-cli - shopauth operations tool

Usage:
  shopauth-cli <command> [subcommand] [options]

Environment Variables:
  SHOPAUTH_URL  Base URL of the shopauth server (default: http://localhost:8080)
  The audit and lockout commands read the server's own configuration
  (DB_TYPE, DSN, LOCKOUT_STORE, REDIS_ADDR, ...).

Commands:
  health    Show the server health report

  audit     Query audit events
    query   [--email=EMAIL] [--limit=N]

  lockout   Inspect or lift login lockouts (redis lockout store only)
    status  --email=EMAIL
    unlock  --email=EMAIL

  version   Show CLI version
  help      Show this help

Examples:
  # Recent events for one account
  shopauth-cli audit query --email=a@example.com --limit=20

  # Lift a lockout
  shopauth-cli lockout unlock --email=a@example.com
`)
}
