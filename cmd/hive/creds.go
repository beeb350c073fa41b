package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	hive "github.com/everbots/hive"
)

// credsCmd manages the credential pool: add, list, remove.
func credsCmd(args []string) {
	if len(args) < 1 {
		credsUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "add":
		credsAddCmd(args[1:])
	case "list":
		credsListCmd(args[1:])
	case "remove":
		credsRemoveCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown creds command: %s\n\n", args[0])
		credsUsage()
		os.Exit(1)
	}
}

func credsUsage() {
	fmt.Println(`Usage: hive creds <command> [options]

Commands:
  add     Add a credential to the pool
  list    List pool credentials and usage
  remove  Remove an unused credential

Examples:
  hive creds add --api-id 12345 --api-hash 0123456789abcdef0123456789abcdef --max-users 3
  hive creds list
  hive creds remove <credential-id>`)
}

func credsAddCmd(args []string) {
	fs := flag.NewFlagSet("creds add", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	id := fs.String("id", "", "Credential id (default: generated)")
	apiID := fs.Int("api-id", 0, "Provider API id")
	apiHash := fs.String("api-hash", "", "Provider API hash")
	appName := fs.String("app-name", "", "Application name")
	maxUsers := fs.Int("max-users", 1, "Maximum concurrent tenants on this credential")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	pool := openPool(*configPath)
	cred := &hive.Credential{
		ID:       *id,
		APIID:    *apiID,
		APIHash:  *apiHash,
		AppName:  *appName,
		MaxUsers: *maxUsers,
	}
	if err := pool.Add(cred); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Credential %s added\n", cred.ID)
}

func credsListCmd(args []string) {
	fs := flag.NewFlagSet("creds list", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	pool := openPool(*configPath)
	creds := pool.List()
	if len(creds) == 0 {
		fmt.Println("No credentials.")
		return
	}
	for _, c := range creds {
		line := fmt.Sprintf("%s — %d/%d in use", c.ID, c.InUse, c.MaxUsers)
		if c.AppName != "" {
			line += " (" + c.AppName + ")"
		}
		if !c.LastUsed.IsZero() {
			line += ", last used " + c.LastUsed.Format(time.RFC3339)
		}
		fmt.Println(line)
	}
}

func credsRemoveCmd(args []string) {
	fs := flag.NewFlagSet("creds remove", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: credential id is required")
		os.Exit(1)
	}

	pool := openPool(*configPath)
	if err := pool.Remove(fs.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Credential %s removed\n", fs.Arg(0))
}

func openPool(configPath string) *hive.CredentialPool {
	cfg := loadConfig(configPath)
	pool, err := hive.NewCredentialPool(cfg.CredentialsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return pool
}
