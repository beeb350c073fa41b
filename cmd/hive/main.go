// Package main provides the hive CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	hive "github.com/everbots/hive"
	"github.com/everbots/hive/chat"
	"github.com/everbots/hive/isolate"
	"github.com/everbots/hive/worker"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		serveCmd(args)
	case "auth":
		authCmd(args)
	case "create":
		createCmd(args)
	case "start":
		lifecycleCmd("start", args)
	case "stop":
		lifecycleCmd("stop", args)
	case "restart":
		lifecycleCmd("restart", args)
	case "delete":
		lifecycleCmd("delete", args)
	case "status":
		statusCmd(args)
	case "creds":
		credsCmd(args)
	case "version":
		fmt.Printf("hive %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Hive - Multi-tenant userbot hosting

Usage:
  hive <command> [options]

Commands:
  serve     Run the host daemon with the admin API
  auth      Authenticate a new tenant interactively
  create    Create a tenant from an existing session
  start     Start a tenant's worker
  stop      Stop a tenant's worker
  restart   Restart a tenant's worker
  delete    Delete a tenant and wipe its environment
  status    Show tenant or host status
  creds     Manage the credential pool
  version   Print version information
  help      Show this help message

Examples:
  hive serve --addr 127.0.0.1:8420
  hive auth my-tenant +15551234567
  hive status
  hive creds add --api-id 12345 --api-hash <hash> --max-users 3

Run 'hive <command> --help' for more information on a command.`)
}

// buildManager wires a Manager from the host configuration. Commands that
// mutate state share this path with the daemon so behavior stays identical.
func buildManager(cfg *hive.Config, opts ...hive.ManagerOption) (*hive.Manager, error) {
	pool, err := hive.NewCredentialPool(cfg.CredentialsPath)
	if err != nil {
		return nil, err
	}
	registry, err := hive.NewRegistry(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}
	iso, err := isolate.New(filepath.Join(cfg.Home, "tenants"), isolate.WithLimits(cfg.ResourceLimits()))
	if err != nil {
		return nil, err
	}

	var runner worker.Runner
	switch cfg.Runner {
	case "docker":
		dr, err := worker.NewDockerRunner(worker.WithImage(cfg.WorkerImage))
		if err != nil {
			return nil, fmt.Errorf("docker runner: %w", err)
		}
		runner = dr
	default:
		runner = worker.NewExecRunner()
	}

	dialer := chat.NewProcDialer(cfg.AuthHelper)

	opts = append([]hive.ManagerOption{
		hive.WithWorkerCommand(cfg.WorkerCommand),
		hive.WithWorkerImage(cfg.WorkerImage),
	}, opts...)
	return hive.NewManager(pool, registry, iso, runner, dialer, opts...), nil
}

func loadConfig(path string) *hive.Config {
	if path == "" {
		path = hive.DefaultConfigPath()
	}
	cfg, err := hive.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// createCmd registers a tenant whose session already exists on disk.
func createCmd(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	credential := fs.String("credential", "", "Credential id (default: least used)")

	fs.Usage = func() {
		fmt.Println(`Usage: hive create <tenant-id> <phone> [options]

Create a tenant record without running the sign-in handshake. The session
must already exist in the tenant's environment.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Error: tenant id and phone are required")
		fs.Usage()
		os.Exit(1)
	}

	mgr, err := buildManager(loadConfig(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := mgr.CreateTenant(ctx, fs.Arg(0), fs.Arg(1), *credential); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Tenant %s created\n", fs.Arg(0))
}

// lifecycleCmd handles start, stop, restart, and delete.
func lifecycleCmd(op string, args []string) {
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")

	fs.Usage = func() {
		fmt.Printf("Usage: hive %s <tenant-id> [options]\n\nOptions:\n", op)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: tenant id is required")
		fs.Usage()
		os.Exit(1)
	}
	tenantID := fs.Arg(0)

	mgr, err := buildManager(loadConfig(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch op {
	case "start":
		err = mgr.Start(ctx, tenantID)
	case "stop":
		err = mgr.Stop(ctx, tenantID)
	case "restart":
		err = mgr.Restart(ctx, tenantID)
	case "delete":
		err = mgr.Delete(ctx, tenantID)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s %s: ok\n", op, tenantID)
}

// statusCmd prints one tenant's status, or the host summary without args.
func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")
	asJSON := fs.Bool("json", false, "Output JSON")

	fs.Usage = func() {
		fmt.Println(`Usage: hive status [tenant-id] [options]

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	mgr, err := buildManager(loadConfig(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if fs.NArg() >= 1 {
		report := mgr.Status(fs.Arg(0))
		if !report.Exists {
			fmt.Fprintf(os.Stderr, "Error: tenant %s not found\n", fs.Arg(0))
			os.Exit(1)
		}
		if *asJSON {
			printJSON(report)
			return
		}
		fmt.Printf("Tenant:   %s\n", fs.Arg(0))
		fmt.Printf("Status:   %s\n", report.Status)
		fmt.Printf("Phone:    %s\n", report.Phone)
		if report.ProcessID != 0 {
			fmt.Printf("PID:      %d\n", report.ProcessID)
		}
		fmt.Printf("Created:  %s\n", report.CreatedAt.Format(time.RFC3339))
		return
	}

	status := mgr.SystemStatus()
	if *asJSON {
		printJSON(status)
		return
	}
	fmt.Printf("Tenants:     %d (%d active)\n", status.TotalTenants, status.ActiveTenants)
	fmt.Printf("Credentials: %d (usage %d)\n", status.CredentialCount, status.CredentialUsage)

	for _, t := range mgr.Tenants() {
		line := fmt.Sprintf("  %s — %s", t.TenantID, t.Status)
		if t.Proc != nil {
			line += fmt.Sprintf(" (pid %d)", t.Proc.PID)
		}
		fmt.Println(line)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
