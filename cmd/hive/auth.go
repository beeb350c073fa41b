package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	hive "github.com/everbots/hive"
)

// authCmd runs the interactive sign-in handshake for a new tenant.
func authCmd(args []string) {
	fs := flag.NewFlagSet("auth", flag.ExitOnError)
	configPath := fs.String("config", "", "Config file path")

	fs.Usage = func() {
		fmt.Println(`Usage: hive auth <tenant-id> <phone> [options]

Authenticate a new tenant. A verification code is sent to the phone; enter
it when prompted, followed by the two-factor password if the account has
one. On success the tenant is provisioned and its worker started.

Options:`)
		fs.PrintDefaults()
		fmt.Println(`
Example:
  hive auth my-tenant +15551234567`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Error: tenant id and phone are required")
		fs.Usage()
		os.Exit(1)
	}
	tenantID, phone := fs.Arg(0), fs.Arg(1)

	mgr, err := buildManager(loadConfig(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	res, err := mgr.StartAuthentication(ctx, tenantID, phone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if res.Status == hive.AuthAuthenticated {
		fmt.Printf("Tenant %s already authorized; provisioned.\n", tenantID)
		return
	}

	in := bufio.NewScanner(os.Stdin)
	fmt.Printf("Code sent to %s.\n", phone)

	for res.Status == hive.AuthCodeSent {
		fmt.Print("Enter code: ")
		if !in.Scan() {
			os.Exit(1)
		}
		code := strings.TrimSpace(in.Text())
		if code == "" {
			continue
		}

		res, err = mgr.SubmitCode(ctx, tenantID, code)
		if err != nil {
			if hive.IsRetryableAuth(err) {
				fmt.Println("Invalid code, try again.")
				res.Status = hive.AuthCodeSent
				continue
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	for res.Status == hive.AuthPasswordRequired {
		fmt.Print("Two-factor password: ")
		if !in.Scan() {
			os.Exit(1)
		}
		password := strings.TrimSpace(in.Text())
		if password == "" {
			continue
		}

		res, err = mgr.SubmitPassword(ctx, tenantID, password)
		if err != nil {
			if hive.IsRetryableAuth(err) {
				fmt.Println("Invalid password, try again.")
				res.Status = hive.AuthPasswordRequired
				continue
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if res.Status == hive.AuthAuthenticated {
		fmt.Printf("Tenant %s authenticated and provisioned.\n", tenantID)
		return
	}
	fmt.Fprintf(os.Stderr, "Authentication ended in state %s: %s\n", res.Status, res.Message)
	os.Exit(1)
}
