// Package hive provides multi-tenant provisioning and supervision for
// isolated Telegram userbot workers.
//
// Hive is a Go library for hosting many tenants on one machine. It provides:
//
//   - A shared credential pool with capacity-aware allocation
//   - Per-tenant isolated environments with security manifests
//   - Multi-turn phone/code/2FA authentication sessions
//   - A persistent tenant registry
//   - Worker supervision over plain processes or Docker containers
//   - Resource sampling and quota checking from /proc
//
// # Quick Start
//
// Wire the components and create a tenant:
//
//	pool, err := hive.NewCredentialPool(hive.DefaultCredentialsPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	registry, err := hive.NewRegistry(hive.DefaultRegistryPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	iso, err := isolate.New(hive.TenantsPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	runner := worker.NewExecRunner()
//
//	mgr := hive.NewManager(pool, registry, iso, runner, dialer)
//
//	// Begin authentication; the code is delivered to the phone.
//	res, err := mgr.StartAuthentication(ctx, "tenant-1", "+15551234567")
//
//	// Later, submit the received code (and password if 2FA is enabled).
//	res, err = mgr.SubmitCode(ctx, "tenant-1", "12345")
//	if res.Status == hive.AuthPasswordRequired {
//	    res, err = mgr.SubmitPassword(ctx, "tenant-1", "hunter2")
//	}
//
// A successful authentication allocates a credential, writes the tenant's
// environment, registers the tenant, and starts its worker.
//
// # Lifecycle
//
// Tenants are controlled through the manager:
//
//	mgr.Stop(ctx, "tenant-1")
//	mgr.Restart(ctx, "tenant-1")
//	mgr.Delete(ctx, "tenant-1") // releases the credential, wipes the environment
//
// After a host restart, Recover probes persisted worker handles and demotes
// tenants whose workers cannot be verified.
//
// # Architecture
//
// The main components are:
//
//   - CredentialPool: Shared API credentials with per-credential capacity
//   - Registry: Persistent tenant records keyed by tenant id
//   - SessionManager: In-flight authentication sessions with expiry
//   - Manager: Coordinates the pool, registry, isolation, and workers
//   - worker.Runner: Pluggable worker backend (exec or Docker)
//   - isolate.Isolator: Per-tenant directory trees, configs, and manifests
//   - ResourceMonitor: Per-process memory, CPU, and handle sampling
//
// # Thread Safety
//
// All exported types are safe for concurrent use. The pool, registry, and
// session manager use internal synchronization to protect shared state.
package hive
