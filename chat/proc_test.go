package chat

import (
	"context"
	"errors"
	"testing"
	"time"
)

// helperScript emulates the auth shim: one JSON response per request line,
// exiting when told to disconnect. The session path and credential arrive as
// positional arguments and are ignored.
const helperScript = `while read line; do
  case "$line" in
    *disconnect*) exit 0 ;;
    *is_authorized*) echo '{"ok":true,"authorized":false}' ;;
    *send_code*) echo '{"ok":true,"challenge":"ch-1"}' ;;
    *sign_in*) echo '{"ok":false,"error":"code_invalid"}' ;;
    *) echo '{"ok":true}' ;;
  esac
done`

func TestProcServiceExchange(t *testing.T) {
	d := NewProcDialer([]string{"sh", "-c", helperScript})
	ctx := context.Background()

	svc, err := d.Dial(ctx, t.TempDir()+"/session", 12345, "deadbeef")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	if err := svc.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	authorized, err := svc.IsAuthorized(ctx)
	if err != nil {
		t.Fatalf("IsAuthorized() error: %v", err)
	}
	if authorized {
		t.Error("IsAuthorized() = true, want false")
	}
	challenge, err := svc.SendCode(ctx, "+15551234567")
	if err != nil {
		t.Fatalf("SendCode() error: %v", err)
	}
	if challenge != "ch-1" {
		t.Errorf("SendCode() challenge = %q, want %q", challenge, "ch-1")
	}
	if err := svc.SignIn(ctx, "+15551234567", "00000", challenge); !errors.Is(err, ErrCodeInvalid) {
		t.Errorf("SignIn() = %v, want ErrCodeInvalid", err)
	}

	if err := svc.Disconnect(); err != nil {
		t.Errorf("Disconnect() error: %v", err)
	}
}

func TestProcServiceDisconnectKillsStuckHelper(t *testing.T) {
	d := NewProcDialer([]string{"sh", "-c", "sleep 60"})
	d.Grace = 100 * time.Millisecond

	svc, err := d.Dial(context.Background(), t.TempDir()+"/session", 12345, "deadbeef")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}

	start := time.Now()
	err = svc.Disconnect()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Disconnect() blocked for %v on an unresponsive helper", elapsed)
	}
	if err == nil {
		t.Error("Disconnect() on an unresponsive helper should report the kill")
	}
}
