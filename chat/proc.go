package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// DisconnectGrace is how long Disconnect waits for the helper to exit on its
// own before killing it.
const DisconnectGrace = 5 * time.Second

// ProcDialer runs the provider protocol in a helper process, typically the
// auth shim shipped with the worker runtime. The helper receives the session
// path and credential via argv and speaks newline-delimited JSON on
// stdin/stdout: one request object per line, one response object per line.
type ProcDialer struct {
	// Command is the helper argv; session path, api id, and api hash are
	// appended as the final three arguments.
	Command []string

	// Grace overrides DisconnectGrace when positive.
	Grace time.Duration
}

// NewProcDialer creates a dialer launching the given helper command.
func NewProcDialer(command []string) *ProcDialer {
	return &ProcDialer{Command: command}
}

// Dial starts the helper process and performs no protocol traffic yet.
func (d *ProcDialer) Dial(ctx context.Context, sessionPath string, apiID int, apiHash string) (Service, error) {
	if len(d.Command) == 0 {
		return nil, fmt.Errorf("chat: no helper command configured")
	}

	args := append(append([]string{}, d.Command[1:]...), sessionPath, strconv.Itoa(apiID), apiHash)
	cmd := exec.Command(d.Command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("chat: helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("chat: helper stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("chat: start helper: %w", err)
	}

	grace := d.Grace
	if grace <= 0 {
		grace = DisconnectGrace
	}
	return &procService{
		cmd:   cmd,
		enc:   json.NewEncoder(stdin),
		sc:    bufio.NewScanner(stdout),
		grace: grace,
	}, nil
}

// procService drives the helper over its stdio pipes. Calls are serialized;
// the helper answers strictly in request order.
type procService struct {
	cmd   *exec.Cmd
	enc   *json.Encoder
	sc    *bufio.Scanner
	grace time.Duration
	mu    sync.Mutex
}

type procRequest struct {
	Op        string `json:"op"`
	Phone     string `json:"phone,omitempty"`
	Code      string `json:"code,omitempty"`
	Challenge string `json:"challenge,omitempty"`
	Password  string `json:"password,omitempty"`
}

type procResponse struct {
	OK         bool   `json:"ok"`
	Authorized bool   `json:"authorized,omitempty"`
	Challenge  string `json:"challenge,omitempty"`
	Error      string `json:"error,omitempty"`
}

// call sends one request and waits for its response, honoring ctx while
// waiting. Helper death surfaces as a scan failure.
func (p *procService) call(ctx context.Context, req procRequest) (procResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.enc.Encode(req); err != nil {
		return procResponse{}, fmt.Errorf("chat: write to helper: %w", err)
	}

	type scanResult struct {
		line []byte
		err  error
	}
	ch := make(chan scanResult, 1)
	go func() {
		if !p.sc.Scan() {
			err := p.sc.Err()
			if err == nil {
				err = fmt.Errorf("chat: helper closed its stdout")
			}
			ch <- scanResult{err: err}
			return
		}
		line := append([]byte(nil), p.sc.Bytes()...)
		ch <- scanResult{line: line}
	}()

	var res scanResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		p.cmd.Process.Kill()
		return procResponse{}, ctx.Err()
	}
	if res.err != nil {
		return procResponse{}, res.err
	}

	var resp procResponse
	if err := json.Unmarshal(res.line, &resp); err != nil {
		return procResponse{}, fmt.Errorf("chat: bad helper response: %w", err)
	}
	if !resp.OK {
		return resp, mapHelperError(resp.Error)
	}
	return resp, nil
}

// mapHelperError converts the helper's error tags to package sentinels.
func mapHelperError(tag string) error {
	switch tag {
	case "phone_invalid":
		return ErrPhoneInvalid
	case "code_invalid":
		return ErrCodeInvalid
	case "password_needed":
		return ErrPasswordNeeded
	case "password_invalid":
		return ErrPasswordInvalid
	default:
		return fmt.Errorf("chat: helper error: %s", tag)
	}
}

func (p *procService) Connect(ctx context.Context) error {
	_, err := p.call(ctx, procRequest{Op: "connect"})
	return err
}

func (p *procService) IsAuthorized(ctx context.Context) (bool, error) {
	resp, err := p.call(ctx, procRequest{Op: "is_authorized"})
	if err != nil {
		return false, err
	}
	return resp.Authorized, nil
}

func (p *procService) SendCode(ctx context.Context, phone string) (string, error) {
	resp, err := p.call(ctx, procRequest{Op: "send_code", Phone: phone})
	if err != nil {
		return "", err
	}
	return resp.Challenge, nil
}

func (p *procService) SignIn(ctx context.Context, phone, code, challenge string) error {
	_, err := p.call(ctx, procRequest{Op: "sign_in", Phone: phone, Code: code, Challenge: challenge})
	return err
}

func (p *procService) SignInWithPassword(ctx context.Context, password string) error {
	_, err := p.call(ctx, procRequest{Op: "sign_in_password", Password: password})
	return err
}

// Disconnect tells the helper to shut down and reaps the process. The wait is
// bounded: a helper that ignores the request is killed after the grace
// period, so a stuck provider connection can never wedge the caller.
func (p *procService) Disconnect() error {
	p.mu.Lock()
	p.enc.Encode(procRequest{Op: "disconnect"})
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(p.grace):
		p.cmd.Process.Kill()
		<-done
		return fmt.Errorf("chat: helper ignored disconnect, killed")
	}
}
