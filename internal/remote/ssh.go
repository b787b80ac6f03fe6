package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHExecutor runs commands on a fleet host over SSH. One session is
// opened per command; the client connection is reused and re-dialed on
// failure.
type SSHExecutor struct {
	addr   string
	config *ssh.ClientConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHExecutor builds an executor from a private key file.
func NewSSHExecutor(addr, user, keyPath string) (*SSHExecutor, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}
	return &SSHExecutor{addr: addr, config: cfg}, nil
}

// Run executes a command within the given timeout.
func (e *SSHExecutor) Run(ctx context.Context, command string, timeout time.Duration) (Result, error) {
	if timeout <= 0 {
		timeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.connect()
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	session, err := client.NewSession()
	if err != nil {
		// Stale connection; drop it and retry once.
		e.reset(client)
		client, err = e.connect()
		if err != nil {
			return Result{ExitCode: -1}, err
		}
		session, err = client.NewSession()
		if err != nil {
			return Result{ExitCode: -1}, fmt.Errorf("open ssh session: %w", err)
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: -1}, runCtx.Err()
	case err := <-done:
		res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
				return res, nil
			}
			res.ExitCode = -1
			return res, fmt.Errorf("run ssh command: %w", err)
		}
		return res, nil
	}
}

// Close shuts down the underlying connection.
func (e *SSHExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

func (e *SSHExecutor) connect() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	client, err := ssh.Dial("tcp", e.addr, e.config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.addr, err)
	}
	e.client = client
	return client, nil
}

func (e *SSHExecutor) reset(stale *ssh.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == stale {
		_ = e.client.Close()
		e.client = nil
	}
}
