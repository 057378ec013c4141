package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/ssh"

	"iis-rollback/pkg/logger"
)

// SSHConfig holds the connection parameters for the remote Windows host.
type SSHConfig struct {
	Host     string
	Port     int
	Username string

	// Password or key path; at least one is required
	Password string
	KeyPath  string

	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// SSHExecutor runs commands on the remote host over a shared SSH connection.
// Each Execute call opens its own session on that connection.
type SSHExecutor struct {
	config SSHConfig

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHExecutor validates the configuration and returns an executor.
// Connect must be called before Execute.
func NewSSHExecutor(config SSHConfig) (*SSHExecutor, error) {
	if config.Password == "" && config.KeyPath == "" {
		return nil, fmt.Errorf("either ssh password or ssh key path must be provided")
	}
	if config.KeyPath != "" {
		if _, err := os.Stat(config.KeyPath); err != nil {
			return nil, fmt.Errorf("ssh key file not found: %s", config.KeyPath)
		}
	}
	if config.Port == 0 {
		config.Port = 22
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	if config.CommandTimeout == 0 {
		config.CommandTimeout = 120 * time.Second
	}

	return &SSHExecutor{config: config}, nil
}

// Connect dials the remote host, retrying transient failures with
// exponential backoff. Authentication rejections are not retried.
func (e *SSHExecutor) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return nil
	}

	clientConfig, err := e.clientConfig()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)

	operation := func() error {
		client, err := ssh.Dial("tcp", addr, clientConfig)
		if err != nil {
			if isAuthFailure(err) {
				return backoff.Permanent(&AuthError{Host: e.config.Host, Err: err})
			}
			return &ConnectionError{Host: e.config.Host, Err: err}
		}
		e.client = client
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		logger.LogError("remote", "connect", err)
		return err
	}

	logger.Log.WithField("host", addr).Info("Connected to remote host")
	return nil
}

// Close shuts the underlying connection down.
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

// Execute runs one command in a fresh session, bounded by the configured
// command timeout and the caller's context.
func (e *SSHExecutor) Execute(ctx context.Context, command string) (Result, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	if client == nil {
		return Result{}, &ConnectionError{Host: e.config.Host, Err: errors.New("not connected")}
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, &ConnectionError{Host: e.config.Host, Err: err}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	ctx, cancel := context.WithTimeout(ctx, e.config.CommandTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return Result{}, &ConnectionError{Host: e.config.Host, Err: ctx.Err()}
	case err = <-done:
	}

	result := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
		} else {
			return Result{}, &ConnectionError{Host: e.config.Host, Err: err}
		}
	}

	logger.LogRemoteCommand(command, result.ExitCode, result.Success())
	return result, nil
}

func (e *SSHExecutor) clientConfig() (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if e.config.Password != "" {
		methods = append(methods, ssh.Password(e.config.Password))
	}
	if e.config.KeyPath != "" {
		keyData, err := os.ReadFile(e.config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	return &ssh.ClientConfig{
		User: e.config.Username,
		Auth: methods,
		// Host keys are accepted on first contact; unattended runs have no
		// operator to confirm them.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.config.ConnectTimeout,
	}, nil
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied")
}
