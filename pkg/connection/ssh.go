package connection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/martinsuchenak/podd/internal/log"
)

// SSHConfig holds the parameters for an SSH connection.
type SSHConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyPath string
	ConnectTimeout time.Duration
}

// SSHConnection runs commands on Linux and Unix-like targets over SSH.
// One exec session is opened per command; file transfers stream through
// cat/tee sessions so no SFTP subsystem is required on the target.
//
// Safe for sequential use only: callers driving one connection from
// multiple goroutines must serialize.
type SSHConnection struct {
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHConnection creates an SSH connection. Connect must be called
// before any other operation.
func NewSSHConnection(cfg SSHConfig) *SSHConnection {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &SSHConnection{cfg: cfg}
}

func (c *SSHConnection) Kind() Kind { return KindSSH }

// Connect dials the target and authenticates. Key auth is preferred when
// a key path is set; password auth is the fallback.
func (c *SSHConnection) Connect(ctx context.Context) error {
	auth := []ssh.AuthMethod{}

	if c.cfg.PrivateKeyPath != "" {
		key, err := os.ReadFile(c.cfg.PrivateKeyPath)
		if err != nil {
			return fmt.Errorf("%w: reading private key: %v", ErrConnectionFailed, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return fmt.Errorf("%w: parsing private key: %v", ErrConnectionFailed, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}

	if c.cfg.Password != "" {
		auth = append(auth, ssh.Password(c.cfg.Password))
	}

	config := &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // infrastructure tooling connects to freshly provisioned hosts
		Timeout:         c.cfg.ConnectTimeout,
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, config)
	if err != nil {
		netConn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	log.Debug("SSH connected", "host", c.cfg.Host, "port", c.cfg.Port)
	return nil
}

// Disconnect closes the underlying client.
func (c *SSHConnection) Disconnect() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// IsConnected reports whether the transport is usable. A keepalive
// request is sent so a half-dead TCP connection is noticed.
func (c *SSHConnection) IsConnected() bool {
	if c.client == nil {
		return false
	}
	_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// Execute runs command on the target. A non-zero exit status is returned
// in exitCode, not as an error. A timeout produces ExitTimedOut.
func (c *SSHConnection) Execute(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	return c.run(ctx, command, timeout, "")
}

// ExecuteElevated runs command under sudo, feeding the password on stdin
// when one is configured. The sudo prompt is stripped from stderr.
func (c *SSHConnection) ExecuteElevated(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	if !strings.HasPrefix(command, "sudo ") {
		command = "sudo -S -p '' " + command
	}
	stdout, stderr, code, err := c.run(ctx, command, timeout, c.cfg.Password+"\n")
	if err != nil {
		return stdout, stderr, code, err
	}

	// Drop any leftover sudo password prompt lines.
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(line, "[sudo] password for") {
			continue
		}
		kept = append(kept, line)
	}
	return stdout, strings.Join(kept, "\n"), code, nil
}

func (c *SSHConnection) run(ctx context.Context, command string, timeout time.Duration, stdin string) (string, string, int, error) {
	if c.client == nil {
		return "", "", -1, ErrNotConnected
	}

	session, err := c.client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("%w: opening session: %v", ErrNotConnected, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Closing the session tears down the remote process.
		session.Close()
		<-done
		return stdout.String(), "command timed out", ExitTimedOut, nil
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), exitErr.ExitStatus(), nil
		}
		return stdout.String(), stderr.String(), -1, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return stdout.String(), stderr.String(), 0, nil
}

// UploadFile streams a local file to remotePath via cat.
func (c *SSHConnection) UploadFile(ctx context.Context, localPath, remotePath string) error {
	if c.client == nil {
		return ErrNotConnected
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localPath, err)
	}

	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: opening session: %v", ErrNotConnected, err)
	}
	defer session.Close()

	session.Stdin = bytes.NewReader(data)
	if err := session.Run(fmt.Sprintf("cat > %s", shellQuote(remotePath))); err != nil {
		return fmt.Errorf("writing %s: %w", remotePath, err)
	}
	return nil
}

// DownloadFile streams remotePath into a local file via cat.
func (c *SSHConnection) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if c.client == nil {
		return ErrNotConnected
	}

	session, err := c.client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: opening session: %v", ErrNotConnected, err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	session.Stdout = &stdout
	if err := session.Run(fmt.Sprintf("cat %s", shellQuote(remotePath))); err != nil {
		return fmt.Errorf("reading %s: %w", remotePath, err)
	}

	if err := os.WriteFile(localPath, stdout.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}

// shellQuote single-quotes a path for safe interpolation into a shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
