package connection

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/masterzen/winrm"

	"github.com/martinsuchenak/podd/internal/log"
)

// WinRMConfig holds the parameters for a WinRM connection.
type WinRMConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	UseHTTPS       bool
	Insecure       bool
	ConnectTimeout time.Duration
}

// uploadChunkSize is the number of raw bytes sent per PowerShell append
// during file upload. Base64 expansion keeps the resulting command line
// well under the WinRM request limit.
const uploadChunkSize = 4000

// WinRMConnection runs commands on Windows targets over WinRM. Plain
// commands go through cmd.exe; ExecuteScript wraps PowerShell scripts
// with -EncodedCommand so quoting survives the transport.
type WinRMConnection struct {
	cfg    WinRMConfig
	client *winrm.Client
}

// NewWinRMConnection creates a WinRM connection. Connect must be called
// before any other operation.
func NewWinRMConnection(cfg WinRMConfig) *WinRMConnection {
	if cfg.Port == 0 {
		if cfg.UseHTTPS {
			cfg.Port = 5986
		} else {
			cfg.Port = 5985
		}
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &WinRMConnection{cfg: cfg}
}

func (c *WinRMConnection) Kind() Kind { return KindWinRM }

// Connect builds the WinRM client and verifies the endpoint with a
// trivial command.
func (c *WinRMConnection) Connect(ctx context.Context) error {
	endpoint := winrm.NewEndpoint(c.cfg.Host, c.cfg.Port, c.cfg.UseHTTPS, c.cfg.Insecure, nil, nil, nil, c.cfg.ConnectTimeout)

	client, err := winrm.NewClient(endpoint, c.cfg.Username, c.cfg.Password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	var stdout, stderr bytes.Buffer
	code, err := client.RunWithContext(ctx, "echo ok", &stdout, &stderr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: probe command exited %d", ErrAuthFailed, code)
	}

	c.client = client
	log.Debug("WinRM connected", "host", c.cfg.Host, "port", c.cfg.Port)
	return nil
}

// Disconnect drops the client. WinRM is request/response so there is no
// channel to tear down.
func (c *WinRMConnection) Disconnect() error {
	c.client = nil
	return nil
}

// IsConnected reports whether Connect has succeeded and the endpoint
// still answers.
func (c *WinRMConnection) IsConnected() bool {
	if c.client == nil {
		return false
	}
	var stdout, stderr bytes.Buffer
	code, err := c.client.RunWithContext(context.Background(), "echo ok", &stdout, &stderr)
	return err == nil && code == 0
}

// Execute runs command through cmd.exe on the target.
func (c *WinRMConnection) Execute(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	return c.run(ctx, command, timeout)
}

// ExecuteScript runs a PowerShell script. The script is base64 encoded
// into a single -EncodedCommand invocation.
func (c *WinRMConnection) ExecuteScript(ctx context.Context, script string, timeout time.Duration) (string, string, int, error) {
	return c.run(ctx, winrm.Powershell(script), timeout)
}

func (c *WinRMConnection) run(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	if c.client == nil {
		return "", "", -1, ErrNotConnected
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	code, err := c.client.RunWithContext(ctx, command, &stdout, &stderr)
	if err != nil {
		if ctx.Err() != nil {
			return stdout.String(), "command timed out", ExitTimedOut, nil
		}
		return stdout.String(), stderr.String(), -1, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return stdout.String(), stderr.String(), code, nil
}

// UploadFile writes a local file to the target by appending base64
// chunks through PowerShell, then decoding them in place.
func (c *WinRMConnection) UploadFile(ctx context.Context, localPath, remotePath string) error {
	if c.client == nil {
		return ErrNotConnected
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localPath, err)
	}

	tempPath := remotePath + ".b64"
	if _, _, _, err := c.ExecuteScript(ctx, fmt.Sprintf(`Remove-Item -Path "%s" -ErrorAction SilentlyContinue`, tempPath), 0); err != nil {
		return err
	}

	for offset := 0; offset < len(data); offset += uploadChunkSize {
		end := offset + uploadChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := base64.StdEncoding.EncodeToString(data[offset:end])
		script := fmt.Sprintf(`Add-Content -Path "%s" -Value "%s"`, tempPath, chunk)
		if _, stderr, code, err := c.ExecuteScript(ctx, script, 0); err != nil {
			return err
		} else if code != 0 {
			return fmt.Errorf("uploading %s: %s", remotePath, stderr)
		}
	}

	decode := fmt.Sprintf(`
$lines = Get-Content -Path "%s"
$bytes = foreach ($line in $lines) { [Convert]::FromBase64String($line) }
[IO.File]::WriteAllBytes("%s", $bytes)
Remove-Item -Path "%s"
`, tempPath, remotePath, tempPath)
	if _, stderr, code, err := c.ExecuteScript(ctx, decode, 0); err != nil {
		return err
	} else if code != 0 {
		return fmt.Errorf("decoding %s: %s", remotePath, stderr)
	}
	return nil
}

// DownloadFile reads the remote file as one base64 blob and writes it
// locally.
func (c *WinRMConnection) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if c.client == nil {
		return ErrNotConnected
	}

	script := fmt.Sprintf(`[Convert]::ToBase64String([IO.File]::ReadAllBytes("%s"))`, remotePath)
	stdout, stderr, code, err := c.ExecuteScript(ctx, script, 2*time.Minute)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("reading %s: %s", remotePath, stderr)
	}

	data, err := base64.StdEncoding.DecodeString(trimNewlines(stdout))
	if err != nil {
		return fmt.Errorf("decoding %s: %w", remotePath, err)
	}

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}

func trimNewlines(s string) string {
	var out bytes.Buffer
	for _, r := range s {
		if r != '\r' && r != '\n' {
			out.WriteRune(r)
		}
	}
	return out.String()
}
