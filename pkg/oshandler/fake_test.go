package oshandler

import (
	"context"
	"strings"
	"time"

	"github.com/martinsuchenak/podd/pkg/connection"
)

// fakeResponse scripts the output for commands matching a substring.
type fakeResponse struct {
	match    string
	stdout   string
	stderr   string
	exitCode int
}

// fakeConn records every executed command and answers from a script.
// Unmatched commands succeed with empty output.
type fakeConn struct {
	kind      connection.Kind
	responses []fakeResponse
	commands  []string
	elevated  []string
}

func newFakeConn(kind connection.Kind, responses ...fakeResponse) *fakeConn {
	return &fakeConn{kind: kind, responses: responses}
}

func (f *fakeConn) Kind() connection.Kind            { return f.kind }
func (f *fakeConn) Connect(ctx context.Context) error { return nil }
func (f *fakeConn) Disconnect() error                { return nil }
func (f *fakeConn) IsConnected() bool                { return true }

func (f *fakeConn) Execute(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	f.commands = append(f.commands, command)
	for _, resp := range f.responses {
		if strings.Contains(command, resp.match) {
			return resp.stdout, resp.stderr, resp.exitCode, nil
		}
	}
	return "", "", 0, nil
}

func (f *fakeConn) ExecuteElevated(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	f.elevated = append(f.elevated, command)
	return f.Execute(ctx, command, timeout)
}

func (f *fakeConn) UploadFile(ctx context.Context, localPath, remotePath string) error   { return nil }
func (f *fakeConn) DownloadFile(ctx context.Context, remotePath, localPath string) error { return nil }

// commandIndex returns the position of the first recorded command
// containing the substring, or -1.
func (f *fakeConn) commandIndex(substr string) int {
	for i, cmd := range f.commands {
		if strings.Contains(cmd, substr) {
			return i
		}
	}
	return -1
}
