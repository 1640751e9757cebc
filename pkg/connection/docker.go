package connection

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/martinsuchenak/podd/internal/log"
)

// DockerConnection runs commands inside a local container through the
// Docker API. Commands are wrapped in /bin/sh -c so shell pipelines work
// the same as over SSH.
type DockerConnection struct {
	containerID string
	cli         client.APIClient
	connected   bool
}

// NewDockerConnection creates a connection to the named container using
// the ambient Docker environment (DOCKER_HOST et al.).
func NewDockerConnection(containerID string) (*DockerConnection, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &DockerConnection{containerID: containerID, cli: cli}, nil
}

// NewDockerConnectionWithClient creates a connection using an existing
// API client. Used by tests and by callers managing their own client.
func NewDockerConnectionWithClient(containerID string, cli client.APIClient) *DockerConnection {
	return &DockerConnection{containerID: containerID, cli: cli}
}

func (c *DockerConnection) Kind() Kind { return KindDocker }

// Connect verifies the container exists and starts it when stopped.
func (c *DockerConnection) Connect(ctx context.Context) error {
	info, err := c.cli.ContainerInspect(ctx, c.containerID)
	if err != nil {
		return fmt.Errorf("%w: inspecting container %s: %v", ErrConnectionFailed, c.containerID, err)
	}

	if info.State == nil || !info.State.Running {
		if err := c.cli.ContainerStart(ctx, c.containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("%w: starting container %s: %v", ErrConnectionFailed, c.containerID, err)
		}
		log.Info("Started stopped container", "container", c.containerID)
	}

	c.connected = true
	return nil
}

// Disconnect marks the connection closed. The container keeps running.
func (c *DockerConnection) Disconnect() error {
	c.connected = false
	return nil
}

// IsConnected reports whether the container is still running.
func (c *DockerConnection) IsConnected() bool {
	if !c.connected {
		return false
	}
	info, err := c.cli.ContainerInspect(context.Background(), c.containerID)
	return err == nil && info.State != nil && info.State.Running
}

// Execute runs command inside the container via docker exec.
func (c *DockerConnection) Execute(ctx context.Context, command string, timeout time.Duration) (string, string, int, error) {
	if !c.connected {
		return "", "", -1, ErrNotConnected
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execID, err := c.cli.ContainerExecCreate(ctx, c.containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", command},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", -1, fmt.Errorf("%w: creating exec: %v", ErrNotConnected, err)
	}

	resp, err := c.cli.ContainerExecAttach(ctx, execID.ID, container.ExecStartOptions{})
	if err != nil {
		return "", "", -1, fmt.Errorf("%w: attaching exec: %v", ErrNotConnected, err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		if ctx.Err() != nil {
			return stdout.String(), "command timed out", ExitTimedOut, nil
		}
		return stdout.String(), stderr.String(), -1, fmt.Errorf("%w: reading exec output: %v", ErrNotConnected, err)
	}

	inspect, err := c.cli.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return stdout.String(), stderr.String(), -1, fmt.Errorf("%w: inspecting exec: %v", ErrNotConnected, err)
	}

	return stdout.String(), stderr.String(), inspect.ExitCode, nil
}

// UploadFile copies a local file into the container as a tar stream.
func (c *DockerConnection) UploadFile(ctx context.Context, localPath, remotePath string) error {
	if !c.connected {
		return ErrNotConnected
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", localPath, err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: filepath.Base(remotePath),
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("building archive: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("building archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("building archive: %w", err)
	}

	dest := filepath.Dir(remotePath)
	if err := c.cli.CopyToContainer(ctx, c.containerID, dest, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copying to container: %w", err)
	}
	return nil
}

// DownloadFile copies a file out of the container.
func (c *DockerConnection) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if !c.connected {
		return ErrNotConnected
	}

	reader, _, err := c.cli.CopyFromContainer(ctx, c.containerID, remotePath)
	if err != nil {
		return fmt.Errorf("copying from container: %w", err)
	}
	defer reader.Close()

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("%s not found in archive", remotePath)
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		out, err := os.Create(localPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", localPath, err)
		}
		if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // trusted archive from our own container
			out.Close()
			return fmt.Errorf("writing %s: %w", localPath, err)
		}
		return out.Close()
	}
}
