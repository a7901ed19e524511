package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// WorkspaceTarget is where the job workspace is mounted inside containers.
const WorkspaceTarget = "/workspace"

// cleanupTimeout bounds best-effort stop/remove calls after a run ends.
const cleanupTimeout = 30 * time.Second

// DockerOptions configures a container-backed executor.
type DockerOptions struct {
	// Image is the container image commands run in.
	Image string
	// Workspace is the host directory bind-mounted at WorkspaceTarget.
	Workspace string
	// Platform names the operating system inside the image.
	Platform string
	// Labels are applied to every container so stray ones can be swept.
	Labels map[string]string
}

// Docker executes commands in one-shot containers. Each Execute call
// creates a fresh container from the configured image, runs the command
// with the workspace bind-mounted, captures the demultiplexed log stream,
// and removes the container afterwards.
type Docker struct {
	client    *client.Client
	image     string
	workspace string
	platform  string
	labels    map[string]string
}

// NewDocker connects to the daemon named by the environment and returns a
// container-backed executor.
func NewDocker(opts DockerOptions) (*Docker, error) {
	if strings.TrimSpace(opts.Image) == "" {
		return nil, fmt.Errorf("executor: docker image is required")
	}
	cli, err := client.New(client.FromEnv)
	if err != nil {
		return nil, fmt.Errorf("executor: create docker client: %w", err)
	}
	platform := opts.Platform
	if platform == "" {
		platform = "linux"
	}
	return &Docker{
		client:    cli,
		image:     opts.Image,
		workspace: opts.Workspace,
		platform:  platform,
		labels:    opts.Labels,
	}, nil
}

// Close releases the daemon connection.
func (d *Docker) Close() error {
	return d.client.Close()
}

// Execute implements Executor.
func (d *Docker) Execute(ctx context.Context, cmd Command) (*Result, error) {
	if err := d.Validate(cmd); err != nil {
		return nil, err
	}
	limits := cmd.Limits.withDefaults()

	runCtx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	name := "gantry-" + uuid.NewString()
	created, err := d.client.ContainerCreate(runCtx, client.ContainerCreateOptions{
		Config: &container.Config{
			Image:      d.image,
			Cmd:        append([]string{cmd.Binary}, cmd.Args...),
			Env:        cmd.Env,
			WorkingDir: d.containerDir(cmd.Dir),
			Labels:     d.labels,
		},
		HostConfig: d.hostConfig(),
		Name:       name,
		Image:      d.image,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: create container %s: %w", name, err)
	}
	defer d.removeContainer(created.ID)

	if _, err := d.client.ContainerStart(runCtx, created.ID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("executor: start container %s: %w", name, err)
	}
	started := time.Now()

	var stdout, stderr bytes.Buffer
	outWriter := &limitedWriter{w: &stdout, max: limits.MaxOutputBytes}
	errWriter := &limitedWriter{w: &stderr, max: limits.MaxOutputBytes}

	logs, err := d.client.ContainerLogs(runCtx, created.ID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Since:      "0",
	})
	if err != nil {
		return nil, fmt.Errorf("executor: stream logs for %s: %w", name, err)
	}
	demuxDone := make(chan error, 1)
	go func() {
		defer logs.Close()
		demuxDone <- demuxStreams(outWriter, errWriter, logs)
	}()

	result := &Result{ExitCode: -1, StartedAt: started}

	waitBodyC := d.client.ContainerWait(runCtx, created.ID, client.ContainerWaitOptions{})
	select {
	case waitErr := <-waitBodyC.Error:
		if runCtx.Err() == nil {
			<-demuxDone
			return nil, fmt.Errorf("executor: wait for container %s: %w", name, waitErr)
		}
		d.stopContainer(created.ID)
		result.Killed = true
		result.KillReason = contextKillReason(runCtx, limits.Timeout)
	case res := <-waitBodyC.Result:
		result.ExitCode = int(res.StatusCode)
	case <-runCtx.Done():
		d.stopContainer(created.ID)
		result.Killed = true
		result.KillReason = contextKillReason(runCtx, limits.Timeout)
	}

	<-demuxDone
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = outWriter.truncated || errWriter.truncated
	result.Duration = time.Since(started)
	return result, nil
}

// Capabilities implements Executor.
func (d *Docker) Capabilities() Capabilities {
	return Capabilities{
		Name:           "docker",
		Platform:       d.platform,
		SupportsStdin:  false,
		DefaultTimeout: DefaultTimeout,
	}
}

// Validate implements Executor.
func (d *Docker) Validate(cmd Command) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}
	if cmd.Stdin != "" {
		return fmt.Errorf("executor: container execution does not support stdin")
	}
	return nil
}

// RemoveLabeled sweeps every container carrying label=value, stopped or
// running. Containers already gone are tolerated.
func (d *Docker) RemoveLabeled(ctx context.Context, label, value string) error {
	filters := make(client.Filters).Add("label", label+"="+value)
	containers, err := d.client.ContainerList(ctx, client.ContainerListOptions{
		All:     true,
		Filters: filters,
	})
	if err != nil {
		return fmt.Errorf("executor: list containers: %w", err)
	}
	for _, ctr := range containers.Items {
		_, _ = d.client.ContainerStop(ctx, ctr.ID, client.ContainerStopOptions{})
		_, err := d.client.ContainerRemove(ctx, ctr.ID, client.ContainerRemoveOptions{
			Force:         true,
			RemoveVolumes: false,
		})
		if err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("executor: remove container %s: %w", ctr.ID, err)
		}
	}
	return nil
}

func (d *Docker) hostConfig() *container.HostConfig {
	if d.workspace == "" {
		return &container.HostConfig{}
	}
	return &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: d.workspace,
			Target: WorkspaceTarget,
		}},
	}
}

// containerDir maps a host working directory into the container. Paths
// under the mounted workspace are rewritten relative to the bind target;
// anything else falls back to the workspace root.
func (d *Docker) containerDir(hostDir string) string {
	if hostDir == "" || d.workspace == "" {
		return WorkspaceTarget
	}
	rel, err := filepath.Rel(d.workspace, hostDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return WorkspaceTarget
	}
	return path.Join(WorkspaceTarget, filepath.ToSlash(rel))
}

func (d *Docker) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	_, _ = d.client.ContainerRemove(ctx, id, client.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: false,
	})
}

func (d *Docker) stopContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	_, _ = d.client.ContainerStop(ctx, id, client.ContainerStopOptions{})
}

// demuxStreams splits the daemon's multiplexed log stream into stdout and
// stderr. Each frame starts with an 8-byte header: byte 0 carries the
// stream type, bytes 4-7 the big-endian payload size.
func demuxStreams(dstOut, dstErr io.Writer, src io.Reader) error {
	reader := bufio.NewReader(src)
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return err
		}
		dst := dstOut
		if header[0] == 2 {
			dst = dstErr
		}
		if _, err := dst.Write(payload); err != nil {
			return err
		}
	}
}
