package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	// LabelTenant marks a container with the tenant it serves.
	LabelTenant = "hive.tenant"

	// LabelManagedBy marks containers owned by this host.
	LabelManagedBy = "hive.managed-by"

	// DefaultImage is used when a spec names no image.
	DefaultImage = "python:3.12-slim"

	containerPrefix = "hive-"
)

// DockerRunner runs workers as Docker containers, one per tenant, with the
// tenant's environment bind-mounted read-write at /workspace.
type DockerRunner struct {
	client     *client.Client
	defaultImg string
	stopGrace  int // seconds
}

// DockerOption configures a DockerRunner.
type DockerOption func(*DockerRunner)

// WithImage sets the default container image.
func WithImage(img string) DockerOption {
	return func(r *DockerRunner) {
		r.defaultImg = img
	}
}

// NewDockerRunner connects to the Docker daemon. It fails if the daemon is
// unreachable; callers that want process-based fallback use NewExecRunner.
func NewDockerRunner(opts ...DockerOption) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}

	r := &DockerRunner{
		client:     cli,
		defaultImg: DefaultImage,
		stopGrace:  10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start creates and starts the tenant's container. If a container for the
// tenant already exists it is reused: running containers are returned as-is,
// stopped ones are restarted.
func (r *DockerRunner) Start(ctx context.Context, spec Spec) (*Handle, error) {
	name := containerPrefix + spec.TenantID

	if id, err := r.findContainer(ctx, name); err == nil {
		inspect, err := r.client.ContainerInspect(ctx, id)
		if err == nil {
			if !inspect.State.Running {
				if err := r.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
					return nil, fmt.Errorf("worker %s: restart container: %w", spec.TenantID, err)
				}
			}
			return r.handleFor(ctx, spec.TenantID, id), nil
		}
	}

	img := spec.Image
	if img == "" {
		img = r.defaultImg
	}
	if err := r.ensureImage(ctx, img); err != nil {
		return nil, fmt.Errorf("worker %s: pull image: %w", spec.TenantID, err)
	}

	containerCfg := &container.Config{
		Image:      img,
		WorkingDir: "/workspace",
		Cmd:        spec.Command,
		Env:        append(append([]string{}, spec.Env...), TenantIDEnv+"="+spec.TenantID),
		Labels: map[string]string{
			LabelTenant:    spec.TenantID,
			LabelManagedBy: "hive",
		},
		User: "1000:1000",
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: spec.Dir,
				Target: "/workspace",
			},
		},
	}
	if spec.Limits.MemoryBytes > 0 {
		hostCfg.Resources.Memory = spec.Limits.MemoryBytes
	}
	if spec.Limits.CPUPercent > 0 {
		// CPUPercent maps to a quota against the default 100ms period.
		hostCfg.Resources.CPUPeriod = 100000
		hostCfg.Resources.CPUQuota = int64(spec.Limits.CPUPercent) * 1000
	}

	resp, err := r.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("worker %s: create container: %w", spec.TenantID, err)
	}
	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("worker %s: start container: %w", spec.TenantID, err)
	}

	slog.Info("worker: container started", "tenant", spec.TenantID, "container", resp.ID[:12])
	return r.handleFor(ctx, spec.TenantID, resp.ID), nil
}

// handleFor builds a handle, recording the container's init pid so the
// resource monitor can sample it through procfs.
func (r *DockerRunner) handleFor(ctx context.Context, tenantID, id string) *Handle {
	h := &Handle{TenantID: tenantID, ContainerID: id, StartedAt: time.Now()}
	if inspect, err := r.client.ContainerInspect(ctx, id); err == nil {
		h.PID = inspect.State.Pid
	}
	return h
}

// Stop stops the tenant's container with the grace timeout. A container that
// no longer exists is success.
func (r *DockerRunner) Stop(ctx context.Context, h *Handle) error {
	if h == nil || h.ContainerID == "" {
		return nil
	}

	timeout := r.stopGrace
	err := r.client.ContainerStop(ctx, h.ContainerID, container.StopOptions{Timeout: &timeout})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// Remove stops and deletes the tenant's container so teardown leaves nothing
// behind. Absence is success.
func (r *DockerRunner) Remove(ctx context.Context, h *Handle) error {
	if h == nil || h.ContainerID == "" {
		return nil
	}

	timeout := r.stopGrace
	_ = r.client.ContainerStop(ctx, h.ContainerID, container.StopOptions{Timeout: &timeout})

	err := r.client.ContainerRemove(ctx, h.ContainerID, container.RemoveOptions{Force: true})
	if err != nil && client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// Alive reports whether the container exists, is running, and carries this
// tenant's label.
func (r *DockerRunner) Alive(ctx context.Context, h *Handle) bool {
	if h == nil || h.ContainerID == "" {
		return false
	}

	inspect, err := r.client.ContainerInspect(ctx, h.ContainerID)
	if err != nil {
		return false
	}
	return inspect.State.Running && inspect.Config.Labels[LabelTenant] == h.TenantID
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.client.Close()
}

// findContainer resolves a container name to an id.
func (r *DockerRunner) findContainer(ctx context.Context, name string) (string, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", name),
		),
	})
	if err != nil {
		return "", err
	}

	for _, c := range containers {
		for _, n := range c.Names {
			if n == "/"+name {
				return c.ID, nil
			}
		}
	}
	return "", fmt.Errorf("container not found: %s", name)
}

// ensureImage pulls an image if not present locally.
func (r *DockerRunner) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := r.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}

	reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}
