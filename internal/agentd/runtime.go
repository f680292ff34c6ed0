// Package agentd is the worker-side daemon: a small HTTP service over the
// local Docker engine that the controller drives to start and stop session
// containers.
package agentd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
)

const (
	// ManagedLabel marks every container this daemon owns. Drift
	// reconciliation lists by it; nothing else is ever touched.
	ManagedLabel = "managed_by"
	// ManagedValue is the ManagedLabel value.
	ManagedValue = "compute_booking"
	// UserLabel records the booking owner on the container.
	UserLabel = "user_id"

	cpuPeriod = 100000 // microseconds per scheduling period; quota = cpu * period

	nameAttempts = 5
)

var (
	// ErrImageNotFound means the image cannot be pulled; retrying won't help.
	ErrImageNotFound = errors.New("image not found")

	// ErrContainerNotFound means the named container does not exist.
	ErrContainerNotFound = errors.New("container not found")
)

// StartSpec describes the container to create.
type StartSpec struct {
	Image  string
	CPU    int
	Memory string // "4g", "512m" — passed to the engine as a byte limit
	Port   int
	UserID int64
}

// StartedContainer is the result of a successful start.
type StartedContainer struct {
	Name string
	Port int
}

// ManagedContainer is one entry in the managed-container listing.
type ManagedContainer struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Status string            `json:"status"`
	Labels map[string]string `json:"labels"`
}

// Runtime is the container engine seam. The HTTP server is tested against a
// fake; dockerRuntime is the real thing.
type Runtime interface {
	Start(ctx context.Context, spec StartSpec) (*StartedContainer, error)
	Stop(ctx context.Context, name string) error
	List(ctx context.Context) ([]ManagedContainer, error)
	PullImage(ctx context.Context, ref string) error
}

// dockerRuntime drives the local Docker engine.
type dockerRuntime struct {
	docker    *client.Client
	stopGrace time.Duration
}

// NewDockerRuntime connects to the local engine using the standard DOCKER_*
// environment and negotiates the API version.
func NewDockerRuntime(stopGrace time.Duration) (Runtime, error) {
	c, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: connect: %w", err)
	}
	return &dockerRuntime{docker: c, stopGrace: stopGrace}, nil
}

// Start creates and starts a session container.
//
// The container is named compute_<user_id>_<5-digit>, labelled as managed,
// gets the booking's port published container→host (same number), a memory
// limit from the spec string, and a CPU quota of whole cores. The image is
// pulled first if the engine doesn't have it. Name collisions (a retry after
// a lost response, or sheer luck) regenerate the suffix.
func (r *dockerRuntime) Start(ctx context.Context, spec StartSpec) (*StartedContainer, error) {
	if err := r.ensureImage(ctx, spec.Image); err != nil {
		return nil, err
	}

	memBytes, err := units.RAMInBytes(spec.Memory)
	if err != nil {
		return nil, fmt.Errorf("docker: memory %q: %w", spec.Memory, err)
	}

	port, err := nat.NewPort("tcp", strconv.Itoa(spec.Port))
	if err != nil {
		return nil, fmt.Errorf("docker: port %d: %w", spec.Port, err)
	}

	cfg := &container.Config{
		Image: spec.Image,
		Env: []string{
			"USER_ID=" + strconv.FormatInt(spec.UserID, 10),
			"CONTAINER_PORT=" + strconv.Itoa(spec.Port),
		},
		Labels: map[string]string{
			ManagedLabel: ManagedValue,
			UserLabel:    strconv.FormatInt(spec.UserID, 10),
		},
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.Port)}},
		},
		Resources: container.Resources{
			Memory:    memBytes,
			CPUPeriod: cpuPeriod,
			CPUQuota:  int64(spec.CPU) * cpuPeriod,
		},
	}

	var lastErr error
	for attempt := 0; attempt < nameAttempts; attempt++ {
		name := containerName(spec.UserID)

		created, err := r.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
		if err != nil {
			if errdefs.IsConflict(err) {
				lastErr = err
				continue // name taken, roll a new suffix
			}
			return nil, fmt.Errorf("docker: create: %w", err)
		}

		if err := r.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
			// Don't strand the created-but-unstarted container.
			_ = r.docker.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
			return nil, fmt.Errorf("docker: start: %w", err)
		}

		return &StartedContainer{Name: name, Port: spec.Port}, nil
	}
	return nil, fmt.Errorf("docker: create: name collisions exhausted: %w", lastErr)
}

// Stop stops the container with the configured grace period, then removes it.
// An unknown name is ErrContainerNotFound; the controller treats that as
// idempotent success.
func (r *dockerRuntime) Stop(ctx context.Context, name string) error {
	grace := int(r.stopGrace.Seconds())
	err := r.docker.ContainerStop(ctx, name, container.StopOptions{Timeout: &grace})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("docker: stop %s: %w", name, err)
	}

	err = r.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker: remove %s: %w", name, err)
	}
	return nil
}

// List returns every container carrying the managed label, running or not.
func (r *dockerRuntime) List(ctx context.Context) ([]ManagedContainer, error) {
	found, err := r.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"="+ManagedValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("docker: list: %w", err)
	}

	out := make([]ManagedContainer, 0, len(found))
	for _, c := range found {
		name := ""
		if len(c.Names) > 0 {
			// Docker reports names with a leading slash.
			name = c.Names[0]
			if len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
		}
		id := c.ID
		if len(id) > 12 {
			id = id[:12]
		}
		out = append(out, ManagedContainer{
			ID:     id,
			Name:   name,
			Status: c.Status,
			Labels: c.Labels,
		})
	}
	return out, nil
}

// PullImage pulls an image unconditionally. Diagnostic endpoint.
func (r *dockerRuntime) PullImage(ctx context.Context, ref string) error {
	return r.pull(ctx, ref)
}

// ensureImage pulls the image only if the engine doesn't already have it.
func (r *dockerRuntime) ensureImage(ctx context.Context, ref string) error {
	_, _, err := r.docker.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("docker: inspect image %s: %w", ref, err)
	}
	return r.pull(ctx, ref)
}

func (r *dockerRuntime) pull(ctx context.Context, ref string) error {
	rc, err := r.docker.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrImageNotFound
		}
		return fmt.Errorf("docker: pull %s: %w", ref, err)
	}
	defer rc.Close()

	// The pull runs server-side; draining the progress stream is what waits
	// for it to finish.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("docker: pull %s: %w", ref, err)
	}
	return nil
}

// containerName builds compute_<user_id>_<5-digit>.
func containerName(userID int64) string {
	return fmt.Sprintf("compute_%d_%05d", userID, rand.Intn(100000))
}
