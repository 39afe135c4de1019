package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/containerd/containerd/runtime/restart"
	"github.com/moby/locker"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/burrowctl/burrow/pkg/errdefs"
	"github.com/burrowctl/burrow/pkg/log"
	"github.com/burrowctl/burrow/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace burrow manages
	DefaultNamespace = "burrow"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Labels attached to every container burrow creates. Inspect reads them
// back when the agent needs to recreate a container (self-upgrade).
const (
	labelImage   = "burrow/image"
	labelVolumes = "burrow/volumes"
	labelRestart = "burrow/restart-policy"
	labelNetwork = "burrow/network"
	labelPorts   = "burrow/ports"
)

// onFailureMaxRetries bounds on-failure restarts handed to the
// containerd restart monitor.
const onFailureMaxRetries = 5

// ContainerdRuntime drives containers through containerd. Container IDs
// are the burrow container names, so lookup by name is a direct load.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	logDir    string
	locks     *locker.Locker
}

// NewContainerdRuntime connects to containerd. Task output is written to
// per-container log files under logDir.
func NewContainerdRuntime(socketPath, logDir string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, errdefs.RuntimeUnavailable("connect to containerd at %s: %v", socketPath, err)
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		client.Close()
		return nil, fmt.Errorf("create log dir %s: %w", logDir, err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
		logDir:    logDir,
		locks:     locker.New(),
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Available reports whether containerd answers on the socket.
func (r *ContainerdRuntime) Available(ctx context.Context) bool {
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	serving, err := r.client.IsServing(ctx)
	return err == nil && serving
}

// EnsureImage pulls an image unless it is already present.
func (r *ContainerdRuntime) EnsureImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	if _, err := r.client.GetImage(ctx, imageRef); err == nil {
		return nil
	}
	if _, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return errdefs.ImageNotFound("pull %s: %v", imageRef, err)
	}
	return nil
}

// Deploy creates and starts a named container. An existing container
// with the same name is stopped and removed first, so repeating a deploy
// converges instead of failing.
func (r *ContainerdRuntime) Deploy(ctx context.Context, req *types.DeployRequest) (string, error) {
	r.locks.Lock(req.ContainerName)
	defer r.locks.Unlock(req.ContainerName)

	ctx = namespaces.WithNamespace(ctx, r.namespace)
	logger := log.WithComponent("runtime")

	bindings, err := parsePortBindings(req.Ports)
	if err != nil {
		return "", errdefs.Invalid("container %s: %v", req.ContainerName, err)
	}

	if err := r.EnsureImage(ctx, req.Image); err != nil {
		return "", err
	}

	// Replace any previous incarnation of this name.
	if existing, err := r.client.LoadContainer(ctx, req.ContainerName); err == nil {
		logger.Info().Str("container", req.ContainerName).Msg("Replacing existing container")
		if err := r.teardown(ctx, existing); err != nil {
			return "", fmt.Errorf("remove previous container %s: %w", req.ContainerName, err)
		}
	}

	image, err := r.client.GetImage(ctx, req.Image)
	if err != nil {
		return "", errdefs.ImageNotFound("get image %s: %v", req.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(envList(req.Env)),
	}
	if len(req.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(req.Command...))
	}
	mounts, err := bindMounts(req.Volumes)
	if err != nil {
		return "", err
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}
	// Containers share the host network so published ports resolve on
	// the VPN address without a CNI layer.
	opts = append(opts, oci.WithHostNamespace(specs.NetworkNamespace), oci.WithHostHostsFile, oci.WithHostResolvconf)

	newOpts := []containerd.NewContainerOpts{
		containerd.WithImage(image),
		containerd.WithNewSnapshot(req.ContainerName+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(deployLabels(req, bindings)),
	}
	restartOpts, err := restartMonitorOpts(req.RestartPolicy)
	if err != nil {
		return "", errdefs.Invalid("container %s: %v", req.ContainerName, err)
	}
	newOpts = append(newOpts, restartOpts...)

	container, err := r.client.NewContainer(ctx, req.ContainerName, newOpts...)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", req.ContainerName, err)
	}

	if err := r.startTask(ctx, container); err != nil {
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		return "", err
	}

	if err := publishPorts(req.ContainerName, bindings); err != nil {
		r.teardown(ctx, container)
		return "", err
	}

	logger.Info().
		Str("container", req.ContainerName).
		Str("image", req.Image).
		Msg("Container started")
	return container.ID(), nil
}

// restartMonitorOpts translates a restart policy into labels for the
// containerd restart monitor. on-failure carries a bounded retry count.
func restartMonitorOpts(policy types.RestartPolicy) ([]containerd.NewContainerOpts, error) {
	var spec string
	switch policy {
	case types.RestartNo, "":
		return nil, nil
	case types.RestartAlways:
		spec = "always"
	case types.RestartUnlessStopped:
		spec = "unless-stopped"
	case types.RestartOnFailure:
		spec = fmt.Sprintf("on-failure:%d", onFailureMaxRetries)
	default:
		return nil, fmt.Errorf("unknown restart policy %q", policy)
	}

	p, err := restart.NewPolicy(spec)
	if err != nil {
		return nil, err
	}
	return []containerd.NewContainerOpts{
		restart.WithPolicy(p),
		restart.WithStatus(containerd.Running),
	}, nil
}

// Stop stops a named container, SIGTERM first and SIGKILL once the
// timeout passes. The container itself is kept so it can be restarted.
func (r *ContainerdRuntime) Stop(ctx context.Context, name string, timeoutSec int) error {
	r.locks.Lock(name)
	defer r.locks.Unlock(name)

	ctx = namespaces.WithNamespace(ctx, r.namespace)
	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return errdefs.NotFound("container %s", name)
	}
	// An operator stop must not be undone by the restart monitor.
	if err := r.setRestartStatus(ctx, container, containerd.Stopped); err != nil {
		return err
	}
	return r.stopTask(ctx, container, time.Duration(timeoutSec)*time.Second)
}

// Restart stops and starts a named container.
func (r *ContainerdRuntime) Restart(ctx context.Context, name string, timeoutSec int) error {
	r.locks.Lock(name)
	defer r.locks.Unlock(name)

	ctx = namespaces.WithNamespace(ctx, r.namespace)
	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return errdefs.NotFound("container %s", name)
	}
	if err := r.stopTask(ctx, container, time.Duration(timeoutSec)*time.Second); err != nil {
		return err
	}
	if err := r.startTask(ctx, container); err != nil {
		return err
	}
	return r.setRestartStatus(ctx, container, containerd.Running)
}

// setRestartStatus updates the restart monitor's status label when the
// container carries one; containers without a policy have no label.
func (r *ContainerdRuntime) setRestartStatus(ctx context.Context, container containerd.Container, status containerd.ProcessStatus) error {
	labels, err := container.Labels(ctx)
	if err != nil {
		return fmt.Errorf("read labels of %s: %w", container.ID(), err)
	}
	if _, ok := labels[restart.StatusLabel]; !ok {
		return nil
	}
	_, err = container.SetLabels(ctx, map[string]string{restart.StatusLabel: string(status)})
	return err
}

// Remove stops and deletes a named container, its snapshot and its log
// file. Removing a container that does not exist is not an error.
func (r *ContainerdRuntime) Remove(ctx context.Context, name string) error {
	r.locks.Lock(name)
	defer r.locks.Unlock(name)

	ctx = namespaces.WithNamespace(ctx, r.namespace)
	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return nil
	}
	return r.teardown(ctx, container)
}

// Status reports the state of a named container.
func (r *ContainerdRuntime) Status(ctx context.Context, name string) (*types.ContainerStatusInfo, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return nil, errdefs.NotFound("container %s", name)
	}
	return r.statusOf(ctx, container)
}

// Logs returns up to tail trailing lines of a container's output.
func (r *ContainerdRuntime) Logs(ctx context.Context, name string, tail int) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)
	if _, err := r.client.LoadContainer(ctx, name); err != nil {
		return "", errdefs.NotFound("container %s", name)
	}

	data, err := os.ReadFile(r.logPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read logs for %s: %w", name, err)
	}
	return tailLines(string(data), tail), nil
}

// List enumerates the containers in the burrow namespace.
func (r *ContainerdRuntime) List(ctx context.Context) ([]types.ContainerStatusInfo, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	infos := make([]types.ContainerStatusInfo, 0, len(containers))
	for _, c := range containers {
		info, err := r.statusOf(ctx, c)
		if err != nil {
			continue
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// Inspect captures the configuration a container was created with.
func (r *ContainerdRuntime) Inspect(ctx context.Context, name string) (*SelfConfig, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return nil, errdefs.NotFound("container %s", name)
	}

	info, err := container.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", name, err)
	}
	spec, err := container.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect spec of %s: %w", name, err)
	}

	cfg := &SelfConfig{
		Image:  info.Image,
		Env:    spec.Process.Env,
		Labels: info.Labels,
	}
	if v := info.Labels[labelVolumes]; v != "" {
		cfg.Volumes = strings.Split(v, ",")
	}
	return cfg, nil
}

func (r *ContainerdRuntime) startTask(ctx context.Context, container containerd.Container) error {
	task, err := container.NewTask(ctx, cio.LogFile(r.logPath(container.ID())))
	if err != nil {
		return fmt.Errorf("create task for %s: %w", container.ID(), err)
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return fmt.Errorf("start task for %s: %w", container.ID(), err)
	}
	return nil
}

func (r *ContainerdRuntime) stopTask(ctx context.Context, container containerd.Container, timeout time.Duration) error {
	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container is already stopped.
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("wait on task %s: %w", container.ID(), err)
	}
	if err := task.Kill(ctx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal task %s: %w", container.ID(), err)
	}

	select {
	case <-statusC:
	case <-time.After(timeout):
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force kill task %s: %w", container.ID(), err)
		}
		<-statusC
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("delete task %s: %w", container.ID(), err)
	}
	return nil
}

func (r *ContainerdRuntime) teardown(ctx context.Context, container containerd.Container) error {
	if err := r.setRestartStatus(ctx, container, containerd.Stopped); err != nil {
		return err
	}
	if err := r.stopTask(ctx, container, 10*time.Second); err != nil {
		return err
	}
	if labels, err := container.Labels(ctx); err == nil {
		unpublishPorts(container.ID(), decodePortLabel(labels[labelPorts]))
	}
	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container %s: %w", container.ID(), err)
	}
	os.Remove(r.logPath(container.ID()))
	return nil
}

func (r *ContainerdRuntime) statusOf(ctx context.Context, container containerd.Container) (*types.ContainerStatusInfo, error) {
	info, err := container.Info(ctx)
	if err != nil {
		return nil, err
	}

	status := "stopped"
	if task, err := container.Task(ctx, nil); err == nil {
		st, err := task.Status(ctx)
		if err == nil {
			switch st.Status {
			case containerd.Running:
				status = "running"
			case containerd.Paused, containerd.Pausing:
				status = "paused"
			case containerd.Created:
				status = "created"
			case containerd.Stopped:
				if st.ExitStatus != 0 {
					status = "failed"
				}
			}
		}
	}

	return &types.ContainerStatusInfo{
		ContainerID:   container.ID(),
		ContainerName: container.ID(),
		Image:         info.Image,
		Status:        status,
	}, nil
}

func (r *ContainerdRuntime) logPath(name string) string {
	return filepath.Join(r.logDir, name+".log")
}

// envList flattens an env map into sorted KEY=value pairs so container
// specs are deterministic.
func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// bindMounts parses "src:dst" or "src:dst:ro" volume strings.
func bindMounts(volumes []string) ([]specs.Mount, error) {
	mounts := make([]specs.Mount, 0, len(volumes))
	for _, v := range volumes {
		parts := strings.Split(v, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid volume %q, want src:dst[:ro]", v)
		}
		options := []string{"rbind", "rw"}
		if len(parts) == 3 {
			if parts[2] != "ro" && parts[2] != "rw" {
				return nil, fmt.Errorf("invalid volume mode %q in %q", parts[2], v)
			}
			options = []string{"rbind", parts[2]}
		}
		mounts = append(mounts, specs.Mount{
			Type:        "bind",
			Source:      parts[0],
			Destination: parts[1],
			Options:     options,
		})
	}
	return mounts, nil
}

func deployLabels(req *types.DeployRequest, bindings []portBinding) map[string]string {
	labels := map[string]string{
		labelImage:   req.Image,
		labelRestart: string(req.RestartPolicy),
	}
	if len(req.Volumes) > 0 {
		labels[labelVolumes] = strings.Join(req.Volumes, ",")
	}
	if req.Network != "" {
		labels[labelNetwork] = req.Network
	}
	if len(bindings) > 0 {
		labels[labelPorts] = encodePortLabel(bindings)
	}
	return labels
}

// tailLines returns the last n lines of s. n <= 0 means everything.
func tailLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}
