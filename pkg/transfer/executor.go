// Package transfer moves the backup directory between the two ephemeral
// workloads' mounted volumes, through local staging, using one of two
// interchangeable strategies: stream-archive (tar) or incremental-sync
// (rsync over an exec transport).
package transfer

import (
	"context"
	"io"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/workload"
)

// Executor runs a command inside a workload pod with attached streams.
type Executor interface {
	Exec(ctx context.Context, namespace, pod string, command []string, stdin io.Reader, stdout, stderr io.Writer) error
}

// Endpoint binds an executor to one workload and the path of interest on its
// mounted volume.
type Endpoint struct {
	Exec Executor
	Pod  *workload.Workload
	// Path is the directory being moved (source side) or the path root the
	// directory is placed under (destination side).
	Path string
	// Kubeconfig is the session's isolated credential context, consumed by
	// the rsync exec transport.
	Kubeconfig string
}

// SPDYExecutor execs through the API server's pod exec subresource.
type SPDYExecutor struct {
	client kubernetes.Interface
	config *rest.Config
}

// NewSPDYExecutor creates an Executor for one cluster.
func NewSPDYExecutor(client kubernetes.Interface, config *rest.Config) *SPDYExecutor {
	return &SPDYExecutor{client: client, config: config}
}

func (e *SPDYExecutor) Exec(ctx context.Context, namespace, pod string, command []string, stdin io.Reader, stdout, stderr io.Writer) error {
	req := e.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(pod).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: workload.ContainerName,
			Command:   command,
			Stdin:     stdin != nil,
			Stdout:    stdout != nil,
			Stderr:    stderr != nil,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(e.config, "POST", req.URL())
	if err != nil {
		return err
	}

	return exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
	})
}
