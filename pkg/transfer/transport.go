package transfer

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// RunTransport is the rsync remote-shell entry point. rsync invokes this
// process with the pod name followed by the remote rsync server command;
// everything on stdin/stdout is piped through a pod exec session.
func RunTransport(ctx context.Context, kubeconfig, namespace string, args []string) error {
	if len(args) < 2 {
		return errors.New("rsync-transport: expected <pod> <command...>")
	}
	pod, command := args[0], args[1:]

	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return errors.Wrap(err, "rsync-transport: loading kubeconfig")
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "rsync-transport: building client")
	}

	exec := NewSPDYExecutor(client, cfg)
	return exec.Exec(ctx, namespace, pod, command, os.Stdin, os.Stdout, os.Stderr)
}
