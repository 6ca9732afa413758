package transfer

import (
	"context"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/workload"
)

// fakeExecutor records exec calls and delegates behavior to a handler.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   [][]string
	handler func(command []string, stdin io.Reader, stdout io.Writer) error
}

func (f *fakeExecutor) Exec(_ context.Context, _, _ string, command []string, stdin io.Reader, stdout, _ io.Writer) error {
	f.mu.Lock()
	f.calls = append(f.calls, command)
	f.mu.Unlock()

	if f.handler != nil {
		return f.handler(command, stdin, stdout)
	}
	return nil
}

func (f *fakeExecutor) commands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func endpoint(exec Executor, namespace, pod, path string) Endpoint {
	return Endpoint{
		Exec: exec,
		Pod:  &workload.Workload{Namespace: namespace, Name: pod},
		Path: path,
	}
}

func quietLogger() log.FieldLogger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger
}
