// Package teardown guarantees cleanup of ephemeral resources on every exit
// path, and — on a fully successful run only — the destructive removal of
// both backing volumes.
package teardown

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/workload"
)

// Timeout bounds the whole teardown pass. A fresh deadline is used so
// cleanup still proceeds after the run's context was canceled.
const Timeout = 2 * time.Minute

type workloadEntry struct {
	manager *workload.Manager
	ref     *workload.Workload
}

type volumeEntry struct {
	client    kubernetes.Interface
	namespace string
	name      string
}

// Coordinator collects resources as they are created and releases them
// exactly once. Each deletion is attempted once; failures are logged, never
// escalated, so a partial teardown cannot change the run's outcome.
type Coordinator struct {
	logger log.FieldLogger

	once      sync.Once
	workloads []workloadEntry
	volumes   []volumeEntry
	success   bool
}

// New creates an empty Coordinator.
func New(logger log.FieldLogger) *Coordinator {
	return &Coordinator{logger: logger.WithField("component", "teardown")}
}

// AddWorkload registers an ephemeral workload for unconditional deletion.
func (c *Coordinator) AddWorkload(manager *workload.Manager, ref *workload.Workload) {
	c.workloads = append(c.workloads, workloadEntry{manager: manager, ref: ref})
}

// AddVolume registers a volume for the destructive success-path deletion.
func (c *Coordinator) AddVolume(client kubernetes.Interface, namespace, name string) {
	c.volumes = append(c.volumes, volumeEntry{client: client, namespace: namespace, name: name})
}

// MarkSuccess arms the volume deletions. Without it only the ephemeral
// workloads are cleaned up.
func (c *Coordinator) MarkSuccess() {
	c.success = true
}

// Run executes the teardown exactly once. Safe to call from a defer and an
// exit path simultaneously.
func (c *Coordinator) Run() {
	c.once.Do(c.run)
}

func (c *Coordinator) run() {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	for _, e := range c.workloads {
		e.manager.Terminate(ctx, e.ref)
	}

	if !c.success {
		if len(c.volumes) > 0 {
			c.logger.Info("Run did not complete, leaving volumes in place")
		}
		return
	}

	// Terminal state of a successful migration: both volumes are removed.
	for _, v := range c.volumes {
		err := v.client.CoreV1().PersistentVolumeClaims(v.namespace).Delete(ctx, v.name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			c.logger.Warnf("Failed to delete volume %s/%s: %v", v.namespace, v.name, err)
			continue
		}
		c.logger.Infof("Deleted volume %s/%s", v.namespace, v.name)
	}
}
