package phase

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

// RestoreName is the well-known name of the restore record on the
// destination cluster.
const RestoreName = "aap-controller-restore"

// RestoreGVR locates the Restore custom resource.
var RestoreGVR = schema.GroupVersionResource{Group: apiGroup, Version: apiVersion, Resource: "awxrestores"}

// Restore submits the restore request on the destination cluster and waits
// for the operator to report completion. Success requires the Successful
// condition and the restoreComplete flag to hold simultaneously.
type Restore struct {
	client    dynamic.Interface
	namespace string
	identity  string
	claim     string // destination PVC holding the transferred backup
	backupDir string // directory name extracted from the backup phase
	logger    log.FieldLogger

	Timeout  time.Duration
	Interval time.Duration
}

// NewRestore creates the restore phase controller for the destination
// namespace. claim and backupDir come from the earlier phases.
func NewRestore(client dynamic.Interface, namespace, identity, claim, backupDir string, logger log.FieldLogger) *Restore {
	return &Restore{
		client:    client,
		namespace: namespace,
		identity:  identity,
		claim:     claim,
		backupDir: backupDir,
		logger:    logger.WithField("phase", "restore"),
		Timeout:   DefaultTimeout,
		Interval:  DefaultInterval,
	}
}

// Run executes the full phase: replace any stale record, submit, poll.
func (r *Restore) Run(ctx context.Context) error {
	if err := replaceExisting(ctx, r.client, RestoreGVR, r.namespace, RestoreName, r.Interval); err != nil {
		return errors.Wrap(err, "restore phase")
	}

	if err := r.submit(ctx); err != nil {
		return errors.Wrap(err, "restore phase: submitting")
	}
	r.logger.WithFields(log.Fields{
		"name":      RestoreName,
		"backupDir": r.backupDir,
	}).Info("Restore submitted, waiting for completion")

	_, err := WaitForCondition(ctx, r.logger, r.get,
		Want{Type: conditionSuccessful, Status: "True", Reason: conditionSuccessful},
		restoreComplete, r.Timeout, r.Interval)
	if err != nil {
		return errors.Wrap(err, "restore phase")
	}

	r.logger.Info("Restore succeeded")
	return nil
}

func (r *Restore) submit(ctx context.Context) error {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": apiGroup + "/" + apiVersion,
		"kind":       "AWXRestore",
		"metadata": map[string]interface{}{
			"name":      RestoreName,
			"namespace": r.namespace,
		},
		"spec": map[string]interface{}{
			"deployment_name": r.identity,
			"backup_pvc":      r.claim,
			"backup_dir":      r.backupDir,
		},
	}}

	_, err := r.client.Resource(RestoreGVR).Namespace(r.namespace).Create(ctx, obj, metav1.CreateOptions{})
	return err
}

func (r *Restore) get(ctx context.Context) (*unstructured.Unstructured, error) {
	return r.client.Resource(RestoreGVR).Namespace(r.namespace).Get(ctx, RestoreName, metav1.GetOptions{})
}

// restoreComplete reads the operator's completion flag, tolerating both the
// boolean and string renderings it has been observed to use.
func restoreComplete(obj *unstructured.Unstructured) bool {
	v, found, _ := unstructured.NestedFieldNoCopy(obj.Object, "status", "restoreComplete")
	if !found {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "True"
	default:
		return false
	}
}
