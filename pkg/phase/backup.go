package phase

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
)

const (
	apiGroup   = "awx.ansible.com"
	apiVersion = "v1beta1"

	// BackupName is the well-known name of the snapshot record. One per run;
	// a stale record from a prior run is replaced, never accumulated.
	BackupName = "controller-backup"

	conditionSuccessful = "Successful"
)

// BackupGVR locates the Backup custom resource.
var BackupGVR = schema.GroupVersionResource{Group: apiGroup, Version: apiVersion, Resource: "awxbackups"}

// BackupResult holds the fields extracted from a succeeded backup, with the
// documented defaults already applied.
type BackupResult struct {
	// Directory is the backup directory on the backing volume.
	Directory string
	// Claim is the name of the PVC the operator wrote the backup to.
	Claim string
}

// Backup submits the snapshot request on the source cluster and waits for
// the operator to report success.
type Backup struct {
	client    dynamic.Interface
	namespace string
	identity  string
	logger    log.FieldLogger

	// Poll cadence, overridable in tests.
	Timeout  time.Duration
	Interval time.Duration
}

// NewBackup creates the backup phase controller for the source namespace.
func NewBackup(client dynamic.Interface, namespace, identity string, logger log.FieldLogger) *Backup {
	return &Backup{
		client:    client,
		namespace: namespace,
		identity:  identity,
		logger:    logger.WithField("phase", "backup"),
		Timeout:   DefaultTimeout,
		Interval:  DefaultInterval,
	}
}

// Run executes the full phase: replace any stale record, submit, poll,
// decode. Any non-success exit is fatal to the whole migration.
func (b *Backup) Run(ctx context.Context) (*BackupResult, error) {
	if err := replaceExisting(ctx, b.client, BackupGVR, b.namespace, BackupName, b.Interval); err != nil {
		return nil, errors.Wrap(err, "backup phase")
	}

	if err := b.submit(ctx); err != nil {
		return nil, errors.Wrap(err, "backup phase: submitting")
	}
	b.logger.WithField("name", BackupName).Info("Backup submitted, waiting for completion")

	obj, err := WaitForCondition(ctx, b.logger, b.get,
		Want{Type: conditionSuccessful, Status: "True", Reason: conditionSuccessful},
		nil, b.Timeout, b.Interval)
	if err != nil {
		return nil, errors.Wrap(err, "backup phase")
	}

	result := decodeBackup(obj, b.identity)
	b.logger.WithFields(log.Fields{
		"backupDirectory": result.Directory,
		"backupClaim":     result.Claim,
	}).Info("Backup succeeded")
	return result, nil
}

func (b *Backup) submit(ctx context.Context) error {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": apiGroup + "/" + apiVersion,
		"kind":       "AWXBackup",
		"metadata": map[string]interface{}{
			"name":      BackupName,
			"namespace": b.namespace,
		},
		"spec": map[string]interface{}{
			"deployment_name": b.identity,
		},
	}}

	_, err := b.client.Resource(BackupGVR).Namespace(b.namespace).Create(ctx, obj, metav1.CreateOptions{})
	return err
}

func (b *Backup) get(ctx context.Context) (*unstructured.Unstructured, error) {
	return b.client.Resource(BackupGVR).Namespace(b.namespace).Get(ctx, BackupName, metav1.GetOptions{})
}

// decodeBackup extracts the result fields with their explicit fallbacks:
// missing backupDirectory reads as /backups, missing backupClaim as
// <identity>-backup-claim.
func decodeBackup(obj *unstructured.Unstructured, identity string) *BackupResult {
	result := &BackupResult{
		Directory: "/backups",
		Claim:     identity + "-backup-claim",
	}
	if dir, found, _ := unstructured.NestedString(obj.Object, "status", "backupDirectory"); found && dir != "" {
		result.Directory = dir
	}
	if claim, found, _ := unstructured.NestedString(obj.Object, "status", "backupClaim"); found && claim != "" {
		result.Claim = claim
	}
	return result
}

// replaceExisting deletes a same-named record left by a prior run and waits
// for the deletion to complete, so exactly one record exists afterward.
func replaceExisting(ctx context.Context, client dynamic.Interface, gvr schema.GroupVersionResource, namespace, name string, interval time.Duration) error {
	err := client.Resource(gvr).Namespace(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "deleting stale %s", name)
	}

	// Await the deletion before resubmitting under the same name.
	deadline := time.Now().Add(2 * time.Minute)
	for {
		_, err := client.Resource(gvr).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "checking stale %s", name)
		}
		if time.Now().After(deadline) {
			return errors.Errorf("stale %s was not deleted in time", name)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
