// Package storage reads the source volume's characteristics and provisions a
// compatible claim on the destination cluster.
package storage

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/types"
)

const (
	// FallbackCapacity is used when the source capacity cannot be read.
	FallbackCapacity = "20Gi"

	defaultClassAnnotation = "storageclass.kubernetes.io/is-default-class"
)

// ReadSource derives a VolumeSpec from the live source PVC. Capacity comes
// from the claim's status, falling back to the spec request.
func ReadSource(ctx context.Context, client kubernetes.Interface, namespace, claim string) (*types.VolumeSpec, error) {
	pvc, err := client.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, claim, metav1.GetOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "reading source claim %s/%s", namespace, claim)
	}

	spec := &types.VolumeSpec{
		AccessModes: pvc.Spec.AccessModes,
		VolumeMode:  pvc.Spec.VolumeMode,
	}
	if pvc.Spec.StorageClassName != nil {
		spec.StorageClass = *pvc.Spec.StorageClassName
	}

	if qty, ok := pvc.Status.Capacity[corev1.ResourceStorage]; ok {
		spec.Capacity = qty
	} else if qty, ok := pvc.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
		spec.Capacity = qty
	}

	return spec, nil
}

// Resolver derives destination volume specs and provisions claims on the
// destination cluster.
type Resolver struct {
	client kubernetes.Interface
	logger log.FieldLogger
}

// New creates a Resolver bound to the destination cluster.
func New(client kubernetes.Interface, logger log.FieldLogger) *Resolver {
	return &Resolver{client: client, logger: logger.WithField("component", "storage")}
}

// Resolve derives the destination volume spec from the source's. The storage
// class follows a strict fallback chain: the source's class if it exists on
// the destination, else the destination's default class, else none.
func (r *Resolver) Resolve(ctx context.Context, src *types.VolumeSpec) (*types.VolumeSpec, error) {
	dest := &types.VolumeSpec{
		Capacity:    src.Capacity,
		AccessModes: src.AccessModes,
		VolumeMode:  src.VolumeMode,
	}

	class, err := r.resolveClass(ctx, src.StorageClass)
	if err != nil {
		return nil, err
	}
	dest.StorageClass = class

	if dest.Capacity.IsZero() {
		r.logger.Warnf("Source capacity could not be read, falling back to %s", FallbackCapacity)
		dest.Capacity = resource.MustParse(FallbackCapacity)
	}
	if len(dest.AccessModes) == 0 {
		dest.AccessModes = []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce}
	}

	return dest, nil
}

func (r *Resolver) resolveClass(ctx context.Context, srcClass string) (string, error) {
	if srcClass != "" {
		_, err := r.client.StorageV1().StorageClasses().Get(ctx, srcClass, metav1.GetOptions{})
		if err == nil {
			r.logger.Debugf("Reusing source storage class %q", srcClass)
			return srcClass, nil
		}
		if !apierrors.IsNotFound(err) {
			return "", errors.Wrap(err, "looking up storage class")
		}
		r.logger.Debugf("Storage class %q not present on destination", srcClass)
	}

	classes, err := r.client.StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return "", errors.Wrap(err, "listing destination storage classes")
	}
	for _, sc := range classes.Items {
		if sc.Annotations[defaultClassAnnotation] == "true" {
			r.logger.Debugf("Using destination default storage class %q", sc.Name)
			return sc.Name, nil
		}
	}

	// No class at all: the destination applies its own default provisioning.
	r.logger.Debug("No storage class resolved, leaving it to the destination cluster")
	return "", nil
}

// EnsureClaim creates the destination claim if it does not exist. An existing
// claim of the same name is trusted as-is; a spec mismatch is reported as a
// warning only, so re-runs against a half-migrated cluster keep working.
func (r *Resolver) EnsureClaim(ctx context.Context, namespace, name string, spec *types.VolumeSpec) error {
	existing, err := r.client.CoreV1().PersistentVolumeClaims(namespace).Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		r.logger.Infof("Claim %s/%s already exists, reusing it", namespace, name)
		r.warnOnMismatch(existing, spec)
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "checking claim %s/%s", namespace, name)
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: spec.AccessModes,
			VolumeMode:  spec.VolumeMode,
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: spec.Capacity,
				},
			},
		},
	}
	if spec.StorageClass != "" {
		pvc.Spec.StorageClassName = &spec.StorageClass
	}

	_, err = r.client.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "provisioning claim %s/%s", namespace, name)
	}

	r.logger.WithFields(log.Fields{
		"claim":    namespace + "/" + name,
		"capacity": spec.Capacity.String(),
		"class":    spec.StorageClass,
	}).Info("Provisioned destination claim")
	return nil
}

func (r *Resolver) warnOnMismatch(existing *corev1.PersistentVolumeClaim, want *types.VolumeSpec) {
	if qty, ok := existing.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
		if qty.Cmp(want.Capacity) != 0 {
			r.logger.Warnf("Existing claim %s requests %s, source has %s", existing.Name, qty.String(), want.Capacity.String())
		}
	}
	if !sameAccessModes(existing.Spec.AccessModes, want.AccessModes) {
		r.logger.Warnf("Existing claim %s access modes %v differ from source %v", existing.Name, existing.Spec.AccessModes, want.AccessModes)
	}
}

// sameAccessModes compares access modes as unordered sets.
func sameAccessModes(a, b []corev1.PersistentVolumeAccessMode) bool {
	if len(a) != len(b) {
		return false
	}
	as := make([]string, len(a))
	bs := make([]string, len(b))
	for i := range a {
		as[i] = string(a[i])
		bs[i] = string(b[i])
	}
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
