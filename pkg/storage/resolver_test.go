package storage

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/types"
)

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger
}

func storageClass(name string, isDefault bool) *storagev1.StorageClass {
	sc := &storagev1.StorageClass{
		ObjectMeta: metav1.ObjectMeta{Name: name},
	}
	if isDefault {
		sc.Annotations = map[string]string{defaultClassAnnotation: "true"}
	}
	return sc
}

func TestReadSource(t *testing.T) {
	mode := corev1.PersistentVolumeFilesystem
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "data", Namespace: "ns-a"},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			VolumeMode:       &mode,
			StorageClassName: ptr.To("gp3"),
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("8Gi")},
			},
		},
		Status: corev1.PersistentVolumeClaimStatus{
			Capacity: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("10Gi")},
		},
	}

	client := fake.NewSimpleClientset(pvc)
	spec, err := ReadSource(context.Background(), client, "ns-a", "data")
	require.NoError(t, err)

	// Status capacity wins over the spec request.
	assert.Equal(t, "10Gi", spec.Capacity.String())
	assert.Equal(t, []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce}, spec.AccessModes)
	assert.Equal(t, "gp3", spec.StorageClass)
	require.NotNil(t, spec.VolumeMode)
	assert.Equal(t, corev1.PersistentVolumeFilesystem, *spec.VolumeMode)
}

func TestReadSource_SpecRequestFallback(t *testing.T) {
	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "data", Namespace: "ns-a"},
		Spec: corev1.PersistentVolumeClaimSpec{
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("8Gi")},
			},
		},
	}

	client := fake.NewSimpleClientset(pvc)
	spec, err := ReadSource(context.Background(), client, "ns-a", "data")
	require.NoError(t, err)
	assert.Equal(t, "8Gi", spec.Capacity.String())
}

func TestReadSource_NotFound(t *testing.T) {
	client := fake.NewSimpleClientset()
	_, err := ReadSource(context.Background(), client, "ns-a", "missing")
	require.Error(t, err)
}

func TestResolve_ReusesSourceClass(t *testing.T) {
	client := fake.NewSimpleClientset(
		storageClass("gp3", false),
		storageClass("standard", true),
	)
	r := New(client, testLogger())

	dest, err := r.Resolve(context.Background(), &types.VolumeSpec{
		Capacity:     resource.MustParse("10Gi"),
		AccessModes:  []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
		StorageClass: "gp3",
	})
	require.NoError(t, err)

	// Matching class name wins even when a default exists.
	assert.Equal(t, "gp3", dest.StorageClass)
}

func TestResolve_FallsBackToDefaultClass(t *testing.T) {
	client := fake.NewSimpleClientset(
		storageClass("standard", true),
		storageClass("slow", false),
	)
	r := New(client, testLogger())

	dest, err := r.Resolve(context.Background(), &types.VolumeSpec{
		Capacity:     resource.MustParse("10Gi"),
		StorageClass: "gp3", // not present on the destination
	})
	require.NoError(t, err)
	assert.Equal(t, "standard", dest.StorageClass)
}

func TestResolve_OmitsClassWhenNoneAvailable(t *testing.T) {
	client := fake.NewSimpleClientset(storageClass("slow", false))
	r := New(client, testLogger())

	dest, err := r.Resolve(context.Background(), &types.VolumeSpec{
		Capacity:     resource.MustParse("10Gi"),
		StorageClass: "gp3",
	})
	require.NoError(t, err)
	assert.Empty(t, dest.StorageClass)
}

func TestResolve_CapacityFallback(t *testing.T) {
	client := fake.NewSimpleClientset()
	r := New(client, testLogger())

	dest, err := r.Resolve(context.Background(), &types.VolumeSpec{})
	require.NoError(t, err)

	assert.Equal(t, "20Gi", dest.Capacity.String())
	assert.Equal(t, []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce}, dest.AccessModes)
}

func TestResolve_PreservesSourceSpec(t *testing.T) {
	mode := corev1.PersistentVolumeBlock
	client := fake.NewSimpleClientset()
	r := New(client, testLogger())

	src := &types.VolumeSpec{
		Capacity:    resource.MustParse("50Gi"),
		AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteMany, corev1.ReadOnlyMany},
		VolumeMode:  &mode,
	}
	dest, err := r.Resolve(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "50Gi", dest.Capacity.String())
	assert.Equal(t, src.AccessModes, dest.AccessModes)
	assert.Equal(t, src.VolumeMode, dest.VolumeMode)
}

func TestEnsureClaim_Creates(t *testing.T) {
	client := fake.NewSimpleClientset()
	r := New(client, testLogger())

	spec := &types.VolumeSpec{
		Capacity:     resource.MustParse("10Gi"),
		AccessModes:  []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
		StorageClass: "standard",
	}
	require.NoError(t, r.EnsureClaim(context.Background(), "ns-b", "restore-claim", spec))

	pvc, err := client.CoreV1().PersistentVolumeClaims("ns-b").Get(context.Background(), "restore-claim", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10Gi", pvc.Spec.Resources.Requests.Storage().String())
	require.NotNil(t, pvc.Spec.StorageClassName)
	assert.Equal(t, "standard", *pvc.Spec.StorageClassName)
}

func TestEnsureClaim_ExistingIsTrusted(t *testing.T) {
	existing := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{Name: "restore-claim", Namespace: "ns-b"},
		Spec: corev1.PersistentVolumeClaimSpec{
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: resource.MustParse("5Gi")},
			},
		},
	}
	client := fake.NewSimpleClientset(existing)
	r := New(client, testLogger())

	spec := &types.VolumeSpec{Capacity: resource.MustParse("10Gi")}
	require.NoError(t, r.EnsureClaim(context.Background(), "ns-b", "restore-claim", spec))

	// The existing claim is untouched, mismatch or not.
	pvc, err := client.CoreV1().PersistentVolumeClaims("ns-b").Get(context.Background(), "restore-claim", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "5Gi", pvc.Spec.Resources.Requests.Storage().String())
}

func TestSameAccessModes(t *testing.T) {
	rwo := corev1.ReadWriteOnce
	rwm := corev1.ReadWriteMany

	assert.True(t, sameAccessModes(
		[]corev1.PersistentVolumeAccessMode{rwo, rwm},
		[]corev1.PersistentVolumeAccessMode{rwm, rwo},
	), "order must not matter")
	assert.False(t, sameAccessModes(
		[]corev1.PersistentVolumeAccessMode{rwo},
		[]corev1.PersistentVolumeAccessMode{rwm},
	))
	assert.False(t, sameAccessModes(
		[]corev1.PersistentVolumeAccessMode{rwo},
		[]corev1.PersistentVolumeAccessMode{rwo, rwm},
	))
}
