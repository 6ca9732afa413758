// Package workload manages the short-lived sleeper pods that exist purely as
// attach points: transfer tooling execs into them to reach a mounted volume.
package workload

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	// MountPath is where the target volume is mounted inside the pod.
	MountPath = "/backups"
	// ContainerName is the single container transfer tooling execs into.
	ContainerName = "sleeper"
	// DefaultImage is the sleeper image; anything with tar on PATH works.
	DefaultImage = "registry.access.redhat.com/ubi9/ubi:latest"

	readyTimeout = 5 * time.Minute
	pollInterval = 5 * time.Second

	nameTimestamp = "20060102150405"
)

// Workload identifies one launched sleeper pod.
type Workload struct {
	Namespace string
	Name      string
	Claim     string
}

// Manager launches, awaits and terminates sleeper pods on one cluster.
type Manager struct {
	client kubernetes.Interface
	logger log.FieldLogger

	// ReadyTimeout and PollInterval are overridable in tests.
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// New creates a Manager for one cluster.
func New(client kubernetes.Interface, logger log.FieldLogger) *Manager {
	return &Manager{
		client:       client,
		logger:       logger.WithField("component", "workload"),
		ReadyTimeout: readyTimeout,
		PollInterval: pollInterval,
	}
}

// Launch creates a sleeper pod mounting the given claim at MountPath. The
// name is timestamp-qualified to avoid collision across repeated runs.
func (m *Manager) Launch(ctx context.Context, namespace, base, claim, image string) (*Workload, error) {
	if image == "" {
		image = DefaultImage
	}
	name := base + "-migrate-" + time.Now().Format(nameTimestamp)

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				"app.kubernetes.io/managed-by": "aap-migrate",
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{
				{
					Name:    ContainerName,
					Image:   image,
					Command: []string{"sleep", "infinity"},
					VolumeMounts: []corev1.VolumeMount{
						{Name: "backup-volume", MountPath: MountPath},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name: "backup-volume",
					VolumeSource: corev1.VolumeSource{
						PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
							ClaimName: claim,
						},
					},
				},
			},
		},
	}

	if _, err := m.client.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return nil, errors.Wrapf(err, "launching workload %s/%s", namespace, name)
	}

	m.logger.WithFields(log.Fields{
		"pod":   namespace + "/" + name,
		"claim": claim,
	}).Info("Launched ephemeral workload")
	return &Workload{Namespace: namespace, Name: name, Claim: claim}, nil
}

// AwaitReady blocks until the pod is Running with its container ready. The
// migration cannot proceed without a mount point, so a timeout here is fatal
// to the run (teardown of whatever was created still happens).
func (m *Manager) AwaitReady(ctx context.Context, w *Workload) error {
	deadline := time.After(m.ReadyTimeout)
	ticker := time.NewTicker(m.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.Errorf("timed out waiting for workload %s/%s to become ready", w.Namespace, w.Name)
		case <-ticker.C:
			pod, err := m.client.CoreV1().Pods(w.Namespace).Get(ctx, w.Name, metav1.GetOptions{})
			if err != nil {
				return errors.Wrapf(err, "checking workload %s/%s", w.Namespace, w.Name)
			}
			switch pod.Status.Phase {
			case corev1.PodFailed, corev1.PodSucceeded:
				return errors.Errorf("workload %s/%s exited unexpectedly (%s)", w.Namespace, w.Name, pod.Status.Phase)
			case corev1.PodRunning:
				if podReady(pod) {
					m.logger.Debugf("Workload %s/%s is ready", w.Namespace, w.Name)
					return nil
				}
			}
			m.logger.Debugf("Workload %s/%s not ready yet (%s)", w.Namespace, w.Name, pod.Status.Phase)
		}
	}
}

func podReady(pod *corev1.Pod) bool {
	if len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

// Terminate deletes the pod. Best-effort: absence is not an error and
// failures are logged, never returned.
func (m *Manager) Terminate(ctx context.Context, w *Workload) {
	err := m.client.CoreV1().Pods(w.Namespace).Delete(ctx, w.Name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		m.logger.Warnf("Failed to delete workload %s/%s: %v", w.Namespace, w.Name, err)
		return
	}
	m.logger.Infof("Deleted ephemeral workload %s/%s", w.Namespace, w.Name)
}
