// Package phase drives the two remote operator phases, Backup and Restore,
// through their custom resources: submit a declarative request, poll its
// status condition, decode the result fields once at the controller boundary.
package phase

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const (
	// DefaultTimeout bounds how long a phase may take to complete remotely.
	DefaultTimeout = 30 * time.Minute
	// DefaultInterval is the status poll cadence.
	DefaultInterval = 10 * time.Second
)

// Want describes the terminal condition a poll is waiting for. Success
// requires the condition status AND reason to match simultaneously; a status
// flip without the expected reason is not success.
type Want struct {
	Type   string
	Status string
	Reason string
}

// Getter fetches the current state of the polled resource.
type Getter func(ctx context.Context) (*unstructured.Unstructured, error)

// TimeoutError reports that a condition was not satisfied within its budget.
// The resource is left in place for operator inspection.
type TimeoutError struct {
	Resource  string
	Condition string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for condition %s on %s", e.Timeout, e.Condition, e.Resource)
}

// WaitForCondition polls the resource until the wanted condition and the
// optional extra predicate hold, the timeout elapses, or the context is
// canceled. The resource is polled immediately and then once per interval;
// each observation is logged. Polling never deletes or resubmits anything.
func WaitForCondition(ctx context.Context, logger log.FieldLogger, get Getter, want Want, extra func(*unstructured.Unstructured) bool, timeout, interval time.Duration) (*unstructured.Unstructured, error) {
	start := time.Now()

	for {
		obj, err := get(ctx)
		if err != nil {
			return nil, err
		}

		status, reason := observedCondition(obj, want.Type)
		logger.WithFields(log.Fields{
			"resource":  obj.GetName(),
			"condition": want.Type,
			"status":    status,
			"reason":    reason,
		}).Info("Polled resource status")

		if status == want.Status && reason == want.Reason && (extra == nil || extra(obj)) {
			return obj, nil
		}

		if time.Since(start) >= timeout {
			return nil, &TimeoutError{Resource: obj.GetName(), Condition: want.Type, Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// observedCondition returns the status and reason of the named condition,
// or empty strings when the condition is not present yet.
func observedCondition(obj *unstructured.Unstructured, condType string) (string, string) {
	conditions, found, err := unstructured.NestedSlice(obj.Object, "status", "conditions")
	if err != nil || !found {
		return "", ""
	}

	for _, c := range conditions {
		cond, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := cond["type"].(string); t != condType {
			continue
		}
		status, _ := cond["status"].(string)
		reason, _ := cond["reason"].(string)
		return status, reason
	}
	return "", ""
}
