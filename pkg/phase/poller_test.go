package phase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

func conditionObj(name, status, reason string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "awx.ansible.com/v1beta1",
		"kind":       "AWXBackup",
		"metadata":   map[string]interface{}{"name": name},
		"status": map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"type": "Successful", "status": status, "reason": reason},
			},
		},
	}}
}

// mutableGetter serves an object that can be swapped mid-poll.
type mutableGetter struct {
	mu  sync.Mutex
	obj *unstructured.Unstructured
}

func (g *mutableGetter) get(context.Context) (*unstructured.Unstructured, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.obj, nil
}

func (g *mutableGetter) set(obj *unstructured.Unstructured) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.obj = obj
}

var testWant = Want{Type: "Successful", Status: "True", Reason: "Successful"}

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger
}

func TestWaitForCondition_SucceedsBeforeTimeout(t *testing.T) {
	g := &mutableGetter{obj: conditionObj("b", "False", "Running")}

	// Condition flips true at ~250ms; interval 100ms, timeout 300ms: the
	// poll at 300ms must still observe success, not time out first.
	time.AfterFunc(250*time.Millisecond, func() {
		g.set(conditionObj("b", "True", "Successful"))
	})

	obj, err := WaitForCondition(context.Background(), testLogger(), g.get, testWant, nil, 300*time.Millisecond, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "b", obj.GetName())
}

func TestWaitForCondition_Timeout(t *testing.T) {
	g := &mutableGetter{obj: conditionObj("b", "False", "Running")}

	start := time.Now()
	_, err := WaitForCondition(context.Background(), testLogger(), g.get, testWant, nil, 300*time.Millisecond, 100*time.Millisecond)
	elapsed := time.Since(start)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond, "timeout must never fire early")
}

func TestWaitForCondition_StatusWithoutReasonIsNotSuccess(t *testing.T) {
	// A status flip without the matching reason must not be treated as done.
	g := &mutableGetter{obj: conditionObj("b", "True", "Running")}

	_, err := WaitForCondition(context.Background(), testLogger(), g.get, testWant, nil, 100*time.Millisecond, 20*time.Millisecond)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestWaitForCondition_ExtraPredicate(t *testing.T) {
	obj := conditionObj("r", "True", "Successful")
	g := &mutableGetter{obj: obj}

	_, err := WaitForCondition(context.Background(), testLogger(), g.get, testWant,
		func(*unstructured.Unstructured) bool { return false },
		100*time.Millisecond, 20*time.Millisecond)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	got, err := WaitForCondition(context.Background(), testLogger(), g.get, testWant,
		func(*unstructured.Unstructured) bool { return true },
		100*time.Millisecond, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "r", got.GetName())
}

func TestWaitForCondition_ContextCanceled(t *testing.T) {
	g := &mutableGetter{obj: conditionObj("b", "False", "Running")}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := WaitForCondition(ctx, testLogger(), g.get, testWant, nil, 5*time.Second, 20*time.Millisecond)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestObservedCondition_MissingStatus(t *testing.T) {
	obj := &unstructured.Unstructured{Object: map[string]interface{}{
		"metadata": map[string]interface{}{"name": "bare"},
	}}

	status, reason := observedCondition(obj, "Successful")
	assert.Empty(t, status)
	assert.Empty(t, reason)
}
