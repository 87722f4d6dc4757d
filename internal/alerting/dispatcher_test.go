package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rish2jain/consultantOS-sub009/internal/domain"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
	err    error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type flakyNotifier struct {
	name     string
	failures int
	calls    int
}

func (n *flakyNotifier) Name() string { return n.name }

func (n *flakyNotifier) Notify(context.Context, domain.Alert) error {
	n.calls++
	if n.calls <= n.failures {
		return errors.New("temporarily unavailable")
	}
	return nil
}

func TestKafkaNotifierPublishesKeyedEvent(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifier(w, testLogger())
	alert := sampleAlert()

	require.NoError(t, n.Notify(context.Background(), alert))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "m1", string(msg.Key))

	var decoded domain.Alert
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, alert.ID, decoded.ID)
	assert.Equal(t, domain.UrgencyCritical, decoded.Urgency)

	require.NoError(t, n.Close())
	assert.True(t, w.closed)

	w.err = errors.New("broker down")
	assert.Error(t, n.Notify(context.Background(), alert))
}

func TestDispatcherRetriesUntilSuccess(t *testing.T) {
	flaky := &flakyNotifier{name: "flaky", failures: 2}
	d := NewDispatcher([]Notifier{flaky}, DispatchOptions{RetryAttempts: 3, RetryDelay: time.Millisecond}, testLogger())

	report, err := d.Dispatch(context.Background(), sampleAlert())
	require.NoError(t, err)
	assert.Equal(t, []string{"flaky"}, report.Delivered)
	assert.Equal(t, 3, flaky.calls)
}

func TestDispatcherReportsExhaustedChannels(t *testing.T) {
	broken := &flakyNotifier{name: "broken", failures: 10}
	healthy := &flakyNotifier{name: "healthy"}
	d := NewDispatcher([]Notifier{broken, healthy}, DispatchOptions{RetryAttempts: 2, RatePerSecond: 100}, testLogger())

	report, err := d.Dispatch(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Equal(t, 2, broken.calls)
	assert.Equal(t, []string{"healthy"}, report.Delivered)
	assert.Contains(t, report.Failed, "broken")
	assert.Equal(t, []string{"broken", "healthy"}, d.Channels())
}

func TestDispatcherStopsOnCancelledContext(t *testing.T) {
	broken := &flakyNotifier{name: "broken", failures: 10}
	d := NewDispatcher([]Notifier{broken}, DispatchOptions{RetryAttempts: 5, RetryDelay: time.Hour}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Dispatch(ctx, sampleAlert())
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, broken.calls, 1)
}
