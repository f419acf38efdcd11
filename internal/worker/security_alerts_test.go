package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jwalitptl/hospital-api/internal/model"
)

type chanBroker struct {
	ch chan []byte
}

func (b *chanBroker) Publish(_ context.Context, _ string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.ch <- payload
	return nil
}

func (b *chanBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func (b *chanBroker) Close() error {
	close(b.ch)
	return nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []*model.AuditEntry
	err  error
}

func (m *recordingMailer) SendSecurityAlert(_ context.Context, _ []string, entry *model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, entry)
	return nil
}

func (m *recordingMailer) actions() []model.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditAction, 0, len(m.sent))
	for _, e := range m.sent {
		out = append(out, e.Action)
	}
	return out
}

func TestSecurityAlertWorker_SendsOnlyAlerts(t *testing.T) {
	broker := &chanBroker{ch: make(chan []byte, 4)}
	mailer := &recordingMailer{}
	w := NewSecurityAlertWorker(broker, mailer, "security.alerts", []string{"sec@hospital.example"}, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, "security.alerts", model.AuditEntry{ID: "1", Action: model.ActionLoginSuccess}))
	require.NoError(t, broker.Publish(ctx, "security.alerts", model.AuditEntry{ID: "2", Action: model.ActionAccountLocked}))
	broker.ch <- []byte("not json")
	require.NoError(t, broker.Publish(ctx, "security.alerts", model.AuditEntry{ID: "3", Action: model.ActionUnauthorizedAccess}))
	require.NoError(t, broker.Close())

	require.NoError(t, w.Run(ctx))
	assert.Equal(t, []model.AuditAction{model.ActionAccountLocked, model.ActionUnauthorizedAccess}, mailer.actions())
}

func TestSecurityAlertWorker_KeepsGoingAfterDeliveryFailure(t *testing.T) {
	broker := &chanBroker{ch: make(chan []byte, 2)}
	mailer := &recordingMailer{err: errors.New("smtp down")}
	w := NewSecurityAlertWorker(broker, mailer, "security.alerts", nil, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, broker.Publish(ctx, "security.alerts", model.AuditEntry{ID: "1", Action: model.ActionAccountLocked}))
	require.NoError(t, broker.Publish(ctx, "security.alerts", model.AuditEntry{ID: "2", Action: model.ActionAccountLocked}))
	require.NoError(t, broker.Close())

	assert.NoError(t, w.Run(ctx))
	assert.Empty(t, mailer.actions())
}

func TestSecurityAlertWorker_StopsOnCancel(t *testing.T) {
	broker := &chanBroker{ch: make(chan []byte)}
	w := NewSecurityAlertWorker(broker, &recordingMailer{}, "security.alerts", nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
