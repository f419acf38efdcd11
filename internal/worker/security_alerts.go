// Package worker runs the background consumers of the API's event channels.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jwalitptl/hospital-api/internal/email"
	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/pkg/messaging"
)

// SecurityAlertWorker e-mails the security contacts about lockouts and
// denied access published by the audit trail.
type SecurityAlertWorker struct {
	broker     messaging.Broker
	mailer     email.Service
	channel    string
	recipients []string
	logger     *zap.Logger
}

func NewSecurityAlertWorker(broker messaging.Broker, mailer email.Service, channel string, recipients []string, logger *zap.Logger) *SecurityAlertWorker {
	return &SecurityAlertWorker{
		broker:     broker,
		mailer:     mailer,
		channel:    channel,
		recipients: recipients,
		logger:     logger.Named("security-alerts"),
	}
}

// Run consumes until ctx is cancelled. A failed delivery is logged and the
// worker moves on to the next alert.
func (w *SecurityAlertWorker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		zap.String("channel", w.channel),
		zap.Int("recipients", len(w.recipients)))

	err := messaging.Consume(ctx, w.broker, w.channel, w.handle, func(err error) {
		w.logger.Error("failed to process security alert", zap.Error(err))
	})
	if errors.Is(err, context.Canceled) {
		w.logger.Info("worker stopped")
		return nil
	}
	return err
}

func (w *SecurityAlertWorker) handle(ctx context.Context, payload []byte) error {
	var entry model.AuditEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return fmt.Errorf("failed to decode alert: %w", err)
	}
	if !entry.Action.SecurityAlert() {
		w.logger.Debug("ignoring non-alert entry", zap.String("action", string(entry.Action)))
		return nil
	}

	if err := w.mailer.SendSecurityAlert(ctx, w.recipients, &entry); err != nil {
		return err
	}
	w.logger.Info("security alert sent",
		zap.String("entry_id", entry.ID),
		zap.String("action", string(entry.Action)),
		zap.String("ip", entry.IPAddress))
	return nil
}
