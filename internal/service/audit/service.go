package audit

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hospital-api/internal/model"
	"github.com/jwalitptl/hospital-api/internal/repository"
	"github.com/jwalitptl/hospital-api/pkg/httputil"
	"github.com/jwalitptl/hospital-api/pkg/messaging"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
)

// DefaultAlertChannel carries security-relevant entries to the alert worker.
const DefaultAlertChannel = "security.alerts"

// writeTimeout bounds the append once it no longer follows the request's
// cancellation.
const writeTimeout = 5 * time.Second

// Entry is what callers hand to Record. A nil Err marks the entry successful.
type Entry struct {
	ActorID      *uuid.UUID
	Action       model.AuditAction
	ResourceType model.ResourceType
	ResourceID   string
	Context      model.JSONMap
	PreviousData model.JSONMap
	NewData      model.JSONMap
	Err          error
}

// Recorder is the write side of the audit trail.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

type Service struct {
	repo         repository.AuditRepository
	metrics      *metrics.Metrics
	broker       messaging.Publisher
	alertChannel string
	logger       zerolog.Logger
	now          func() time.Time
}

type Option func(*Service)

// WithAlerts forwards security-relevant entries to broker on channel.
func WithAlerts(broker messaging.Publisher, channel string) Option {
	return func(s *Service) {
		s.broker = broker
		if channel != "" {
			s.alertChannel = channel
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo repository.AuditRepository, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		alertChannel: DefaultAlertChannel,
		logger:       log.Logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends entry to the audit trail. It never fails the caller: write
// errors are logged and counted. The write outlives a cancelled or expired
// request context, so an abandoned request still leaves its entry.
func (s *Service) Record(ctx context.Context, e Entry) {
	entry := &model.AuditEntry{
		ID:           ulid.Make().String(),
		ActorID:      e.ActorID,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		Context:      e.Context,
		PreviousData: e.PreviousData,
		NewData:      e.NewData,
		Success:      e.Err == nil,
		CreatedAt:    s.now().UTC(),
	}
	if entry.Context == nil {
		entry.Context = model.JSONMap{}
	}
	if e.ResourceID != "" {
		id := e.ResourceID
		entry.ResourceID = &id
	}
	if e.Err != nil {
		msg := e.Err.Error()
		entry.ErrorMessage = &msg
	}
	entry.IPAddress, entry.UserAgent = clientOf(ctx)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	err := s.repo.Create(ctx, entry)
	s.metrics.AuditWrite(err)
	if err != nil {
		s.logger.Error().Err(err).
			Str("action", string(entry.Action)).
			Str("resource_type", string(entry.ResourceType)).
			Msg("failed to record audit entry")
		return
	}

	if s.broker != nil && entry.Action.SecurityAlert() {
		if err := s.broker.Publish(ctx, s.alertChannel, entry); err != nil {
			s.logger.Warn().Err(err).
				Str("audit_id", entry.ID).
				Str("action", string(entry.Action)).
				Msg("failed to publish security alert")
		}
	}
}

// clientOf reads the caller address from the request info the middleware
// attaches, falling back to a gin context passed through as ctx.
func clientOf(ctx context.Context) (ip, userAgent string) {
	if info, ok := httputil.RequestInfoFrom(ctx); ok {
		return info.IP, info.UserAgent
	}
	if gc, ok := ctx.(*gin.Context); ok && gc.Request != nil {
		return gc.ClientIP(), gc.GetHeader("User-Agent")
	}
	return "", ""
}
