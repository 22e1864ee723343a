package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/layer-3/signet/core"
	"github.com/layer-3/signet/ports"
)

const publishTimeout = 5 * time.Second

// scriptedAgents are lowercase user agent fragments of tools rather than browsers
var scriptedAgents = []string{
	"curl", "wget", "python-requests", "go-http-client", "httpie", "postman", "bot", "headless",
}

// SecurityLogger records security events. It never fails the caller.
type SecurityLogger struct {
	logger    *zap.Logger
	publisher ports.EventPublisher
	events    *prometheus.CounterVec
	now       func() time.Time
}

// NewSecurityLogger creates a security logger. The publisher and registerer are optional.
func NewSecurityLogger(logger *zap.Logger, publisher ports.EventPublisher, reg prometheus.Registerer) *SecurityLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "signet",
		Name:      "security_events_total",
		Help:      "Number of recorded security events by type.",
	}, []string{"type"})
	if reg != nil {
		if err := reg.Register(events); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				events = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				logger.Warn("security metrics not registered", zap.Error(err))
			}
		}
	}
	return &SecurityLogger{
		logger:    logger.Named("security"),
		publisher: publisher,
		events:    events,
		now:       time.Now,
	}
}

// WithClock replaces the clock used to stamp events
func (l *SecurityLogger) WithClock(now func() time.Time) *SecurityLogger {
	l.now = now
	return l
}

// Log writes the event to the log, counts it and fans it out to the publisher
// in the background.
func (l *SecurityLogger) Log(ctx context.Context, event core.SecurityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("address", event.Address),
		zap.String("ip", event.IP),
		zap.String("user_agent", event.UserAgent),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}
	if ce := l.logger.Check(levelFor(event.Type), "security event"); ce != nil {
		ce.Write(fields...)
	}

	l.events.WithLabelValues(string(event.Type)).Inc()

	if l.publisher == nil {
		return
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := l.publisher.PublishSecurityEvent(pubCtx, event); err != nil {
			l.logger.Debug("security event not published", zap.String("event_id", event.ID), zap.Error(err))
		}
	}()
}

// Inspect logs a suspicious_activity event when the request origin looks
// scripted. It only alerts and never blocks.
func (l *SecurityLogger) Inspect(ctx context.Context, address string, meta RequestMeta) {
	flags := DetectSuspicious(meta.UserAgent, meta.IP)
	if len(flags) == 0 {
		return
	}
	l.Log(ctx, core.SecurityEvent{
		Type:      core.EventSuspiciousActivity,
		Address:   address,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Reason:    strings.Join(flags, ","),
	})
}

// DetectSuspicious returns heuristic flags for a request origin
func DetectSuspicious(userAgent, ip string) []string {
	var flags []string

	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		flags = append(flags, "missing_user_agent")
	} else {
		for _, agent := range scriptedAgents {
			if strings.Contains(ua, agent) {
				flags = append(flags, "scripted_user_agent")
				break
			}
		}
	}

	if ip == "" || ip == UnknownIP {
		flags = append(flags, "unknown_ip")
	}
	return flags
}

func levelFor(t core.SecurityEventType) zapcore.Level {
	switch t {
	case core.EventAuthSuccess:
		return zapcore.InfoLevel
	default:
		return zapcore.WarnLevel
	}
}
