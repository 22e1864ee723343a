package ports

import (
	"context"

	"github.com/layer-3/signet/core"
)

// EventPublisher publishes security events to notify other instances
type EventPublisher interface {
	PublishSecurityEvent(ctx context.Context, event core.SecurityEvent) error
}
