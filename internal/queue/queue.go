package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/dialware/dialer-engine/internal/domain"
)

// Publisher publishes dial jobs to a trunk work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DialJobMessage) error
	Close() error
}

// MessageHandler handles a consumed dial job.
type MessageHandler func(ctx context.Context, msg DialJobMessage) error

// Consumer consumes dial jobs from a trunk work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// dialQueueMaxPriority is the RabbitMQ x-max-priority value for trunk
	// work queues.
	dialQueueMaxPriority int32 = 3

	dialQueuePrefix = "dial"
)

// DialQueueName returns the work queue for a trunk, e.g. dial.trunk-east-1.
func DialQueueName(trunkID string) string {
	return fmt.Sprintf("%s.%s", dialQueuePrefix, strings.ToLower(strings.TrimSpace(trunkID)))
}

// DLQName returns the dead-letter queue for a trunk, e.g. dlq.dial.trunk-east-1.
func DLQName(trunkID string) string {
	return fmt.Sprintf("dlq.%s", DialQueueName(trunkID))
}

// PriorityValue maps campaign dial mode to RabbitMQ message priority.
// Predictive campaigns are paced the tightest and jump the queue.
func PriorityValue(mode domain.DialMode) uint8 {
	switch mode {
	case domain.DialModePredictive:
		return 3
	case domain.DialModePower:
		return 2
	case domain.DialModePreview:
		return 1
	default:
		return 0
	}
}
