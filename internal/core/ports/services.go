package ports

import (
	"context"
	"time"

	"sfugate/internal/core/domain"
)

// Notifier pushes a server-initiated message to one connected peer.
type Notifier interface {
	Notify(peerID domain.PeerID, method string, data interface{}) error
}

// EventPublisher forwards session lifecycle events to external observers.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.SessionEvent) error
}

// MetricsRecorder receives session counters. Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	RoomCreated(workerPID int)
	RoomEvicted()
	PeerJoined()
	PeerLeft()
	TransportOpened()
	TransportClosed()
	ProducerOpened(kind domain.MediaKind)
	ProducerClosed(kind domain.MediaKind)
	ConsumerOpened(kind domain.MediaKind)
	ConsumerClosed(kind domain.MediaKind)
	RequestHandled(method, code string, duration time.Duration)
	WorkerDied(pid int)
}
