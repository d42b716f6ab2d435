package ports

import (
	"context"

	"sfugate/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// WorkerSettings configures one media engine worker process.
type WorkerSettings struct {
	LogLevel   string
	RTCMinPort uint16
	RTCMaxPort uint16
}

// WebRtcTransportOptions are the listen settings of a new transport.
type WebRtcTransportOptions struct {
	ListenIP    string
	AnnouncedIP string
	EnableUDP   bool
	EnableTCP   bool
	PreferUDP   bool
}

// MediaEngine spawns workers. The engine itself is external to the gateway.
type MediaEngine interface {
	CreateWorker(ctx context.Context, settings WorkerSettings) (Worker, error)
}

type Worker interface {
	PID() int
	// Died is closed once the worker process is gone.
	Died() <-chan struct{}
	DeathReason() error
	CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (Router, error)
	Close() error
}

type Router interface {
	ID() string
	RtpCapabilities() domain.RtpCapabilities
	HasProducer(producerID domain.ProducerID) bool
	CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool
	CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (Transport, error)
	Close() error
}

type Transport interface {
	ID() domain.TransportID
	ICEParameters() webrtc.ICEParameters
	ICECandidates() []webrtc.ICECandidate
	DTLSParameters() webrtc.DTLSParameters
	Connect(ctx context.Context, dtls webrtc.DTLSParameters) error
	Produce(ctx context.Context, kind domain.MediaKind, params domain.RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities, paused bool) (Consumer, error)
	OnDTLSStateChange(fn func(webrtc.DTLSTransportState))
	OnClose(fn func())
	Close() error
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	OnTransportClose(fn func())
	Close() error
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Type() domain.ConsumerType
	ProducerPaused() bool
	Paused() bool
	Resume(ctx context.Context) error
	OnTransportClose(fn func())
	OnProducerClose(fn func())
	Close() error
}
