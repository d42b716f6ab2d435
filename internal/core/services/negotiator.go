package services

import (
	"context"
	"fmt"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"
)

// CapabilityNegotiator is the room's handle on its router.
type CapabilityNegotiator struct {
	router ports.Router
}

func NewCapabilityNegotiator(ctx context.Context, worker ports.Worker, codecs []domain.RtpCodecCapability) (*CapabilityNegotiator, error) {
	router, err := worker.CreateRouter(ctx, codecs)
	if err != nil {
		return nil, fmt.Errorf("%w: create router on worker %d: %w", domain.ErrEngineFailure, worker.PID(), err)
	}
	return &CapabilityNegotiator{router: router}, nil
}

func (n *CapabilityNegotiator) RtpCapabilities() domain.RtpCapabilities {
	return n.router.RtpCapabilities()
}

func (n *CapabilityNegotiator) HasProducer(producerID domain.ProducerID) bool {
	return n.router.HasProducer(producerID)
}

func (n *CapabilityNegotiator) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	return n.router.CanConsume(producerID, caps)
}

func (n *CapabilityNegotiator) Router() ports.Router {
	return n.router
}

func (n *CapabilityNegotiator) Close() error {
	return n.router.Close()
}
