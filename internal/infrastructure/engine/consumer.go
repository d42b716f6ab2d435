package engine

import (
	"context"
	"fmt"
	"sync"

	"sfugate/internal/core/domain"

	"github.com/pion/rtp"
)

// Consumer is one outbound track delivered to an endpoint.
type Consumer struct {
	id        domain.ConsumerID
	producer  *Producer
	transport *Transport
	kind      domain.MediaKind
	params    domain.RtpParameters

	mu             sync.RWMutex
	paused         bool
	producerPaused bool
	closed         bool

	packets        chan *rtp.Packet
	done           chan struct{}
	transportClose listeners
	producerClose  listeners
}

func (c *Consumer) ID() domain.ConsumerID { return c.id }

func (c *Consumer) ProducerID() domain.ProducerID { return c.producer.id }

func (c *Consumer) Kind() domain.MediaKind { return c.kind }

func (c *Consumer) RtpParameters() domain.RtpParameters { return c.params }

func (c *Consumer) Type() domain.ConsumerType { return domain.ConsumerTypeSimple }

func (c *Consumer) ProducerPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.producerPaused
}

func (c *Consumer) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

func (c *Consumer) OnTransportClose(fn func()) { c.transportClose.add(fn) }

func (c *Consumer) OnProducerClose(fn func()) { c.producerClose.add(fn) }

// Resume starts forwarding. Video consumers ask the publisher for a key frame.
func (c *Consumer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("consumer %s closed", c.id)
	}
	wasPaused := c.paused
	c.paused = false
	c.mu.Unlock()

	if wasPaused && c.kind == domain.MediaKindVideo {
		c.producer.requestKeyFrame(c.ssrc())
	}
	return nil
}

// ReadRTP returns the next packet forwarded to this consumer.
func (c *Consumer) ReadRTP(ctx context.Context) (*rtp.Packet, error) {
	select {
	case pkt := <-c.packets:
		return pkt, nil
	case <-c.done:
		return nil, fmt.Errorf("consumer %s closed", c.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Consumer) ssrc() uint32 {
	if len(c.params.Encodings) == 0 {
		return 0
	}
	return c.params.Encodings[0].Ssrc
}

func (c *Consumer) deliver(pkt *rtp.Packet) {
	c.mu.RLock()
	active := !c.closed && !c.paused && !c.producerPaused
	c.mu.RUnlock()
	if !active {
		return
	}

	out := &rtp.Packet{Header: pkt.Header, Payload: append([]byte(nil), pkt.Payload...)}
	out.SSRC = c.ssrc()
	if len(c.params.Codecs) > 0 {
		out.PayloadType = c.params.Codecs[0].PayloadType
	}

	select {
	case c.packets <- out:
	default:
	}
}

func (c *Consumer) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.done)
	return true
}

// Close detaches the consumer from its producer and transport.
func (c *Consumer) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.producer.detach(c.id)
	c.transport.removeConsumer(c.id)
	return nil
}

func (c *Consumer) transportClosed() {
	if !c.markClosed() {
		return
	}
	c.producer.detach(c.id)
	c.transportClose.fire()
}

func (c *Consumer) producerClosed() {
	if !c.markClosed() {
		return
	}
	c.transport.removeConsumer(c.id)
	c.producerClose.fire()
}
