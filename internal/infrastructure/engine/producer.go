package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"sfugate/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

const (
	rtpQueueSize  = 256
	rtcpQueueSize = 16
)

// Producer is one inbound track published through a transport.
type Producer struct {
	id        domain.ProducerID
	kind      domain.MediaKind
	params    domain.RtpParameters
	transport *Transport

	mu        sync.RWMutex
	consumers map[domain.ConsumerID]*Consumer
	closed    bool

	rtcp           chan rtcp.Packet
	transportClose listeners
}

func (p *Producer) ID() domain.ProducerID { return p.id }

func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) RtpParameters() domain.RtpParameters { return p.params }

func (p *Producer) OnTransportClose(fn func()) { p.transportClose.add(fn) }

// WriteRTP fans a packet out to every active consumer of the producer.
func (p *Producer) WriteRTP(pkt *rtp.Packet) error {
	if pkt == nil {
		return errors.New("nil rtp packet")
	}
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("producer %s closed", p.id)
	}
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.RUnlock()

	for _, c := range consumers {
		c.deliver(pkt)
	}
	return nil
}

// ReadRTCP returns the next feedback packet addressed to the publisher.
func (p *Producer) ReadRTCP(ctx context.Context) (rtcp.Packet, error) {
	select {
	case pkt := <-p.rtcp:
		return pkt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Producer) requestKeyFrame(senderSSRC uint32) {
	var mediaSSRC uint32
	if len(p.params.Encodings) > 0 {
		mediaSSRC = p.params.Encodings[0].Ssrc
	}
	select {
	case p.rtcp <- &rtcp.PictureLossIndication{SenderSSRC: senderSSRC, MediaSSRC: mediaSSRC}:
	default:
	}
}

func (p *Producer) attach(c *Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.consumers[c.id] = c
	return true
}

func (p *Producer) detach(id domain.ConsumerID) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// markClosed flips the closed flag and hands back the consumers to notify.
func (p *Producer) markClosed() ([]*Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	p.closed = true
	consumers := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = make(map[domain.ConsumerID]*Consumer)
	return consumers, true
}

// Close closes the producer and every consumer fed by it.
func (p *Producer) Close() error {
	consumers, ok := p.markClosed()
	if !ok {
		return nil
	}
	p.transport.removeProducer(p.id)
	p.transport.router.removeProducer(p.id)
	for _, c := range consumers {
		c.producerClosed()
	}
	return nil
}

func (p *Producer) transportClosed() {
	consumers, ok := p.markClosed()
	if !ok {
		return
	}
	p.transport.router.removeProducer(p.id)
	for _, c := range consumers {
		c.producerClosed()
	}
	p.transportClose.fire()
}

func randomSSRC() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x5f5e100
	}
	return binary.BigEndian.Uint32(b[:])
}
