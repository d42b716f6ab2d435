package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Peer is the session state of one signaling connection inside a room.
// Every transport, producer and consumer in its maps was created through
// this peer's own transports.
type Peer struct {
	id       domain.PeerID
	name     string
	joinedAt time.Time

	mu         sync.RWMutex
	transports map[domain.TransportID]ports.Transport
	producers  map[domain.ProducerID]ports.Producer
	consumers  map[domain.ConsumerID]ports.Consumer
	closed     bool

	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
}

func NewPeer(id domain.PeerID, name string, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *Peer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Peer{
		id:         id,
		name:       name,
		joinedAt:   time.Now(),
		transports: make(map[domain.TransportID]ports.Transport),
		producers:  make(map[domain.ProducerID]ports.Producer),
		consumers:  make(map[domain.ConsumerID]ports.Consumer),
		metrics:    metrics,
		logger:     logger.With("peer_id", id, "name", name),
	}
}

func (p *Peer) ID() domain.PeerID { return p.id }

func (p *Peer) Name() string { return p.name }

func (p *Peer) Info() domain.PeerInfo {
	return domain.PeerInfo{ID: p.id, Name: p.name, JoinedAt: p.joinedAt}
}

// AddTransport registers ownership of t. A closed peer closes t instead.
func (p *Peer) AddTransport(t ports.Transport) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.Close()
		return domain.ErrPeerNotFound
	}
	p.transports[t.ID()] = t
	p.mu.Unlock()

	p.metrics.TransportOpened()
	t.OnClose(func() {
		p.mu.Lock()
		_, owned := p.transports[t.ID()]
		delete(p.transports, t.ID())
		p.mu.Unlock()
		if owned {
			p.metrics.TransportClosed()
			p.logger.Infow("transport closed", "transport_id", t.ID())
		}
	})
	return nil
}

func (p *Peer) transport(id domain.TransportID) (ports.Transport, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, domain.ErrPeerNotFound
	}
	t, ok := p.transports[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransportNotFound, id)
	}
	return t, nil
}

func (p *Peer) ConnectTransport(ctx context.Context, transportID domain.TransportID, dtls webrtc.DTLSParameters) error {
	t, err := p.transport(transportID)
	if err != nil {
		return err
	}
	if err := t.Connect(ctx, dtls); err != nil {
		return engineError("connect transport", err)
	}
	return nil
}

func (p *Peer) CreateProducer(ctx context.Context, transportID domain.TransportID, kind domain.MediaKind, params domain.RtpParameters) (ports.Producer, error) {
	t, err := p.transport(transportID)
	if err != nil {
		return nil, err
	}
	producer, err := t.Produce(ctx, kind, params)
	if err != nil {
		return nil, engineError("produce", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		producer.Close()
		return nil, domain.ErrPeerNotFound
	}
	p.producers[producer.ID()] = producer
	p.mu.Unlock()
	p.metrics.ProducerOpened(producer.Kind())

	producer.OnTransportClose(func() {
		p.logger.Infow("producer transport closed", "producer_id", producer.ID())
		p.dropProducer(producer.ID())
	})
	return producer, nil
}

func (p *Peer) CreateConsumer(ctx context.Context, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RtpCapabilities) (ports.Consumer, error) {
	t, err := p.transport(transportID)
	if err != nil {
		return nil, err
	}
	consumer, err := t.Consume(ctx, producerID, caps, true)
	if err != nil {
		return nil, engineError("consume", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		consumer.Close()
		return nil, domain.ErrPeerNotFound
	}
	p.consumers[consumer.ID()] = consumer
	p.mu.Unlock()
	p.metrics.ConsumerOpened(consumer.Kind())

	consumer.OnTransportClose(func() {
		p.logger.Infow("consumer transport closed", "consumer_id", consumer.ID())
		p.RemoveConsumer(consumer.ID())
	})
	consumer.OnProducerClose(func() {
		p.logger.Infow("producer of consumer closed", "consumer_id", consumer.ID(), "producer_id", producerID)
		p.RemoveConsumer(consumer.ID())
	})
	return consumer, nil
}

// dropProducer forgets a producer the engine already closed.
func (p *Peer) dropProducer(id domain.ProducerID) (ports.Producer, bool) {
	p.mu.Lock()
	producer, ok := p.producers[id]
	delete(p.producers, id)
	p.mu.Unlock()
	if ok {
		p.metrics.ProducerClosed(producer.Kind())
	}
	return producer, ok
}

// CloseProducer closes and deregisters one producer.
func (p *Peer) CloseProducer(id domain.ProducerID) error {
	producer, ok := p.dropProducer(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrProducerNotFound, id)
	}
	if err := producer.Close(); err != nil {
		return engineError("close producer", err)
	}
	return nil
}

func (p *Peer) GetProducer(id domain.ProducerID) (ports.Producer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	producer, ok := p.producers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, id)
	}
	return producer, nil
}

func (p *Peer) GetConsumer(id domain.ConsumerID) (ports.Consumer, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	consumer, ok := p.consumers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConsumerNotFound, id)
	}
	return consumer, nil
}

// RemoveConsumer forgets a consumer. Unknown ids are ignored since engine
// close notifications may race an explicit removal.
func (p *Peer) RemoveConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	consumer, ok := p.consumers[id]
	delete(p.consumers, id)
	p.mu.Unlock()
	if ok {
		p.metrics.ConsumerClosed(consumer.Kind())
	}
}

// ResumeConsumer resumes one consumer, or every paused consumer when id is empty.
func (p *Peer) ResumeConsumer(ctx context.Context, id domain.ConsumerID) ([]domain.ConsumerID, error) {
	var targets []ports.Consumer
	if id != "" {
		c, err := p.GetConsumer(id)
		if err != nil {
			return nil, err
		}
		targets = append(targets, c)
	} else {
		p.mu.RLock()
		for _, c := range p.consumers {
			if c.Paused() {
				targets = append(targets, c)
			}
		}
		p.mu.RUnlock()
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: no paused consumer", domain.ErrConsumerNotFound)
		}
	}

	resumed := make([]domain.ConsumerID, 0, len(targets))
	for _, c := range targets {
		if err := c.Resume(ctx); err != nil {
			return resumed, engineError("resume consumer", err)
		}
		resumed = append(resumed, c.ID())
	}
	return resumed, nil
}

// Producers returns the peer's producers ordered by id.
func (p *Peer) Producers() []ports.Producer {
	p.mu.RLock()
	out := make([]ports.Producer, 0, len(p.producers))
	for _, producer := range p.producers {
		out = append(out, producer)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *Peer) TransportCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.transports)
}

func (p *Peer) ConsumerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.consumers)
}

// Close closes every owned transport, which cascades to producers and
// consumers in the engine. It returns the producers that were open.
func (p *Peer) Close() []domain.ProducerDescriptor {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	transports := make([]ports.Transport, 0, len(p.transports))
	for _, t := range p.transports {
		transports = append(transports, t)
	}
	closedProducers := make([]domain.ProducerDescriptor, 0, len(p.producers))
	for _, producer := range p.producers {
		closedProducers = append(closedProducers, domain.ProducerDescriptor{
			ProducerID: producer.ID(),
			PeerID:     p.id,
			Name:       p.name,
			Kind:       producer.Kind(),
		})
	}
	p.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			p.logger.Warnw("error closing transport", "transport_id", t.ID(), "error", err)
		}
	}

	// Anything the engine did not report back is released here.
	p.mu.Lock()
	leftovers := make([]ports.Producer, 0, len(p.producers))
	for id, producer := range p.producers {
		leftovers = append(leftovers, producer)
		delete(p.producers, id)
	}
	consumers := make([]ports.Consumer, 0, len(p.consumers))
	for id, c := range p.consumers {
		consumers = append(consumers, c)
		delete(p.consumers, id)
	}
	transportsLeft := len(p.transports)
	p.transports = make(map[domain.TransportID]ports.Transport)
	p.mu.Unlock()

	for _, producer := range leftovers {
		producer.Close()
		p.metrics.ProducerClosed(producer.Kind())
	}
	for _, c := range consumers {
		c.Close()
		p.metrics.ConsumerClosed(c.Kind())
	}
	for i := 0; i < transportsLeft; i++ {
		p.metrics.TransportClosed()
	}

	sort.Slice(closedProducers, func(i, j int) bool { return closedProducers[i].ProducerID < closedProducers[j].ProducerID })
	return closedProducers
}

func engineError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrEngineFailure, op, err)
}
