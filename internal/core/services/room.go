package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// TransportInfo is what a client needs to finish the ICE/DTLS handshake.
type TransportInfo struct {
	ID             domain.TransportID
	ICEParameters  webrtc.ICEParameters
	ICECandidates  []webrtc.ICECandidate
	DTLSParameters webrtc.DTLSParameters
}

// Room is a named group of peers bound to one worker and one router for its whole life.
type Room struct {
	id         domain.RoomID
	worker     ports.Worker
	negotiator *CapabilityNegotiator
	transport  ports.WebRtcTransportOptions

	mu     sync.RWMutex
	peers  map[domain.PeerID]*Peer
	closed bool

	notifier ports.Notifier
	events   ports.EventPublisher
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

type roomDeps struct {
	transport ports.WebRtcTransportOptions
	notifier  ports.Notifier
	events    ports.EventPublisher
	metrics   ports.MetricsRecorder
	logger    *zap.SugaredLogger
}

func newRoom(id domain.RoomID, worker ports.Worker, negotiator *CapabilityNegotiator, deps roomDeps) *Room {
	return &Room{
		id:         id,
		worker:     worker,
		negotiator: negotiator,
		transport:  deps.transport,
		peers:      make(map[domain.PeerID]*Peer),
		notifier:   deps.notifier,
		events:     deps.events,
		metrics:    deps.metrics,
		logger:     deps.logger.With("room_id", id),
	}
}

func (r *Room) ID() domain.RoomID { return r.id }

func (r *Room) WorkerPID() int { return r.worker.PID() }

// AddPeer inserts peer, overwriting any entry with the same id.
func (r *Room) AddPeer(peer *Peer) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ErrRoomClosed
	}
	r.peers[peer.ID()] = peer
	r.mu.Unlock()

	r.metrics.PeerJoined()
	r.logger.Infow("peer joined", "peer_id", peer.ID(), "name", peer.Name())
	r.Broadcast(peer.ID(), domain.NotificationPeerJoined, peer.Info())
	r.publish(domain.EventPeerJoined, peer.ID(), map[string]interface{}{"name": peer.Name()})
	return nil
}

// RemovePeer closes every transport the peer owns and only then drops the entry.
// Other peers are told about the departure and the producers that went with it.
func (r *Room) RemovePeer(peerID domain.PeerID) error {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return err
	}

	closedProducers := peer.Close()

	r.mu.Lock()
	if current, ok := r.peers[peerID]; ok && current == peer {
		delete(r.peers, peerID)
	}
	r.mu.Unlock()

	r.metrics.PeerLeft()
	r.logger.Infow("peer left", "peer_id", peerID, "closed_producers", len(closedProducers))

	for _, d := range closedProducers {
		r.Broadcast(peerID, domain.NotificationProducerClosed, d)
		r.publish(domain.EventProducerClosed, peerID, map[string]interface{}{"producer_id": d.ProducerID})
	}
	r.Broadcast(peerID, domain.NotificationPeerLeft, peer.Info())
	r.publish(domain.EventPeerLeft, peerID, nil)
	return nil
}

func (r *Room) GetPeer(peerID domain.PeerID) (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[peerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, peerID)
	}
	return peer, nil
}

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Room) GetRtpCapabilities() domain.RtpCapabilities {
	return r.negotiator.RtpCapabilities()
}

func (r *Room) CreateWebRtcTransport(ctx context.Context, peerID domain.PeerID) (*TransportInfo, error) {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return nil, err
	}

	transport, err := r.negotiator.Router().CreateWebRtcTransport(ctx, r.transport)
	if err != nil {
		return nil, engineError("create transport", err)
	}

	transport.OnDTLSStateChange(func(state webrtc.DTLSTransportState) {
		if state == webrtc.DTLSTransportStateClosed || state == webrtc.DTLSTransportStateFailed {
			r.logger.Infow("transport dtls ended", "peer_id", peerID, "transport_id", transport.ID(), "state", state.String())
		}
	})

	if err := peer.AddTransport(transport); err != nil {
		return nil, err
	}

	return &TransportInfo{
		ID:             transport.ID(),
		ICEParameters:  transport.ICEParameters(),
		ICECandidates:  transport.ICECandidates(),
		DTLSParameters: transport.DTLSParameters(),
	}, nil
}

func (r *Room) ConnectPeerTransport(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, dtls webrtc.DTLSParameters) error {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return err
	}
	return peer.ConnectTransport(ctx, transportID, dtls)
}

// Produce creates a producer and announces it to the other peers.
func (r *Room) Produce(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, kind domain.MediaKind, params domain.RtpParameters) (domain.ProducerID, error) {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return "", err
	}
	producer, err := peer.CreateProducer(ctx, transportID, kind, params)
	if err != nil {
		return "", err
	}

	d := domain.ProducerDescriptor{ProducerID: producer.ID(), PeerID: peerID, Name: peer.Name(), Kind: kind}
	r.logger.Infow("producer created", "peer_id", peerID, "producer_id", producer.ID(), "kind", kind)
	r.Broadcast(peerID, domain.NotificationNewProducers, []domain.ProducerDescriptor{d})
	r.publish(domain.EventProducerOpened, peerID, map[string]interface{}{"producer_id": producer.ID(), "kind": kind})
	return producer.ID(), nil
}

// Consume fails with domain.ErrProducerNotFound when the producer is not open on the
// router, then checks compatibility and refuses with domain.ErrCannotConsume.
// The consumer starts paused.
func (r *Room) Consume(ctx context.Context, peerID domain.PeerID, transportID domain.TransportID, producerID domain.ProducerID, caps domain.RtpCapabilities) (*domain.ConsumeResult, error) {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return nil, err
	}
	if !r.negotiator.HasProducer(producerID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProducerNotFound, producerID)
	}
	if !r.negotiator.CanConsume(producerID, caps) {
		r.logger.Warnw("cannot consume", "peer_id", peerID, "producer_id", producerID)
		return nil, fmt.Errorf("%w: producer %s", domain.ErrCannotConsume, producerID)
	}

	consumer, err := peer.CreateConsumer(ctx, transportID, producerID, caps)
	if err != nil {
		return nil, err
	}

	consumer.OnProducerClose(func() {
		if err := r.notifier.Notify(peerID, domain.NotificationConsumerClosed, map[string]interface{}{
			"consumerId": consumer.ID(),
			"producerId": producerID,
		}); err != nil {
			r.logger.Debugw("consumer closed notification not delivered", "peer_id", peerID, "error", err)
		}
	})

	return &domain.ConsumeResult{
		ID:             consumer.ID(),
		ProducerID:     producerID,
		Kind:           consumer.Kind(),
		RtpParameters:  consumer.RtpParameters(),
		Type:           consumer.Type(),
		ProducerPaused: consumer.ProducerPaused(),
	}, nil
}

func (r *Room) ResumeConsumer(ctx context.Context, peerID domain.PeerID, consumerID domain.ConsumerID) ([]domain.ConsumerID, error) {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return nil, err
	}
	return peer.ResumeConsumer(ctx, consumerID)
}

func (r *Room) CloseProducer(peerID domain.PeerID, producerID domain.ProducerID) error {
	peer, err := r.GetPeer(peerID)
	if err != nil {
		return err
	}
	producer, err := peer.GetProducer(producerID)
	if err != nil {
		return err
	}
	if err := peer.CloseProducer(producerID); err != nil {
		return err
	}

	d := domain.ProducerDescriptor{ProducerID: producerID, PeerID: peerID, Name: peer.Name(), Kind: producer.Kind()}
	r.Broadcast(peerID, domain.NotificationProducerClosed, d)
	r.publish(domain.EventProducerClosed, peerID, map[string]interface{}{"producer_id": producerID})
	return nil
}

func (r *Room) sortedPeers() []*Peer {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool {
		if peers[i].joinedAt.Equal(peers[j].joinedAt) {
			return peers[i].id < peers[j].id
		}
		return peers[i].joinedAt.Before(peers[j].joinedAt)
	})
	return peers
}

// GetProducerListForPeer lists every producer in the room, grouped by peer in join order.
func (r *Room) GetProducerListForPeer() []domain.ProducerDescriptor {
	list := []domain.ProducerDescriptor{}
	for _, peer := range r.sortedPeers() {
		for _, producer := range peer.Producers() {
			list = append(list, domain.ProducerDescriptor{
				ProducerID: producer.ID(),
				PeerID:     peer.ID(),
				Name:       peer.Name(),
				Kind:       producer.Kind(),
			})
		}
	}
	return list
}

// Broadcast delivers an event to every peer except exclude. Delivery errors are logged.
func (r *Room) Broadcast(exclude domain.PeerID, method string, data interface{}) {
	r.mu.RLock()
	targets := make([]domain.PeerID, 0, len(r.peers))
	for id := range r.peers {
		if id != exclude {
			targets = append(targets, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range targets {
		if err := r.notifier.Notify(id, method, data); err != nil {
			r.logger.Debugw("broadcast not delivered", "peer_id", id, "method", method, "error", err)
		}
	}
}

func (r *Room) ToSnapshot() domain.RoomSnapshot {
	peers := r.sortedPeers()
	snap := domain.RoomSnapshot{ID: r.id, Peers: make([]domain.PeerInfo, 0, len(peers))}
	for _, p := range peers {
		snap.Peers = append(snap.Peers, p.Info())
	}
	return snap
}

// closeIfEmpty marks the room closed when it has no peers. AddPeer fails afterwards.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || len(r.peers) > 0 {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Close closes the router. Remaining peers are closed first.
func (r *Room) Close() error {
	r.mu.Lock()
	r.closed = true
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[domain.PeerID]*Peer)
	r.mu.Unlock()

	for _, p := range peers {
		p.Close()
		r.metrics.PeerLeft()
	}
	return r.negotiator.Close()
}

func (r *Room) publish(eventType domain.EventType, peerID domain.PeerID, payload map[string]interface{}) {
	event := &domain.SessionEvent{Type: eventType, RoomID: r.id, PeerID: peerID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			event.Payload = data
		}
	}
	if err := r.events.Publish(context.Background(), event); err != nil {
		r.logger.Warnw("failed to publish session event", "type", eventType, "error", err)
	}
}
