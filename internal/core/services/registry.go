package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// maxJoinAttempts bounds the retries of a join that raced the eviction of its room.
const maxJoinAttempts = 3

const defaultCreateTimeout = 10 * time.Second

// WorkerSource hands out the worker a new room is bound to.
// Assign runs fn with the next worker and gives the slot back when fn fails.
type WorkerSource interface {
	Assign(fn func(ports.Worker) error) error
}

type RegistryConfig struct {
	MediaCodecs []domain.RtpCodecCapability
	Transport   ports.WebRtcTransportOptions
	// EvictEmpty drops a room and closes its router once its last peer leaves.
	EvictEmpty bool
	// CreateTimeout bounds router creation for a new room, independently of the
	// callers waiting for it. Zero means 10s.
	CreateTimeout time.Duration
}

// RoomRegistry maps room ids to rooms. Exactly one room is created per id,
// even when several first joins for the same id arrive together.
type RoomRegistry struct {
	cfg     RegistryConfig
	workers WorkerSource

	mu     sync.RWMutex
	rooms  map[domain.RoomID]*Room
	flight singleflight.Group

	notifier ports.Notifier
	events   ports.EventPublisher
	metrics  ports.MetricsRecorder
	logger   *zap.SugaredLogger
}

func NewRoomRegistry(
	cfg RegistryConfig,
	workers WorkerSource,
	notifier ports.Notifier,
	events ports.EventPublisher,
	metrics ports.MetricsRecorder,
	logger *zap.SugaredLogger,
) *RoomRegistry {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if events == nil {
		events = nopPublisher{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = defaultCreateTimeout
	}
	return &RoomRegistry{
		cfg:      cfg,
		workers:  workers,
		rooms:    make(map[domain.RoomID]*Room),
		notifier: notifier,
		events:   events,
		metrics:  metrics,
		logger:   logger,
	}
}

// Metrics exposes the recorder shared with rooms and peers.
func (r *RoomRegistry) Metrics() ports.MetricsRecorder { return r.metrics }

// Logger exposes the registry logger for peers created by callers.
func (r *RoomRegistry) Logger() *zap.SugaredLogger { return r.logger }

// Get returns an existing room.
func (r *RoomRegistry) Get(id domain.RoomID) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRoomNotFound, id)
	}
	return room, nil
}

// live returns the room for id unless it is missing or already closed by eviction.
func (r *RoomRegistry) live(id domain.RoomID) (*Room, bool) {
	r.mu.RLock()
	room, ok := r.rooms[id]
	r.mu.RUnlock()
	if !ok || room.isClosed() {
		return nil, false
	}
	return room, true
}

// GetOrCreate returns the room for id, creating it and negotiating its router on first use.
// The creation outlives a caller whose ctx ends first, so other joiners of the same
// room still get it; that caller returns ctx.Err().
func (r *RoomRegistry) GetOrCreate(ctx context.Context, id domain.RoomID) (*Room, error) {
	if room, ok := r.live(id); ok {
		return room, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := r.flight.DoChan(string(id), func() (interface{}, error) {
		// A previous flight may have finished between the lookup and DoChan.
		if room, ok := r.live(id); ok {
			return room, nil
		}

		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CreateTimeout)
		defer cancel()
		return r.create(createCtx, id)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Room), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *RoomRegistry) create(ctx context.Context, id domain.RoomID) (*Room, error) {
	var (
		worker     ports.Worker
		negotiator *CapabilityNegotiator
	)
	err := r.workers.Assign(func(w ports.Worker) error {
		n, err := NewCapabilityNegotiator(ctx, w, r.cfg.MediaCodecs)
		if err != nil {
			return err
		}
		worker, negotiator = w, n
		return nil
	})
	if err != nil {
		r.logger.Warnw("room creation failed", "room_id", id, "error", err)
		return nil, err
	}

	room := newRoom(id, worker, negotiator, roomDeps{
		transport: r.cfg.Transport,
		notifier:  r.notifier,
		events:    r.events,
		metrics:   r.metrics,
		logger:    r.logger,
	})

	r.mu.Lock()
	r.rooms[id] = room
	r.mu.Unlock()

	r.metrics.RoomCreated(worker.PID())
	r.logger.Infow("room created", "room_id", id, "worker_pid", worker.PID())
	room.publish(domain.EventRoomCreated, "", map[string]interface{}{"worker_pid": worker.PID()})
	return room, nil
}

// Join adds peer to the room named id, creating the room if needed.
func (r *RoomRegistry) Join(ctx context.Context, id domain.RoomID, peer *Peer) (*Room, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, err := r.GetOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		err = room.AddPeer(peer)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, domain.ErrRoomClosed) {
			return nil, err
		}
		r.logger.Debugw("join raced room eviction, retrying", "room_id", id, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrRoomClosed, id)
}

// Leave removes the peer from its room and evicts the room once it is empty.
func (r *RoomRegistry) Leave(id domain.RoomID, peerID domain.PeerID) error {
	room, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := room.RemovePeer(peerID); err != nil {
		return err
	}
	if r.cfg.EvictEmpty && room.closeIfEmpty() {
		r.evict(room)
	}
	return nil
}

func (r *RoomRegistry) evict(room *Room) {
	r.mu.Lock()
	if current, ok := r.rooms[room.id]; ok && current == room {
		delete(r.rooms, room.id)
	}
	r.mu.Unlock()

	if err := room.Close(); err != nil {
		r.logger.Warnw("error closing room router", "room_id", room.id, "error", err)
	}
	r.metrics.RoomEvicted()
	r.logger.Infow("empty room evicted", "room_id", room.id)
	room.publish(domain.EventRoomEvicted, "", nil)
}

func (r *RoomRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// RoomIDs lists the current rooms in lexical order.
func (r *RoomRegistry) RoomIDs() []domain.RoomID {
	r.mu.RLock()
	ids := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close closes every room.
func (r *RoomRegistry) Close() {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.rooms = make(map[domain.RoomID]*Room)
	r.mu.Unlock()

	for _, room := range rooms {
		if err := room.Close(); err != nil {
			r.logger.Warnw("error closing room", "room_id", room.id, "error", err)
		}
	}
}
