package services

import (
	"context"
	"sync"
	"testing"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"
	"sfugate/internal/infrastructure/engine"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testCodecs = []domain.RtpCodecCapability{
	{Kind: domain.MediaKindAudio, MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	{Kind: domain.MediaKindVideo, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
}

var testDTLS = webrtc.DTLSParameters{
	Role:         webrtc.DTLSRoleClient,
	Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "AA:BB:CC"}},
}

func vp8Parameters() domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: webrtc.MimeTypeVP8, PayloadType: 96, ClockRate: 90000}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 2222}},
	}
}

type sentNotification struct {
	peerID domain.PeerID
	method string
	data   interface{}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(peerID domain.PeerID, method string, data interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{peerID: peerID, method: method, data: data})
	return nil
}

func (n *recordingNotifier) methodsFor(peerID domain.PeerID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.peerID == peerID {
			out = append(out, s.method)
		}
	}
	return out
}

func (n *recordingNotifier) last(peerID domain.PeerID, method string) (interface{}, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].peerID == peerID && n.sent[i].method == method {
			return n.sent[i].data, true
		}
	}
	return nil, false
}

// countingWorker counts router creations of a real worker.
// The next failNext creations fail with assert.AnError.
type countingWorker struct {
	ports.Worker
	mu       sync.Mutex
	routers  int
	failNext int
}

func (w *countingWorker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	w.mu.Lock()
	if w.failNext > 0 {
		w.failNext--
		w.mu.Unlock()
		return nil, assert.AnError
	}
	w.routers++
	w.mu.Unlock()
	return w.Worker.CreateRouter(ctx, codecs)
}

func (w *countingWorker) failRouters(n int) {
	w.mu.Lock()
	w.failNext = n
	w.mu.Unlock()
}

// gatedWorker holds router creation until release is closed or ctx ends.
type gatedWorker struct {
	ports.Worker
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedWorker(w ports.Worker) *gatedWorker {
	return &gatedWorker{Worker: w, entered: make(chan struct{}), release: make(chan struct{})}
}

func (w *gatedWorker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	w.once.Do(func() { close(w.entered) })
	select {
	case <-w.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return w.Worker.CreateRouter(ctx, codecs)
}

func (w *countingWorker) routerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.routers
}

func newTestWorkers(t *testing.T, n int) []*countingWorker {
	t.Helper()
	e := engine.New(nil)
	out := make([]*countingWorker, 0, n)
	for i := 0; i < n; i++ {
		w, err := e.CreateWorker(context.Background(), ports.WorkerSettings{RTCMinPort: 41000, RTCMaxPort: 41999})
		require.NoError(t, err)
		t.Cleanup(func() { w.Close() })
		out = append(out, &countingWorker{Worker: w})
	}
	return out
}

func newTestRegistry(t *testing.T, workers int, evict bool) (*RoomRegistry, *recordingNotifier, []*countingWorker) {
	t.Helper()
	ws := newTestWorkers(t, workers)
	pw := make([]ports.Worker, 0, len(ws))
	for _, w := range ws {
		pw = append(pw, w)
	}
	notifier := &recordingNotifier{}
	reg := NewRoomRegistry(RegistryConfig{
		MediaCodecs: testCodecs,
		Transport:   ports.WebRtcTransportOptions{ListenIP: "127.0.0.1", EnableUDP: true, EnableTCP: true, PreferUDP: true},
		EvictEmpty:  evict,
	}, NewWorkerPoolFrom(pw, nil, nil), notifier, nil, nil, nil)
	return reg, notifier, ws
}

func joinPeer(t *testing.T, reg *RoomRegistry, roomID domain.RoomID, peerID domain.PeerID, name string) *Room {
	t.Helper()
	room, err := reg.Join(context.Background(), roomID, NewPeer(peerID, name, nil, nil))
	require.NoError(t, err)
	return room
}

func zapNop() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func testPacket(seq uint16) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: seq, SSRC: 2222},
		Payload: []byte{0x01, 0x02},
	}
}
