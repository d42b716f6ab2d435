package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Transport is one WebRTC network path between an endpoint and a router.
type Transport struct {
	id         domain.TransportID
	router     *Router
	port       uint16
	ice        webrtc.ICEParameters
	candidates []webrtc.ICECandidate
	dtls       webrtc.DTLSParameters

	mu         sync.Mutex
	producers  map[domain.ProducerID]*Producer
	consumers  map[domain.ConsumerID]*Consumer
	dtlsState  webrtc.DTLSTransportState
	remoteDTLS *webrtc.DTLSParameters
	closed     bool

	dtlsListeners []func(webrtc.DTLSTransportState)
	closeEvents   listeners
}

func (t *Transport) ID() domain.TransportID { return t.id }

func (t *Transport) ICEParameters() webrtc.ICEParameters { return t.ice }

func (t *Transport) ICECandidates() []webrtc.ICECandidate {
	out := make([]webrtc.ICECandidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

func (t *Transport) DTLSParameters() webrtc.DTLSParameters { return t.dtls }

// DTLSState returns the current DTLS state.
func (t *Transport) DTLSState() webrtc.DTLSTransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dtlsState
}

// Port is the RTC port reserved for the transport.
func (t *Transport) Port() uint16 { return t.port }

// Connect applies the remote DTLS parameters. A transport can be connected once.
func (t *Transport) Connect(ctx context.Context, dtls webrtc.DTLSParameters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(dtls.Fingerprints) == 0 {
		return errors.New("dtls parameters carry no fingerprint")
	}
	for _, fp := range dtls.Fingerprints {
		if fp.Algorithm == "" || fp.Value == "" {
			return errors.New("dtls fingerprint is incomplete")
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport %s closed", t.id)
	}
	if t.remoteDTLS != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport %s already connected", t.id)
	}
	remote := dtls
	t.remoteDTLS = &remote
	t.mu.Unlock()

	t.setDTLSState(webrtc.DTLSTransportStateConnecting)
	t.setDTLSState(webrtc.DTLSTransportStateConnected)
	return nil
}

func (t *Transport) setDTLSState(state webrtc.DTLSTransportState) {
	t.mu.Lock()
	t.dtlsState = state
	fns := make([]func(webrtc.DTLSTransportState), len(t.dtlsListeners))
	copy(fns, t.dtlsListeners)
	t.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

func (t *Transport) OnDTLSStateChange(fn func(webrtc.DTLSTransportState)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.dtlsListeners = append(t.dtlsListeners, fn)
	t.mu.Unlock()
}

func (t *Transport) OnClose(fn func()) { t.closeEvents.add(fn) }

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params domain.RtpParameters) (ports.Producer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid media kind %q", kind)
	}
	if len(params.Codecs) == 0 {
		return nil, errors.New("rtp parameters carry no codec")
	}
	prefix := string(kind) + "/"
	for _, c := range params.Codecs {
		if domain.IsRtx(c.MimeType) {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(c.MimeType), prefix) {
			return nil, fmt.Errorf("codec %s does not match kind %s", c.MimeType, kind)
		}
		if !t.router.supports(c) {
			return nil, fmt.Errorf("codec %s/%d not supported by router", c.MimeType, c.ClockRate)
		}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	p := &Producer{
		id:        domain.ProducerID(uuid.NewString()),
		kind:      kind,
		params:    params,
		transport: t,
		consumers: make(map[domain.ConsumerID]*Consumer),
		rtcp:      make(chan rtcp.Packet, rtcpQueueSize),
	}
	t.producers[p.id] = p
	// Registered before the lock is released so Close always sees it on the router.
	t.router.addProducer(p)
	t.mu.Unlock()
	return p, nil
}

func (t *Transport) Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities, paused bool) (ports.Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := t.router.producer(producerID)
	if !ok {
		return nil, fmt.Errorf("producer %s not found on router", producerID)
	}
	codecs := matchingCodecs(p.params.Codecs, caps)
	if len(codecs) == 0 {
		return nil, fmt.Errorf("endpoint capabilities do not support producer %s", producerID)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport %s closed", t.id)
	}
	c := &Consumer{
		id:        domain.ConsumerID(uuid.NewString()),
		producer:  p,
		transport: t,
		kind:      p.kind,
		params: domain.RtpParameters{
			Mid:       fmt.Sprintf("%d", len(t.consumers)),
			Codecs:    codecs,
			Encodings: []domain.RtpEncodingParameters{{Ssrc: randomSSRC()}},
			Rtcp:      domain.RtcpParameters{Cname: p.params.Rtcp.Cname, ReducedSize: true},
		},
		paused:  paused,
		packets: make(chan *rtp.Packet, rtpQueueSize),
		done:    make(chan struct{}),
	}
	t.consumers[c.id] = c
	t.mu.Unlock()

	if !p.attach(c) {
		t.removeConsumer(c.id)
		return nil, fmt.Errorf("producer %s closed", producerID)
	}
	return c, nil
}

func (t *Transport) removeProducer(id domain.ProducerID) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *Transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}

// Close releases the port and closes every producer and consumer carried by the transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.producers = make(map[domain.ProducerID]*Producer)
	t.consumers = make(map[domain.ConsumerID]*Consumer)
	t.mu.Unlock()

	for _, c := range consumers {
		c.transportClosed()
	}
	for _, p := range producers {
		p.transportClosed()
	}

	t.setDTLSState(webrtc.DTLSTransportStateClosed)
	t.router.removeTransport(t.id)
	t.router.worker.ports.release(t.port)
	t.closeEvents.fire()
	return nil
}
