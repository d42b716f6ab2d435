package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

const firstDynamicPayloadType = 100

var videoFeedback = []domain.RtcpFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
	{Type: "transport-cc"},
}

// buildRouterCapabilities assigns payload types and feedback to the configured media codecs.
func buildRouterCapabilities(codecs []domain.RtpCodecCapability) (domain.RtpCapabilities, error) {
	if len(codecs) == 0 {
		return domain.RtpCapabilities{}, fmt.Errorf("router needs at least one media codec")
	}

	caps := domain.RtpCapabilities{Codecs: make([]domain.RtpCodecCapability, 0, len(codecs))}
	pt := uint8(firstDynamicPayloadType)
	for _, c := range codecs {
		if !c.Kind.Valid() {
			return domain.RtpCapabilities{}, fmt.Errorf("invalid codec kind %q", c.Kind)
		}
		prefix := string(c.Kind) + "/"
		if !strings.HasPrefix(strings.ToLower(c.MimeType), prefix) {
			return domain.RtpCapabilities{}, fmt.Errorf("mime type %q does not match kind %q", c.MimeType, c.Kind)
		}
		if c.ClockRate == 0 {
			return domain.RtpCapabilities{}, fmt.Errorf("codec %s has no clock rate", c.MimeType)
		}

		codec := c
		if codec.PreferredPayloadType == 0 {
			codec.PreferredPayloadType = pt
			pt++
		}
		if codec.Kind == domain.MediaKindAudio && codec.Channels == 0 {
			codec.Channels = 1
		}
		if codec.Kind == domain.MediaKindVideo && len(codec.RtcpFeedback) == 0 {
			codec.RtcpFeedback = videoFeedback
		}
		caps.Codecs = append(caps.Codecs, codec)
	}

	caps.HeaderExtensions = []domain.RtpHeaderExtension{
		{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
		{Kind: domain.MediaKindVideo, URI: "urn:ietf:params:rtp-hdrext:sdes:mid", PreferredID: 1},
		{Kind: domain.MediaKindAudio, URI: "urn:ietf:params:rtp-hdrext:ssrc-audio-level", PreferredID: 10},
		{Kind: domain.MediaKindVideo, URI: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01", PreferredID: 5},
	}
	return caps, nil
}

// Router groups transports that share one capability set.
type Router struct {
	id     string
	worker *Worker
	caps   domain.RtpCapabilities

	mu         sync.RWMutex
	transports map[domain.TransportID]*Transport
	producers  map[domain.ProducerID]*Producer
	closed     bool
}

func newRouter(w *Worker, caps domain.RtpCapabilities) *Router {
	return &Router{
		id:         uuid.NewString(),
		worker:     w,
		caps:       caps,
		transports: make(map[domain.TransportID]*Transport),
		producers:  make(map[domain.ProducerID]*Producer),
	}
}

func (r *Router) ID() string { return r.id }

func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }

// HasProducer reports whether an open producer with the id exists on the router.
func (r *Router) HasProducer(producerID domain.ProducerID) bool {
	_, ok := r.producer(producerID)
	return ok
}

// CanConsume reports whether an endpoint with caps can receive the producer.
func (r *Router) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	r.mu.RLock()
	p, ok := r.producers[producerID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return len(matchingCodecs(p.params.Codecs, caps)) > 0
}

// matchingCodecs returns the producer codecs the endpoint accepts, with the endpoint's payload types.
func matchingCodecs(codecs []domain.RtpCodecParameters, caps domain.RtpCapabilities) []domain.RtpCodecParameters {
	var out []domain.RtpCodecParameters
	for _, pc := range codecs {
		if domain.IsRtx(pc.MimeType) {
			continue
		}
		for _, cc := range caps.Codecs {
			if domain.MatchCodec(pc, cc) {
				m := pc
				if cc.PreferredPayloadType != 0 {
					m.PayloadType = cc.PreferredPayloadType
				}
				m.RtcpFeedback = cc.RtcpFeedback
				out = append(out, m)
				break
			}
		}
	}
	return out
}

func (r *Router) supports(codec domain.RtpCodecParameters) bool {
	for _, c := range r.caps.Codecs {
		if domain.MatchCodec(codec, c) {
			return true
		}
	}
	return false
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts ports.WebRtcTransportOptions) (ports.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !opts.EnableUDP && !opts.EnableTCP {
		return nil, fmt.Errorf("transport needs UDP or TCP enabled")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("router %s closed", r.id)
	}

	port, err := r.worker.ports.allocate()
	if err != nil {
		return nil, err
	}

	address := opts.AnnouncedIP
	if address == "" {
		address = opts.ListenIP
	}

	var candidates []webrtc.ICECandidate
	addCandidate := func(proto webrtc.ICEProtocol, priority uint32) {
		candidates = append(candidates, webrtc.ICECandidate{
			Foundation: proto.String() + "candidate",
			Priority:   priority,
			Address:    address,
			Protocol:   proto,
			Port:       port,
			Typ:        webrtc.ICECandidateTypeHost,
			Component:  1,
		})
	}
	udpPriority, tcpPriority := uint32(1076302079), uint32(1076302079)
	if opts.PreferUDP {
		tcpPriority = 1076276479
	}
	if opts.EnableUDP {
		addCandidate(webrtc.ICEProtocolUDP, udpPriority)
	}
	if opts.EnableTCP {
		addCandidate(webrtc.ICEProtocolTCP, tcpPriority)
	}

	t := &Transport{
		id:     domain.TransportID(uuid.NewString()),
		router: r,
		port:   port,
		ice: webrtc.ICEParameters{
			UsernameFragment: randomToken(8),
			Password:         randomToken(16),
			ICELite:          true,
		},
		candidates: candidates,
		dtls: webrtc.DTLSParameters{
			Role:         webrtc.DTLSRoleAuto,
			Fingerprints: r.worker.prints,
		},
		producers: make(map[domain.ProducerID]*Producer),
		consumers: make(map[domain.ConsumerID]*Consumer),
		dtlsState: webrtc.DTLSTransportStateNew,
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *Router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *Router) producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}

// Close closes every transport of the router.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.worker.removeRouter(r.id)
	return nil
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return uuid.NewString()[:n]
	}
	return hex.EncodeToString(b)
}
