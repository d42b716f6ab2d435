package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCodecs = []domain.RtpCodecCapability{
	{Kind: domain.MediaKindAudio, MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	{Kind: domain.MediaKindVideo, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
}

var vp8Params = domain.RtpParameters{
	Codecs:    []domain.RtpCodecParameters{{MimeType: webrtc.MimeTypeVP8, PayloadType: 96, ClockRate: 90000}},
	Encodings: []domain.RtpEncodingParameters{{Ssrc: 1111}},
}

var listenOpts = ports.WebRtcTransportOptions{ListenIP: "127.0.0.1", EnableUDP: true, EnableTCP: true, PreferUDP: true}

func newTestRouter(t *testing.T, min, max uint16) (*Worker, ports.Router) {
	t.Helper()
	w, err := NewWorker(context.Background(), ports.WorkerSettings{RTCMinPort: min, RTCMaxPort: max}, New(nil).logger)
	require.NoError(t, err)
	r, err := w.CreateRouter(context.Background(), testCodecs)
	require.NoError(t, err)
	return w, r
}

func TestRouter_Capabilities(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40010)

	caps := r.RtpCapabilities()
	require.Len(t, caps.Codecs, 2)
	assert.Equal(t, uint8(100), caps.Codecs[0].PreferredPayloadType)
	assert.Equal(t, uint8(101), caps.Codecs[1].PreferredPayloadType)
	assert.NotEmpty(t, caps.Codecs[1].RtcpFeedback)
	assert.Empty(t, caps.Codecs[0].RtcpFeedback)
}

func TestWorker_CreateRouterRejectsBadCodecs(t *testing.T) {
	w, err := NewWorker(context.Background(), ports.WorkerSettings{RTCMinPort: 40000, RTCMaxPort: 40001}, New(nil).logger)
	require.NoError(t, err)

	_, err = w.CreateRouter(context.Background(), nil)
	assert.Error(t, err)

	_, err = w.CreateRouter(context.Background(), []domain.RtpCodecCapability{
		{Kind: domain.MediaKindAudio, MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
	})
	assert.Error(t, err)
}

func TestTransport_Parameters(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40010)

	tr, err := r.CreateWebRtcTransport(context.Background(), listenOpts)
	require.NoError(t, err)

	assert.NotEmpty(t, tr.ID())
	assert.NotEmpty(t, tr.ICEParameters().UsernameFragment)
	assert.NotEmpty(t, tr.ICEParameters().Password)
	require.Len(t, tr.ICECandidates(), 2)
	assert.Equal(t, webrtc.ICEProtocolUDP, tr.ICECandidates()[0].Protocol)
	assert.Greater(t, tr.ICECandidates()[0].Priority, tr.ICECandidates()[1].Priority)
	assert.NotEmpty(t, tr.DTLSParameters().Fingerprints)
}

func TestTransport_ConnectOnce(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40010)
	tr, err := r.CreateWebRtcTransport(context.Background(), listenOpts)
	require.NoError(t, err)

	var states []webrtc.DTLSTransportState
	tr.OnDTLSStateChange(func(s webrtc.DTLSTransportState) { states = append(states, s) })

	assert.Error(t, tr.Connect(context.Background(), webrtc.DTLSParameters{}))

	dtls := webrtc.DTLSParameters{Role: webrtc.DTLSRoleClient, Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "AB:CD"}}}
	require.NoError(t, tr.Connect(context.Background(), dtls))
	assert.Error(t, tr.Connect(context.Background(), dtls))
	assert.Equal(t, []webrtc.DTLSTransportState{webrtc.DTLSTransportStateConnecting, webrtc.DTLSTransportStateConnected}, states)
}

func TestPortAllocator_ExhaustionAndRelease(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40000)

	tr, err := r.CreateWebRtcTransport(context.Background(), listenOpts)
	require.NoError(t, err)

	_, err = r.CreateWebRtcTransport(context.Background(), listenOpts)
	assert.Error(t, err)

	require.NoError(t, tr.Close())
	_, err = r.CreateWebRtcTransport(context.Background(), listenOpts)
	assert.NoError(t, err)
}

func TestCanConsume(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40010)
	send, err := r.CreateWebRtcTransport(context.Background(), listenOpts)
	require.NoError(t, err)

	p, err := send.Produce(context.Background(), domain.MediaKindVideo, vp8Params)
	require.NoError(t, err)

	assert.True(t, r.CanConsume(p.ID(), r.RtpCapabilities()))

	h264Only := domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{
		{Kind: domain.MediaKindVideo, MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
	}}
	assert.False(t, r.CanConsume(p.ID(), h264Only))
	assert.False(t, r.CanConsume("missing", r.RtpCapabilities()))
	assert.True(t, r.HasProducer(p.ID()))
	assert.False(t, r.HasProducer("missing"))

	require.NoError(t, p.Close())
	assert.False(t, r.HasProducer(p.ID()))
}

func TestTransport_ProduceRacingCloseLeavesNoProducer(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40100)

	for i := 0; i < 50; i++ {
		send, err := r.CreateWebRtcTransport(context.Background(), listenOpts)
		require.NoError(t, err)

		produced := make(chan domain.ProducerID, 1)
		go func() {
			p, err := send.Produce(context.Background(), domain.MediaKindVideo, vp8Params)
			if err != nil {
				produced <- ""
				return
			}
			produced <- p.ID()
		}()
		require.NoError(t, send.Close())

		if id := <-produced; id != "" {
			assert.False(t, r.HasProducer(id), "closed producer %s still on router", id)
		}
	}
}

func TestNewWorker_NilLogger(t *testing.T) {
	w, err := NewWorker(context.Background(), ports.WorkerSettings{RTCMinPort: 40000, RTCMaxPort: 40001}, nil)
	require.NoError(t, err)
	_, err = w.CreateRouter(context.Background(), testCodecs)
	assert.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestProduce_RejectsUnsupportedCodec(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40010)
	send, err := r.CreateWebRtcTransport(context.Background(), listenOpts)
	require.NoError(t, err)

	_, err = send.Produce(context.Background(), domain.MediaKindVideo, domain.RtpParameters{
		Codecs: []domain.RtpCodecParameters{{MimeType: webrtc.MimeTypeH264, PayloadType: 102, ClockRate: 90000}},
	})
	assert.Error(t, err)

	_, err = send.Produce(context.Background(), domain.MediaKindAudio, vp8Params)
	assert.Error(t, err)

	_, err = send.Produce(context.Background(), "data", vp8Params)
	assert.Error(t, err)
}

func TestConsumer_PausedUntilResumed(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40010)
	send, _ := r.CreateWebRtcTransport(context.Background(), listenOpts)
	recv, _ := r.CreateWebRtcTransport(context.Background(), listenOpts)

	pp, err := send.Produce(context.Background(), domain.MediaKindVideo, vp8Params)
	require.NoError(t, err)
	cc, err := recv.Consume(context.Background(), pp.ID(), r.RtpCapabilities(), true)
	require.NoError(t, err)

	p := pp.(*Producer)
	c := cc.(*Consumer)
	assert.True(t, c.Paused())
	assert.Equal(t, domain.ConsumerTypeSimple, c.Type())
	assert.Equal(t, uint8(101), c.RtpParameters().Codecs[0].PayloadType)

	require.NoError(t, p.WriteRTP(&rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, SSRC: 1111}, Payload: []byte{1}}))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	_, err = c.ReadRTP(ctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.Resume(context.Background()))
	assert.False(t, c.Paused())

	fb, err := p.ReadRTCP(context.Background())
	require.NoError(t, err)
	pli, ok := fb.(*rtcp.PictureLossIndication)
	require.True(t, ok)
	assert.Equal(t, uint32(1111), pli.MediaSSRC)

	require.NoError(t, p.WriteRTP(&rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 2, SSRC: 1111}, Payload: []byte{2}}))
	pkt, err := c.ReadRTP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(2), pkt.SequenceNumber)
	assert.Equal(t, uint8(101), pkt.PayloadType)
	assert.Equal(t, c.RtpParameters().Encodings[0].Ssrc, pkt.SSRC)
}

func TestTransportClose_Cascade(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40010)
	send, _ := r.CreateWebRtcTransport(context.Background(), listenOpts)
	recv, _ := r.CreateWebRtcTransport(context.Background(), listenOpts)

	p, err := send.Produce(context.Background(), domain.MediaKindVideo, vp8Params)
	require.NoError(t, err)
	c, err := recv.Consume(context.Background(), p.ID(), r.RtpCapabilities(), true)
	require.NoError(t, err)

	var producerTransportClosed, consumerProducerClosed, transportClosed bool
	p.OnTransportClose(func() { producerTransportClosed = true })
	c.OnProducerClose(func() { consumerProducerClosed = true })
	send.OnClose(func() { transportClosed = true })

	require.NoError(t, send.Close())
	assert.True(t, producerTransportClosed)
	assert.True(t, consumerProducerClosed)
	assert.True(t, transportClosed)
	assert.False(t, r.CanConsume(p.ID(), r.RtpCapabilities()))

	_, err = send.Produce(context.Background(), domain.MediaKindVideo, vp8Params)
	assert.Error(t, err)
}

func TestProducerClose_NotifiesConsumers(t *testing.T) {
	_, r := newTestRouter(t, 40000, 40010)
	send, _ := r.CreateWebRtcTransport(context.Background(), listenOpts)
	recv, _ := r.CreateWebRtcTransport(context.Background(), listenOpts)

	p, _ := send.Produce(context.Background(), domain.MediaKindVideo, vp8Params)
	c, _ := recv.Consume(context.Background(), p.ID(), r.RtpCapabilities(), false)

	closed := make(chan struct{})
	c.OnProducerClose(func() { close(closed) })
	require.NoError(t, p.Close())

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("consumer was not told about producer close")
	}
	assert.Error(t, c.Resume(context.Background()))
}

func TestWorker_KillClosesRouters(t *testing.T) {
	w, r := newTestRouter(t, 40000, 40010)
	tr, err := r.CreateWebRtcTransport(context.Background(), listenOpts)
	require.NoError(t, err)

	closed := false
	tr.OnClose(func() { closed = true })

	assert.NoError(t, w.DeathReason())
	reason := errors.New("segfault")
	w.Kill(reason)
	w.Kill(nil)

	select {
	case <-w.Died():
	default:
		t.Fatal("died channel not closed")
	}
	assert.Equal(t, reason, w.DeathReason())
	assert.True(t, closed)

	_, err = w.CreateRouter(context.Background(), testCodecs)
	assert.Error(t, err)
}

func TestNewWorker_InvalidPortRange(t *testing.T) {
	_, err := NewWorker(context.Background(), ports.WorkerSettings{RTCMinPort: 5000, RTCMaxPort: 4000}, New(nil).logger)
	assert.Error(t, err)
}
