package signal

import (
	"testing"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/services"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTLSParametersToWebRTC(t *testing.T) {
	fp := []fingerprintJSON{{Algorithm: "sha-256", Value: "AA:BB"}}

	tests := []struct {
		name    string
		in      dtlsParametersJSON
		role    webrtc.DTLSRole
		wantErr bool
	}{
		{name: "client role", in: dtlsParametersJSON{Role: "client", Fingerprints: fp}, role: webrtc.DTLSRoleClient},
		{name: "server role upper case", in: dtlsParametersJSON{Role: "SERVER", Fingerprints: fp}, role: webrtc.DTLSRoleServer},
		{name: "missing role means auto", in: dtlsParametersJSON{Fingerprints: fp}, role: webrtc.DTLSRoleAuto},
		{name: "unknown role", in: dtlsParametersJSON{Role: "actpass", Fingerprints: fp}, wantErr: true},
		{name: "no fingerprints", in: dtlsParametersJSON{Role: "client"}, wantErr: true},
		{name: "incomplete fingerprint", in: dtlsParametersJSON{Fingerprints: []fingerprintJSON{{Algorithm: "sha-256"}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.in.toWebRTC()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, out.Role)
			require.Len(t, out.Fingerprints, 1)
			assert.Equal(t, "AA:BB", out.Fingerprints[0].Value)
		})
	}
}

func TestNewTransportResponse(t *testing.T) {
	info := &services.TransportInfo{
		ID:            domain.TransportID("t-1"),
		ICEParameters: webrtc.ICEParameters{UsernameFragment: "ufrag", Password: "pwd"},
		ICECandidates: []webrtc.ICECandidate{
			{Foundation: "1", Priority: 100, Address: "10.0.0.1", Protocol: webrtc.ICEProtocolUDP, Port: 40000, Typ: webrtc.ICECandidateTypeHost},
			{Foundation: "2", Priority: 50, Address: "10.0.0.1", Protocol: webrtc.ICEProtocolTCP, Port: 40001, Typ: webrtc.ICECandidateTypeHost},
		},
		DTLSParameters: webrtc.DTLSParameters{
			Role:         webrtc.DTLSRoleAuto,
			Fingerprints: []webrtc.DTLSFingerprint{{Algorithm: "sha-256", Value: "CC:DD"}},
		},
	}

	resp := newTransportResponse(info)
	assert.Equal(t, domain.TransportID("t-1"), resp.ID)
	assert.Equal(t, "ufrag", resp.IceParameters.UsernameFragment)
	require.Len(t, resp.IceCandidates, 2)
	assert.Equal(t, iceCandidateJSON{Foundation: "1", Priority: 100, IP: "10.0.0.1", Protocol: "udp", Port: 40000, Type: "host"}, resp.IceCandidates[0])
	assert.Equal(t, "tcp", resp.IceCandidates[1].Protocol)
	assert.Equal(t, "passive", resp.IceCandidates[1].TCPType)
	assert.Equal(t, "auto", resp.DtlsParameters.Role)
	assert.Equal(t, []fingerprintJSON{{Algorithm: "sha-256", Value: "CC:DD"}}, resp.DtlsParameters.Fingerprints)
}

func TestHub_NotifyUnknownPeer(t *testing.T) {
	hub := NewHub(nil)

	err := hub.Notify(domain.PeerID("ghost"), domain.NotificationPeerJoined, nil)
	assert.ErrorIs(t, err, ErrPeerNotConnected)
	assert.False(t, hub.IsConnected("ghost"))
	assert.Equal(t, 0, hub.Count())
}
