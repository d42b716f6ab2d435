package signal

import (
	"encoding/json"
	"fmt"
	"strings"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/services"

	"github.com/pion/webrtc/v3"
)

// Request is a client message expecting exactly one Response with the same id.
type Request struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type Response struct {
	Response bool        `json:"response"`
	ID       uint64      `json:"id"`
	OK       bool        `json:"ok"`
	Data     interface{} `json:"data,omitempty"`
	Error    *ErrorBody  `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Notification is pushed by the server without a request.
type Notification struct {
	Notification bool        `json:"notification"`
	Method       string      `json:"method"`
	Data         interface{} `json:"data,omitempty"`
}

// Request methods.
const (
	MethodJoinRoom                 = "joinRoom"
	MethodLeaveRoom                = "leaveRoom"
	MethodGetProducers             = "getProducers"
	MethodGetRtpCapabilities       = "getRtpCapabilities"
	MethodGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	MethodCreateWebRtcTransport    = "createWebRtcTransport"
	MethodConnectTransport         = "connectTransport"
	MethodProduce                  = "produce"
	MethodConsume                  = "consume"
	MethodResume                   = "resume"
	MethodGetRoomInfo              = "getRoomInfo"
	MethodProducerClosed           = "producerClosed"
	MethodChatMessage              = "chatMessage"
)

type joinRoomRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type joinRoomResponse struct {
	domain.RoomSnapshot
	PeerID domain.PeerID `json:"peerId"`
}

type connectTransportRequest struct {
	TransportID    string             `json:"transportId"`
	DtlsParameters dtlsParametersJSON `json:"dtlsParameters"`
}

type produceRequest struct {
	TransportID   string               `json:"transportId"`
	Kind          string               `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
}

type produceResponse struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type consumeRequest struct {
	TransportID     string                 `json:"transportId"`
	ProducerID      string                 `json:"producerId"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

type resumeRequest struct {
	ConsumerID string `json:"consumerId,omitempty"`
}

type resumeResponse struct {
	Resumed []domain.ConsumerID `json:"resumed"`
}

type producerClosedRequest struct {
	ProducerID string `json:"producerId"`
}

type chatMessageRequest struct {
	Text string `json:"text"`
}

type chatMessageNotification struct {
	PeerID domain.PeerID `json:"peerId"`
	Name   string        `json:"name"`
	Text   string        `json:"text"`
}

type ack struct{}

type iceParametersJSON struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite"`
}

type iceCandidateJSON struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
	TCPType    string `json:"tcpType,omitempty"`
}

type fingerprintJSON struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type dtlsParametersJSON struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []fingerprintJSON `json:"fingerprints"`
}

type transportResponse struct {
	ID             domain.TransportID `json:"id"`
	IceParameters  iceParametersJSON  `json:"iceParameters"`
	IceCandidates  []iceCandidateJSON `json:"iceCandidates"`
	DtlsParameters dtlsParametersJSON `json:"dtlsParameters"`
}

func newTransportResponse(info *services.TransportInfo) transportResponse {
	resp := transportResponse{
		ID: info.ID,
		IceParameters: iceParametersJSON{
			UsernameFragment: info.ICEParameters.UsernameFragment,
			Password:         info.ICEParameters.Password,
			IceLite:          info.ICEParameters.ICELite,
		},
		IceCandidates:  make([]iceCandidateJSON, 0, len(info.ICECandidates)),
		DtlsParameters: dtlsToJSON(info.DTLSParameters),
	}
	for _, c := range info.ICECandidates {
		candidate := iceCandidateJSON{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
			TCPType:    c.TCPType,
		}
		if c.Protocol == webrtc.ICEProtocolTCP && candidate.TCPType == "" {
			candidate.TCPType = "passive"
		}
		resp.IceCandidates = append(resp.IceCandidates, candidate)
	}
	return resp
}

func dtlsToJSON(p webrtc.DTLSParameters) dtlsParametersJSON {
	out := dtlsParametersJSON{
		Role:         p.Role.String(),
		Fingerprints: make([]fingerprintJSON, 0, len(p.Fingerprints)),
	}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, fingerprintJSON{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out
}

// toWebRTC validates client DTLS parameters before they reach the engine.
func (p dtlsParametersJSON) toWebRTC() (webrtc.DTLSParameters, error) {
	var role webrtc.DTLSRole
	switch strings.ToLower(p.Role) {
	case "", "auto":
		role = webrtc.DTLSRoleAuto
	case "client":
		role = webrtc.DTLSRoleClient
	case "server":
		role = webrtc.DTLSRoleServer
	default:
		return webrtc.DTLSParameters{}, fmt.Errorf("unknown dtls role %q", p.Role)
	}

	if len(p.Fingerprints) == 0 {
		return webrtc.DTLSParameters{}, fmt.Errorf("dtlsParameters.fingerprints is required")
	}
	out := webrtc.DTLSParameters{Role: role, Fingerprints: make([]webrtc.DTLSFingerprint, 0, len(p.Fingerprints))}
	for i, fp := range p.Fingerprints {
		if fp.Algorithm == "" || fp.Value == "" {
			return webrtc.DTLSParameters{}, fmt.Errorf("dtlsParameters.fingerprints[%d] is incomplete", i)
		}
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out, nil
}
