package domain

import (
	"strings"

	"github.com/pion/webrtc/v3"
)

// MediaKind is the kind of a single track.
type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

// Valid reports whether k names a kind the engine can carry.
func (k MediaKind) Valid() bool {
	return webrtc.NewRTPCodecType(string(k)) != 0
}

// ConsumerType mirrors the engine's consumer flavour. Only simple consumers are produced today.
type ConsumerType string

const (
	ConsumerTypeSimple    ConsumerType = "simple"
	ConsumerTypeSimulcast ConsumerType = "simulcast"
)

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpCodecCapability is one entry of a router or endpoint capability set.
type RtpCodecCapability struct {
	Kind                 MediaKind              `json:"kind"`
	MimeType             string                 `json:"mimeType"`
	PreferredPayloadType uint8                  `json:"preferredPayloadType,omitempty"`
	ClockRate            uint32                 `json:"clockRate"`
	Channels             uint16                 `json:"channels,omitempty"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback         []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtension struct {
	Kind        MediaKind `json:"kind"`
	URI         string    `json:"uri"`
	PreferredID int       `json:"preferredId"`
}

// RtpCapabilities is the negotiated capability set of a router or the declared set of an endpoint.
type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string                 `json:"mimeType"`
	PayloadType  uint8                  `json:"payloadType"`
	ClockRate    uint32                 `json:"clockRate"`
	Channels     uint16                 `json:"channels,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback         `json:"rtcpFeedback,omitempty"`
}

type RtpEncodingParameters struct {
	Ssrc            uint32 `json:"ssrc,omitempty"`
	Rid             string `json:"rid,omitempty"`
	ScalabilityMode string `json:"scalabilityMode,omitempty"`
	MaxBitrate      int    `json:"maxBitrate,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

// RtpParameters describe what a producer sends or a consumer receives.
type RtpParameters struct {
	Mid       string                  `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters    `json:"codecs"`
	Encodings []RtpEncodingParameters `json:"encodings,omitempty"`
	Rtcp      RtcpParameters          `json:"rtcp,omitempty"`
}

// IsRtx reports whether the mime type names a retransmission codec.
func IsRtx(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}

// MatchCodec reports whether a parameter codec and a capability codec describe the same codec.
func MatchCodec(p RtpCodecParameters, c RtpCodecCapability) bool {
	if !strings.EqualFold(p.MimeType, c.MimeType) || p.ClockRate != c.ClockRate {
		return false
	}
	if c.Kind == MediaKindAudio || strings.HasPrefix(strings.ToLower(c.MimeType), "audio/") {
		pc, cc := p.Channels, c.Channels
		if pc == 0 {
			pc = 1
		}
		if cc == 0 {
			cc = 1
		}
		if pc != cc {
			return false
		}
	}
	if strings.EqualFold(c.MimeType, webrtc.MimeTypeH264) {
		return fmtpValue(p.Parameters, "packetization-mode") == fmtpValue(c.Parameters, "packetization-mode")
	}
	return true
}

func fmtpValue(params map[string]interface{}, key string) interface{} {
	v, ok := params[key]
	if !ok {
		return float64(0)
	}
	switch n := v.(type) {
	case int:
		return float64(n)
	case uint8:
		return float64(n)
	case float64:
		return n
	default:
		return v
	}
}
