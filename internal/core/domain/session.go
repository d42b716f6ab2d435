package domain

import (
	"encoding/json"
	"time"
)

// Notification names pushed to room members.
const (
	NotificationPeerJoined     = "peerJoined"
	NotificationPeerLeft       = "peerLeft"
	NotificationNewProducers   = "newProducers"
	NotificationProducerClosed = "producerClosed"
	NotificationConsumerClosed = "consumerClosed"
	NotificationChatMessage    = "chatMessage"
)

type PeerInfo struct {
	ID       PeerID    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

type RoomSnapshot struct {
	ID    RoomID     `json:"id"`
	Peers []PeerInfo `json:"peers"`
}

// ProducerDescriptor tells a peer what is being published in its room.
type ProducerDescriptor struct {
	ProducerID ProducerID `json:"producerId"`
	PeerID     PeerID     `json:"peerId"`
	Name       string     `json:"name"`
	Kind       MediaKind  `json:"kind"`
}

type ConsumeResult struct {
	ID             ConsumerID    `json:"id"`
	ProducerID     ProducerID    `json:"producerId"`
	Kind           MediaKind     `json:"kind"`
	RtpParameters  RtpParameters `json:"rtpParameters"`
	Type           ConsumerType  `json:"type"`
	ProducerPaused bool          `json:"producerPaused"`
}

// EventType names a session lifecycle event published to external observers.
type EventType string

const (
	EventRoomCreated    EventType = "room.created"
	EventRoomEvicted    EventType = "room.evicted"
	EventPeerJoined     EventType = "peer.joined"
	EventPeerLeft       EventType = "peer.left"
	EventProducerOpened EventType = "producer.opened"
	EventProducerClosed EventType = "producer.closed"
)

type SessionEvent struct {
	Type       EventType       `json:"type"`
	InstanceID string          `json:"instance_id"`
	Timestamp  time.Time       `json:"timestamp"`
	RoomID     RoomID          `json:"room_id,omitempty"`
	PeerID     PeerID          `json:"peer_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
