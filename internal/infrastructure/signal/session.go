package signal

import (
	"sfugate/internal/core/domain"
	"sfugate/internal/core/services"
	"sfugate/internal/infrastructure/middleware"
)

// session is the per-connection state. It is only touched by the
// connection's own loop, so it needs no lock.
//
// Unjoined: room == nil. Joined: room and peer set. A closed connection
// is terminal and its session is dropped.
type session struct {
	peerID  domain.PeerID
	client  *client
	limiter *middleware.MessageLimiter

	room *services.Room
	peer *services.Peer
}

func (s *session) join(room *services.Room, peer *services.Peer) {
	s.room = room
	s.peer = peer
}

func (s *session) leave() {
	s.room = nil
	s.peer = nil
}
