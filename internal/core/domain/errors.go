package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomClosed        = errors.New("room closed")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrConsumerNotFound  = errors.New("consumer not found")

	ErrNotJoined     = errors.New("connection has not joined a room")
	ErrAlreadyJoined = errors.New("connection already joined a room")

	// ErrCannotConsume is a negotiation refusal, not a failure.
	ErrCannotConsume = errors.New("cannot consume")

	ErrEngineFailure = errors.New("media engine failure")
	ErrWorkerDied    = errors.New("media engine worker died")
)
