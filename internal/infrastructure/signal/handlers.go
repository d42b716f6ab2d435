package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/services"
	apperrors "sfugate/pkg/errors"
	"sfugate/pkg/validation"
)

type route struct {
	needsRoom bool
	fn        func(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error)
}

func (s *Server) routes() map[string]route {
	joined := func(fn func(context.Context, *session, json.RawMessage) (interface{}, error)) route {
		return route{needsRoom: true, fn: fn}
	}
	return map[string]route{
		MethodJoinRoom:                 {fn: s.handleJoinRoom},
		MethodLeaveRoom:                joined(s.handleLeaveRoom),
		MethodGetProducers:             joined(s.handleGetProducers),
		MethodGetRtpCapabilities:       joined(s.handleGetRtpCapabilities),
		MethodGetRouterRtpCapabilities: joined(s.handleGetRtpCapabilities),
		MethodCreateWebRtcTransport:    joined(s.handleCreateWebRtcTransport),
		MethodConnectTransport:         joined(s.handleConnectTransport),
		MethodProduce:                  joined(s.handleProduce),
		MethodConsume:                  joined(s.handleConsume),
		MethodResume:                   joined(s.handleResume),
		MethodGetRoomInfo:              joined(s.handleGetRoomInfo),
		MethodProducerClosed:           joined(s.handleProducerClosed),
		MethodChatMessage:              joined(s.handleChatMessage),
	}
}

// decode unmarshals a request payload. A missing payload decodes as empty.
func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.NewInvalidInputError(fmt.Sprintf("invalid payload: %v", err))
	}
	return nil
}

func invalid(err error) error {
	return apperrors.NewInvalidInputError(err.Error())
}

func (s *Server) handleJoinRoom(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	if sess.room != nil {
		return nil, fmt.Errorf("%w: room %s", domain.ErrAlreadyJoined, sess.room.ID())
	}

	var req joinRoomRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateRoomID(req.RoomID); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateDisplayName(req.Name); err != nil {
		return nil, invalid(err)
	}

	peer := services.NewPeer(sess.peerID, strings.TrimSpace(req.Name), s.metrics, s.logger)
	room, err := s.registry.Join(ctx, domain.RoomID(req.RoomID), peer)
	if err != nil {
		return nil, err
	}
	sess.join(room, peer)

	return joinRoomResponse{RoomSnapshot: room.ToSnapshot(), PeerID: sess.peerID}, nil
}

func (s *Server) handleLeaveRoom(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	roomID := sess.room.ID()
	err := s.registry.Leave(roomID, sess.peerID)
	sess.leave()
	if err != nil {
		return nil, err
	}
	return ack{}, nil
}

func (s *Server) handleGetProducers(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	return sess.room.GetProducerListForPeer(), nil
}

func (s *Server) handleGetRtpCapabilities(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	return sess.room.GetRtpCapabilities(), nil
}

func (s *Server) handleGetRoomInfo(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	return sess.room.ToSnapshot(), nil
}

func (s *Server) handleCreateWebRtcTransport(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	info, err := sess.room.CreateWebRtcTransport(ctx, sess.peerID)
	if err != nil {
		return nil, err
	}
	return newTransportResponse(info), nil
}

func (s *Server) handleConnectTransport(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	var req connectTransportRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateID(req.TransportID, "transportId"); err != nil {
		return nil, invalid(err)
	}
	dtls, err := req.DtlsParameters.toWebRTC()
	if err != nil {
		return nil, invalid(err)
	}

	if err := sess.room.ConnectPeerTransport(ctx, sess.peerID, domain.TransportID(req.TransportID), dtls); err != nil {
		return nil, err
	}
	return ack{}, nil
}

func (s *Server) handleProduce(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	var req produceRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateID(req.TransportID, "transportId"); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateMediaKind(req.Kind); err != nil {
		return nil, invalid(err)
	}
	if len(req.RtpParameters.Codecs) == 0 {
		return nil, apperrors.NewInvalidInputError("rtpParameters.codecs is required")
	}

	producerID, err := sess.room.Produce(ctx, sess.peerID, domain.TransportID(req.TransportID), domain.MediaKind(req.Kind), req.RtpParameters)
	if err != nil {
		return nil, err
	}
	return produceResponse{ProducerID: producerID}, nil
}

func (s *Server) handleConsume(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	var req consumeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateID(req.TransportID, "transportId"); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidateID(req.ProducerID, "producerId"); err != nil {
		return nil, invalid(err)
	}

	result, err := sess.room.Consume(ctx, sess.peerID, domain.TransportID(req.TransportID), domain.ProducerID(req.ProducerID), req.RtpCapabilities)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) handleResume(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	var req resumeRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ConsumerID != "" {
		if err := validation.ValidateID(req.ConsumerID, "consumerId"); err != nil {
			return nil, invalid(err)
		}
	}

	resumed, err := sess.room.ResumeConsumer(ctx, sess.peerID, domain.ConsumerID(req.ConsumerID))
	if err != nil {
		return nil, err
	}
	return resumeResponse{Resumed: resumed}, nil
}

func (s *Server) handleProducerClosed(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	var req producerClosedRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateID(req.ProducerID, "producerId"); err != nil {
		return nil, invalid(err)
	}

	if err := sess.room.CloseProducer(sess.peerID, domain.ProducerID(req.ProducerID)); err != nil {
		return nil, err
	}
	return ack{}, nil
}

func (s *Server) handleChatMessage(ctx context.Context, sess *session, data json.RawMessage) (interface{}, error) {
	var req chatMessageRequest
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateChatText(req.Text); err != nil {
		return nil, invalid(err)
	}

	sess.room.Broadcast(sess.peerID, domain.NotificationChatMessage, chatMessageNotification{
		PeerID: sess.peerID,
		Name:   sess.peer.Name(),
		Text:   req.Text,
	})
	return ack{}, nil
}
