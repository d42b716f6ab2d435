package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"
	"sfugate/internal/core/services"
	"sfugate/internal/infrastructure/middleware"
	apperrors "sfugate/pkg/errors"
	rlog "sfugate/pkg/logger"
	"sfugate/pkg/tracing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	// SendQueueSize is the number of outbound messages a connection may have pending.
	// A connection whose notifications overflow it is dropped.
	SendQueueSize  int
	// CallTimeout bounds every request that reaches the media engine.
	CallTimeout    time.Duration
	AllowedOrigins []string
	// NewLimiter builds the message limiter of a new connection. Nil disables limiting.
	NewLimiter     func() *middleware.MessageLimiter
}

func DefaultOptions() Options {
	return Options{
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendQueueSize:  64,
		CallTimeout:    10 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Server runs the signaling state machine for every WebSocket connection.
type Server struct {
	registry *services.RoomRegistry
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
	handlers map[string]route

	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger
	ctxLog  *rlog.ContextLogger
}

func NewServer(registry *services.RoomRegistry, hub *Hub, opts Options, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if metrics == nil {
		metrics = registry.Metrics()
	}
	s := &Server{
		registry: registry,
		hub:      hub,
		opts:     opts,
		metrics:  metrics,
		logger:   logger,
		ctxLog:   rlog.NewContextLogger(logger.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	s.handlers = s.routes()
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket upgrades the request and serves the connection until it closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := s.newSession(conn)
	defer sess.client.close()
	go sess.client.writePump(s.logger.With("peer_id", sess.peerID))
	s.hub.register(sess.peerID, sess.client)
	s.logger.Infow("signaling connection opened", "peer_id", sess.peerID, "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(s.opts.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 16)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			select {
			case messageChan <- data:
			case <-done:
				return
			}
		}
	}()

loop:
	for {
		select {
		case data := <-messageChan:
			if err := sess.client.reply(s.handleMessage(sess, data)); err != nil {
				s.logger.Infow("error queueing response", "peer_id", sess.peerID, "error", err)
				break loop
			}

		case <-pingTicker.C:
			if err := sess.client.writeControl(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "peer_id", sess.peerID, "error", err)
				break loop
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message from peer", "peer_id", sess.peerID, "error", err)
			}
			break loop
		}
	}

	s.hub.unregister(sess.peerID, sess.client)
	s.disconnect(sess)
	s.logger.Infow("signaling connection closed", "peer_id", sess.peerID)
}

func (s *Server) newSession(conn *websocket.Conn) *session {
	var limiter *middleware.MessageLimiter
	if s.opts.NewLimiter != nil {
		limiter = s.opts.NewLimiter()
	}
	return &session{
		peerID:  domain.PeerID(uuid.NewString()),
		client:  newClient(conn, s.opts.WriteTimeout, s.opts.SendQueueSize),
		limiter: limiter,
	}
}

// handleMessage turns one inbound frame into exactly one response.
func (s *Server) handleMessage(sess *session, data []byte) Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(0, apperrors.NewInvalidInputError("malformed request"))
	}
	if req.ID == nil {
		return errorResponse(0, apperrors.NewInvalidInputError("request id is required"))
	}
	id := *req.ID

	start := time.Now()
	ctx := rlog.WithPeerID(context.Background(), string(sess.peerID))
	ctx = rlog.WithRequestID(ctx, strconv.FormatUint(id, 10))
	if sess.room != nil {
		ctx = rlog.WithRoomID(ctx, string(sess.room.ID()))
	}
	ctx, span := tracing.TraceSignalRequest(ctx, req.Method, id, string(sess.peerID))
	defer span.End()

	result, err := s.dispatch(ctx, sess, req)

	code := "OK"
	var resp Response
	if err != nil {
		appErr := apperrors.FromDomain(err)
		code = string(appErr.Code)
		tracing.RecordError(ctx, err)
		tracing.AddSpanAttributes(ctx, tracing.ErrorCodeKey.String(code))
		s.logFailure(ctx, req.Method, appErr)
		resp = errorResponse(id, appErr)
	} else {
		resp = Response{Response: true, ID: id, OK: true, Data: result}
	}
	if sess.room != nil {
		tracing.AddSpanAttributes(ctx, tracing.RoomIDKey.String(string(sess.room.ID())))
	}

	method := req.Method
	if _, known := s.handlers[method]; !known {
		method = "unknown"
	}
	s.metrics.RequestHandled(method, code, time.Since(start))
	tracing.MeasureDuration(ctx, start)
	return resp
}

func (s *Server) dispatch(ctx context.Context, sess *session, req Request) (interface{}, error) {
	if !sess.limiter.Allow() {
		return nil, apperrors.NewRateLimitError()
	}
	handler, ok := s.handlers[req.Method]
	if !ok {
		return nil, apperrors.NewInvalidInputError("unknown method " + strconv.Quote(req.Method))
	}
	if handler.needsRoom && sess.room == nil {
		return nil, domain.ErrNotJoined
	}

	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}
	return handler.fn(ctx, sess, req.Data)
}

func (s *Server) logFailure(ctx context.Context, method string, appErr *apperrors.AppError) {
	fields := []interface{}{"method", method, "code", appErr.Code, "error", appErr.Error()}
	switch appErr.Code {
	case apperrors.ErrCodeInternal, apperrors.ErrCodeEngineFailure, apperrors.ErrCodeTimeout:
		s.ctxLog.Sugar(ctx).Errorw("signaling request failed", fields...)
	default:
		s.ctxLog.Sugar(ctx).Infow("signaling request rejected", fields...)
	}
}

// disconnect runs the teardown of a closed connection.
func (s *Server) disconnect(sess *session) {
	if sess.room == nil {
		return
	}
	if err := s.registry.Leave(sess.room.ID(), sess.peerID); err != nil {
		s.logger.Infow("error removing peer on disconnect", "peer_id", sess.peerID, "room_id", sess.room.ID(), "error", err)
	}
	sess.leave()
}

func errorResponse(id uint64, appErr *apperrors.AppError) Response {
	return Response{
		Response: true,
		ID:       id,
		OK:       false,
		Error:    &ErrorBody{Code: string(appErr.Code), Message: appErr.Message},
	}
}

// Stats is served on the health endpoint.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (s *Server) Stats() Stats {
	return Stats{Connections: s.hub.Count(), Rooms: s.registry.Len()}
}

func (s *Server) ConnectionCount() int { return s.hub.Count() }

// Shutdown closes every connection. Handlers tear their peers down as they exit.
func (s *Server) Shutdown() {
	s.hub.CloseAll()
}
