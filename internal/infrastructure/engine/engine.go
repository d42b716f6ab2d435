// Package engine is an in-process implementation of the media engine
// collaborator. It keeps the transport/producer/consumer object model and
// lifecycle notifications of the external engine and forwards RTP between
// producers and consumers in memory.
package engine

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"

	"sfugate/internal/core/domain"
	"sfugate/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var pidCounter atomic.Int64

func init() {
	pidCounter.Store(1000)
}

// Engine creates in-process workers.
type Engine struct {
	logger *zap.SugaredLogger
}

func New(logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{logger: logger}
}

func (e *Engine) CreateWorker(ctx context.Context, settings ports.WorkerSettings) (ports.Worker, error) {
	return NewWorker(ctx, settings, e.logger)
}

// Worker is one simulated engine process.
type Worker struct {
	pid    int
	ports  *portAllocator
	cert   *webrtc.Certificate
	prints []webrtc.DTLSFingerprint
	logger *zap.SugaredLogger

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool

	died      chan struct{}
	deathOnce sync.Once
	deathErr  error
}

func NewWorker(ctx context.Context, settings ports.WorkerSettings, logger *zap.SugaredLogger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if settings.RTCMinPort == 0 || settings.RTCMaxPort < settings.RTCMinPort {
		return nil, fmt.Errorf("invalid RTC port range %d-%d", settings.RTCMinPort, settings.RTCMaxPort)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate DTLS key: %w", err)
	}
	cert, err := webrtc.GenerateCertificate(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate DTLS certificate: %w", err)
	}
	prints, err := cert.GetFingerprints()
	if err != nil {
		return nil, fmt.Errorf("failed to compute DTLS fingerprints: %w", err)
	}

	w := &Worker{
		pid:     int(pidCounter.Add(1)),
		ports:   newPortAllocator(settings.RTCMinPort, settings.RTCMaxPort),
		cert:    cert,
		prints:  prints,
		routers: make(map[string]*Router),
		died:    make(chan struct{}),
	}
	w.logger = logger.With("worker_pid", w.pid)
	w.logger.Infow("media worker started",
		"rtc_min_port", settings.RTCMinPort,
		"rtc_max_port", settings.RTCMaxPort,
		"log_level", settings.LogLevel,
	)
	return w, nil
}

func (w *Worker) PID() int { return w.pid }

func (w *Worker) Died() <-chan struct{} { return w.died }

func (w *Worker) DeathReason() error {
	select {
	case <-w.died:
		return w.deathErr
	default:
		return nil
	}
}

// Kill simulates an unexpected exit of the worker process.
func (w *Worker) Kill(reason error) {
	if reason == nil {
		reason = domain.ErrWorkerDied
	}
	w.deathOnce.Do(func() {
		w.deathErr = reason
		w.logger.Errorw("media worker died", "error", reason)
		w.closeRouters()
		close(w.died)
	})
}

func (w *Worker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (ports.Router, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.DeathReason() != nil {
		return nil, fmt.Errorf("worker %d is not running", w.pid)
	}

	caps, err := buildRouterCapabilities(codecs)
	if err != nil {
		return nil, err
	}

	r := newRouter(w, caps)
	w.routers[r.id] = r
	w.logger.Debugw("router created", "router_id", r.id, "codecs", len(caps.Codecs))
	return r, nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}

func (w *Worker) closeRouters() {
	w.mu.Lock()
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
}

// Close stops the worker without reporting death.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.closeRouters()
	w.logger.Infow("media worker closed")
	return nil
}
