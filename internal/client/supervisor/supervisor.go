// Package supervisor decides when the battle connection is re-established.
//
// Transport loss and liveness stalls feed the same transition table, so the
// two failure paths can never schedule competing reconnect attempts.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/yourusername/quizbattle/internal/metrics"
	"go.uber.org/zap"
)

// Phase is the supervisor's position in the reconnect cycle
type Phase int

const (
	PhaseStable Phase = iota
	PhaseRetrying
	PhaseExhausted
)

func (p Phase) String() string {
	switch p {
	case PhaseStable:
		return "stable"
	case PhaseRetrying:
		return "retrying"
	case PhaseExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Input is a fact reported to the transition table
type Input int

const (
	InputTransportClosed Input = iota + 1
	InputStallDetected
	InputReconnectSucceeded
	InputReconnectFailed
)

func (i Input) String() string {
	switch i {
	case InputTransportClosed:
		return "transport_closed"
	case InputStallDetected:
		return "stall_detected"
	case InputReconnectSucceeded:
		return "reconnect_succeeded"
	case InputReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// Reconnector re-establishes the connection to the remembered room
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// Liveness is the session state the health check watches
type Liveness interface {
	LastUpdatedAt() time.Time
	Reset()
}

// Config holds the supervisor timings
type Config struct {
	BaseDelay      time.Duration
	MaxAttempts    int
	CheckInterval  time.Duration
	StallThreshold time.Duration
	VerifyDelay    time.Duration // counted from the end of a stall's first attempt
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		BaseDelay:      5 * time.Second,
		MaxAttempts:    3,
		CheckInterval:  5 * time.Second,
		StallThreshold: 30 * time.Second,
		VerifyDelay:    3 * time.Second,
	}
}

// Supervisor runs the reconnect state machine and the liveness health loop
type Supervisor struct {
	cfg         Config
	reconnector Reconnector
	liveness    Liveness
	log         *zap.Logger

	mu          sync.Mutex
	watching    bool
	gen         uint64
	phase       Phase
	attempt     int
	bo          backoff.BackOff
	baseline    time.Time
	ctx         context.Context
	cancel      context.CancelFunc
	attemptTmr  *time.Timer
	verifyTmr   *time.Timer
	onPhase     func(phase Phase, attempt int)
	onExhausted func()
	onHardReset func()

	// set by a stall until its first attempt has run
	stallPending  bool
	stallObserved time.Time
}

// New creates a supervisor. It does nothing until Watch is called.
func New(cfg Config, reconnector Reconnector, liveness Liveness, log *zap.Logger) *Supervisor {
	d := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = d.BaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = d.CheckInterval
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = d.StallThreshold
	}
	if cfg.VerifyDelay <= 0 {
		cfg.VerifyDelay = d.VerifyDelay
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Supervisor{
		cfg:         cfg,
		reconnector: reconnector,
		liveness:    liveness,
		log:         log.With(zap.String("component", "reconnect_supervisor")),
		phase:       PhaseStable,
	}
}

// OnPhaseChange sets the callback for phase transitions
func (s *Supervisor) OnPhaseChange(callback func(phase Phase, attempt int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPhase = callback
}

// OnExhausted sets the callback fired once when the retry budget runs out
func (s *Supervisor) OnExhausted(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExhausted = callback
}

// OnHardReset sets the callback fired after a stall forced a state reset
func (s *Supervisor) OnHardReset(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHardReset = callback
}

// Status returns the current phase and attempt number
func (s *Supervisor) Status() (Phase, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.attempt
}

// MaxAttempts returns the retry budget
func (s *Supervisor) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

// Watch arms the supervisor for a freshly connected room and starts the
// health loop. Calling it again restarts from Stable.
func (s *Supervisor) Watch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	s.watching = true
	s.phase = PhaseStable
	s.attempt = 0
	s.bo = newBackOff(s.cfg.BaseDelay, s.cfg.MaxAttempts)
	s.baseline = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.healthLoop(s.ctx, s.gen)
	s.log.Debug("supervisor watching")
}

// Stop cancels the health loop and every pending timer
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.watching {
		return
	}
	s.stopLocked()
	s.gen++
	s.watching = false
	s.phase = PhaseStable
	s.attempt = 0
	s.log.Debug("supervisor stopped")
}

func (s *Supervisor) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.attemptTmr != nil {
		s.attemptTmr.Stop()
		s.attemptTmr = nil
	}
	if s.verifyTmr != nil {
		s.verifyTmr.Stop()
		s.verifyTmr = nil
	}
	s.stallPending = false
}

// Handle feeds input into the transition table
func (s *Supervisor) Handle(in Input) {
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	s.handle(gen, in)
}

// handle applies in unless it belongs to an earlier Watch
func (s *Supervisor) handle(gen uint64, in Input) {
	var notify []func()

	s.mu.Lock()
	if !s.watching || s.gen != gen {
		s.mu.Unlock()
		return
	}
	metrics.SupervisorEvents.WithLabelValues(in.String()).Inc()
	from, fromAttempt := s.phase, s.attempt

	switch s.phase {
	case PhaseStable:
		switch in {
		case InputTransportClosed, InputStallDetected:
			s.log.Warn("connection needs recovery", zap.Stringer("input", in))
			s.attempt = 0
			s.bo.Reset()
			if in == InputStallDetected {
				s.stallPending = true
				s.stallObserved = s.liveness.LastUpdatedAt()
			}
			notify = append(notify, s.scheduleAttemptLocked()...)
		default:
			s.log.Debug("ignoring input while stable", zap.Stringer("input", in))
		}

	case PhaseRetrying:
		switch in {
		case InputReconnectFailed:
			notify = append(notify, s.scheduleAttemptLocked()...)
		case InputReconnectSucceeded:
			s.log.Info("reconnected", zap.Int("attempt", s.attempt))
			s.phase = PhaseStable
			s.attempt = 0
			s.bo.Reset()
			s.baseline = time.Now()
		default:
			// an attempt is already pending
		}

	case PhaseExhausted:
		s.log.Debug("ignoring input after exhaustion", zap.Stringer("input", in))
	}

	if s.phase != from || s.attempt != fromAttempt {
		if cb := s.onPhase; cb != nil {
			phase, attempt := s.phase, s.attempt
			notify = append([]func(){func() { cb(phase, attempt) }}, notify...)
		}
	}
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
}

// scheduleAttemptLocked arms the next attempt or moves to Exhausted.
// It returns the callbacks to run once the lock is released.
func (s *Supervisor) scheduleAttemptLocked() []func() {
	delay := s.bo.NextBackOff()
	if delay == backoff.Stop {
		s.phase = PhaseExhausted
		metrics.SupervisorEvents.WithLabelValues("exhausted").Inc()
		s.log.Error("reconnect attempts exhausted", zap.Int("max_attempts", s.cfg.MaxAttempts))
		if s.cancel != nil {
			s.cancel()
		}
		if cb := s.onExhausted; cb != nil {
			return []func(){cb}
		}
		return nil
	}

	s.attempt++
	s.phase = PhaseRetrying
	gen, attempt := s.gen, s.attempt
	s.attemptTmr = time.AfterFunc(delay, func() { s.runAttempt(gen, attempt) })

	s.log.Info("reconnect scheduled",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
		zap.Duration("delay", delay))
	return nil
}

func (s *Supervisor) runAttempt(gen uint64, attempt int) {
	s.mu.Lock()
	if !s.watching || s.gen != gen || s.phase != PhaseRetrying || s.attempt != attempt {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	s.log.Info("attempting reconnect", zap.Int("attempt", attempt))
	err := s.reconnector.Reconnect(ctx)

	// the verify window opens once the stall's reconnect had its chance
	s.mu.Lock()
	if s.watching && s.gen == gen && s.stallPending {
		s.stallPending = false
		s.scheduleVerifyLocked()
	}
	s.mu.Unlock()

	if err != nil {
		metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
		s.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		s.handle(gen, InputReconnectFailed)
		return
	}
	metrics.ReconnectAttempts.WithLabelValues("success").Inc()
	s.handle(gen, InputReconnectSucceeded)
}

// scheduleVerifyLocked hard resets the store if nothing arrived since the
// stall by VerifyDelay after the first reconnect attempt
func (s *Supervisor) scheduleVerifyLocked() {
	if s.verifyTmr != nil {
		s.verifyTmr.Stop()
	}
	observed := s.stallObserved
	gen := s.gen

	s.verifyTmr = time.AfterFunc(s.cfg.VerifyDelay, func() {
		s.mu.Lock()
		if !s.watching || s.gen != gen {
			s.mu.Unlock()
			return
		}
		cb := s.onHardReset
		s.mu.Unlock()

		if s.liveness.LastUpdatedAt().After(observed) {
			s.log.Info("session recovered before verify check")
			return
		}
		s.liveness.Reset()
		metrics.SupervisorEvents.WithLabelValues("hard_reset").Inc()
		if cb != nil {
			cb()
		}
	})
}

func (s *Supervisor) healthLoop(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(gen)
		}
	}
}

func (s *Supervisor) checkHealth(gen uint64) {
	s.mu.Lock()
	if !s.watching || s.gen != gen || s.phase != PhaseStable {
		s.mu.Unlock()
		return
	}
	baseline := s.baseline
	s.mu.Unlock()

	last := s.liveness.LastUpdatedAt()
	if last.Before(baseline) {
		last = baseline
	}
	if silence := time.Since(last); silence > s.cfg.StallThreshold {
		s.log.Warn("no battle events received",
			zap.Duration("silence", silence),
			zap.Duration("threshold", s.cfg.StallThreshold))
		s.handle(gen, InputStallDetected)
	}
}
