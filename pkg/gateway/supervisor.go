// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/chatgate/pkg/credstore"
)

const (
	defaultLivenessInterval      = 30 * time.Second
	defaultLivenessFailThreshold = 2
	defaultProbeTimeout          = 5 * time.Second
	defaultTeardownTimeout       = 5 * time.Second

	readinessProbeAttempts = 3
	readinessProbeDelay    = 500 * time.Millisecond
)

// SupervisorConfig holds the supervisor's runtime knobs. Zero values are
// replaced with defaults by NewSupervisor.
type SupervisorConfig struct {
	// ClientID selects which persisted credential to use. Immutable for the
	// process lifetime.
	ClientID string
	// SessionPath is the directory the network client uses for its own
	// cache/profile data.
	SessionPath string
	// LivenessInterval is how often the connection state is verified while
	// ready.
	LivenessInterval time.Duration
	// LivenessFailThreshold is the number of consecutive failed liveness
	// checks required before the fault path runs. A value of 2 gives one
	// free re-check for transient hiccups.
	LivenessFailThreshold int
	// ProbeTimeout bounds a single client state query.
	ProbeTimeout time.Duration
	// ReadinessProbe enables the bounded confirmation probe after the
	// network's ready signal. Off by default; it never fabricates readiness.
	ReadinessProbe bool
	// TeardownTimeout caps the best-effort client destroy before exit.
	TeardownTimeout time.Duration
}

func (c *SupervisorConfig) applyDefaults() {
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = defaultLivenessInterval
	}
	if c.LivenessFailThreshold <= 0 {
		c.LivenessFailThreshold = defaultLivenessFailThreshold
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = defaultTeardownTimeout
	}
}

// Supervisor owns the single network connection handle for one client
// identity and maintains the canonical connection state machine. All state
// mutations happen on the event-loop goroutine or under the state mutex, so
// HTTP-facing reads are plain snapshots.
type Supervisor struct {
	cfg      SupervisorConfig
	factory  ClientFactory
	store    credstore.Store
	fallback credstore.Store
	log      zerolog.Logger

	// exit is called exactly once on any fatal fault. Overridden in tests.
	exit     func(code int)
	exitOnce sync.Once

	mu             sync.RWMutex
	status         Status
	artifact       string
	progress       int
	lastTransition time.Time
	livenessOn     bool
	client         NetworkClient
	running        bool
	stopRequested  bool
	manual         bool
	stopChan       chan struct{}
}

// NewSupervisor creates a supervisor. fallback may be nil; when set, it
// receives a copy of any credential the primary store failed to save.
func NewSupervisor(cfg SupervisorConfig, factory ClientFactory, store, fallback credstore.Store, log zerolog.Logger) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:            cfg,
		factory:        factory,
		store:          store,
		fallback:       fallback,
		log:            log.With().Str("component", "supervisor").Str("client_id", cfg.ClientID).Logger(),
		exit:           os.Exit,
		status:         StatusDisconnected,
		lastTransition: time.Now(),
	}
}

// Start validates the session directory, loads any persisted credential and
// brings up a new network client. Any previously held handle is destroyed
// first so at most one handle is ever live per identity. Returns an error
// without exiting; startup failures abort the process at the call site.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	// Claim the slot before the mutex is released so an overlapping Start
	// is refused before either caller constructs a client.
	s.running = true
	old := s.client
	s.client = nil
	s.mu.Unlock()

	if old != nil {
		s.destroyClient(old)
	}

	dir := NewSessionDir(s.cfg.SessionPath, s.log)
	if err := dir.Ensure(); err != nil {
		s.abortStart(StatusFaulted)
		return fmt.Errorf("session directory unusable: %w", err)
	}

	var payload []byte
	rec, err := s.store.Load(ctx, s.cfg.ClientID)
	switch {
	case err == nil:
		payload = rec.Payload
		s.log.Info().Time("updated_at", rec.UpdatedAt).Msg("Restored persisted credential")
	case errors.Is(err, credstore.ErrNotFound):
		s.log.Info().Msg("No persisted credential, expecting onboarding flow")
	default:
		// The store contract maps backend errors to ErrNotFound, but stay
		// tolerant of custom implementations.
		s.log.Warn().Err(err).Msg("Credential load failed, continuing without")
	}

	s.setStatus(StatusInitializing)

	client, err := s.factory(s.cfg.ClientID, payload)
	if err != nil {
		s.abortStart(StatusFaulted)
		return fmt.Errorf("failed to construct network client: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		s.destroyClient(client)
		s.abortStart(StatusFaulted)
		return fmt.Errorf("failed to start network client: %w", err)
	}

	s.mu.Lock()
	s.client = client
	s.manual = false
	s.stopRequested = false
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	s.log.Info().Msg("Connection initializing")
	go s.run(ctx, client, stop)
	return nil
}

// abortStart releases the running claim after a failed startup so a later
// Start can try again.
func (s *Supervisor) abortStart(st Status) {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.setStatus(st)
}

// run is the single event loop. Events, liveness ticks and stop requests
// are serialized here; handlers run to completion before the next event.
func (s *Supervisor) run(ctx context.Context, client NetworkClient, stop <-chan struct{}) {
	events := client.Events()
	var ticker *time.Ticker
	var tick <-chan time.Time
	fails := 0

	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		s.mu.Lock()
		s.livenessOn = false
		s.running = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return

		case ev, ok := <-events:
			if !ok {
				if s.isManual() {
					return
				}
				eff, fatal := s.handleEvent(ctx, client, DisconnectedEvent{Reason: "event stream closed"})
				if fatal {
					s.fatal(client, eff.fatalReason)
				}
				return
			}

			eff, fatal := s.handleEvent(ctx, client, ev)
			if eff.stopLiveness && ticker != nil {
				ticker.Stop()
				ticker, tick = nil, nil
				fails = 0
				s.setLiveness(false)
			}
			if eff.startLiveness && ticker == nil {
				ticker = time.NewTicker(s.cfg.LivenessInterval)
				tick = ticker.C
				fails = 0
				s.setLiveness(true)
			}
			if fatal {
				s.fatal(client, eff.fatalReason)
				return
			}

		case <-tick:
			if s.livenessCheck(ctx, client) {
				fails = 0
				continue
			}
			fails++
			s.log.Warn().Int("consecutive_failures", fails).Msg("Liveness check failed")
			if fails >= s.cfg.LivenessFailThreshold {
				ticker.Stop()
				ticker, tick = nil, nil
				s.setLiveness(false)
				s.setStatus(StatusFaulted)
				s.fatal(client, "liveness verification failed")
				return
			}
		}
	}
}

// handleEvent runs one event through the transition function and applies
// its effects. The returned bool is true when the process must exit.
func (s *Supervisor) handleEvent(ctx context.Context, client NetworkClient, ev Event) (effects, bool) {
	s.mu.RLock()
	cur := s.status
	s.mu.RUnlock()

	if pe, isProgress := ev.(LoadingProgressEvent); isProgress {
		s.recordProgress(pe.Percent)
		s.log.Debug().Int("percent", pe.Percent).Str("stage", pe.Stage).Msg("Loading progress")
		return effects{}, false
	}

	next, eff, ok := transition(cur, ev)
	if !ok {
		s.log.Warn().
			Str("event", ev.eventName()).
			Str("status", string(cur)).
			Msg("Dropping event with no transition from current state")
		return effects{}, false
	}

	if _, isReady := ev.(ReadyEvent); isReady && s.cfg.ReadinessProbe {
		if !s.confirmReadiness(ctx, client) {
			s.log.Error().Msg("Readiness confirmation probe failed after ready signal")
			next = StatusFaulted
			eff = effects{
				stopLiveness:  true,
				clearArtifact: true,
				fatal:         true,
				fatalReason:   "readiness confirmation failed",
			}
		}
	}

	s.mu.Lock()
	if s.stopRequested {
		// A stop already decided the terminal state; an event that was in
		// flight when the stop channel closed must not overwrite it.
		s.mu.Unlock()
		return effects{}, false
	}
	if eff.hasArtifact {
		s.artifact = eff.setArtifact
	}
	if eff.clearArtifact {
		s.artifact = ""
	}
	if next != s.status {
		s.status = next
		s.lastTransition = time.Now()
	}
	s.mu.Unlock()

	s.log.Info().
		Str("event", ev.eventName()).
		Str("from", string(cur)).
		Str("to", string(next)).
		Msg("Connection state transition")

	if eff.persistCredential != nil {
		s.persistCredential(ctx, eff.persistCredential)
	}

	return eff, eff.fatal && !s.isManual()
}

// confirmReadiness verifies the client actually reports a connected state
// after its ready signal. Bounded; it can reject readiness but never grant
// it on its own.
func (s *Supervisor) confirmReadiness(ctx context.Context, client NetworkClient) bool {
	for attempt := 1; attempt <= readinessProbeAttempts; attempt++ {
		if s.livenessCheck(ctx, client) {
			return true
		}
		s.log.Warn().Int("attempt", attempt).Msg("Readiness probe reported not connected")
		if attempt < readinessProbeAttempts {
			time.Sleep(readinessProbeDelay)
		}
	}
	return false
}

func (s *Supervisor) livenessCheck(ctx context.Context, client NetworkClient) bool {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()
	state, err := client.State(cctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Client state query failed")
		return false
	}
	if state != ClientStateConnected {
		s.log.Warn().Str("state", state).Msg("Client reports unexpected state")
		return false
	}
	return true
}

func (s *Supervisor) persistCredential(ctx context.Context, payload []byte) {
	if err := s.store.Save(ctx, s.cfg.ClientID, payload); err != nil {
		s.log.Error().Err(err).Msg("Failed to persist credential")
		if s.fallback != nil {
			if err := s.fallback.Save(ctx, s.cfg.ClientID, payload); err != nil {
				s.log.Error().Err(err).Msg("Fallback credential save failed")
			} else {
				s.log.Info().Msg("Credential retained in local fallback store")
			}
		}
		return
	}
	s.log.Info().Int("payload_bytes", len(payload)).Msg("Credential persisted")
}

// fatal tears the client down with a bounded timeout and terminates the
// process. Recovery is the external process supervisor's job.
func (s *Supervisor) fatal(client NetworkClient, reason string) {
	s.log.Error().Str("reason", reason).Msg("Fatal connection fault, exiting for external restart")
	s.destroyClient(client)
	s.exitOnce.Do(func() { s.exit(1) })
}

// destroyClient destroys a handle without letting teardown block exit.
func (s *Supervisor) destroyClient(client NetworkClient) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TeardownTimeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		if err := client.Destroy(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Client teardown reported an error")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("Client teardown timed out")
	}
}

// Stop performs a manual shutdown: the client is destroyed and the event
// loop ends without triggering the fatal-exit path.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		return
	}
	s.stopRequested = true
	s.manual = true
	client := s.client
	s.client = nil
	stop := s.stopChan
	s.mu.Unlock()

	s.log.Info().Msg("Manual stop requested")
	if stop != nil {
		close(stop)
	}
	if client != nil {
		s.destroyClient(client)
	}

	s.mu.Lock()
	s.artifact = ""
	s.livenessOn = false
	if s.status != StatusDisconnected {
		s.status = StatusDisconnected
		s.lastTransition = time.Now()
	}
	s.mu.Unlock()
}

// Restart deliberately triggers the fatal-exit path. The external process
// supervisor is expected to bring the gateway back up with a clean slate.
func (s *Supervisor) Restart() {
	s.log.Warn().Msg("Operator restart requested, exiting for external restart")
	go func() {
		s.mu.Lock()
		client := s.client
		s.client = nil
		stop := s.stopChan
		alreadyStopping := s.stopRequested
		s.stopRequested = true
		if s.status != StatusFaulted {
			s.status = StatusFaulted
			s.lastTransition = time.Now()
		}
		s.mu.Unlock()

		if !alreadyStopping && stop != nil {
			close(stop)
		}
		if client != nil {
			s.destroyClient(client)
		}
		s.exitOnce.Do(func() { s.exit(1) })
	}()
}

// Send delivers a message through the owned client. Fails fast with
// ErrNotReady unless the connection is ready.
func (s *Supervisor) Send(ctx context.Context, recipient, body string) (*SendResult, error) {
	s.mu.RLock()
	status := s.status
	client := s.client
	s.mu.RUnlock()

	if status != StatusReady || client == nil {
		return nil, ErrNotReady
	}
	res, err := client.SendText(ctx, recipient, body)
	if err != nil {
		return nil, &SendError{Err: err}
	}
	return res, nil
}

// Snapshot returns a point-in-time copy of the connection state.
func (s *Supervisor) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusSnapshot{
		Status:           s.status,
		LoadProgress:     s.progress,
		ClientID:         s.cfg.ClientID,
		LastTransitionAt: s.lastTransition,
	}
}

// CredentialArtifact returns the rendered onboarding artifact. The bool is
// false outside StatusAwaitingCredential; that is an expected outcome.
func (s *Supervisor) CredentialArtifact() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusAwaitingCredential || s.artifact == "" {
		return "", false
	}
	return s.artifact, true
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == s.status {
		return
	}
	s.status = st
	s.lastTransition = time.Now()
	if st == StatusInitializing {
		s.progress = 0
	}
}

func (s *Supervisor) setLiveness(on bool) {
	s.mu.Lock()
	s.livenessOn = on
	s.mu.Unlock()
}

func (s *Supervisor) livenessActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.livenessOn
}

func (s *Supervisor) isManual() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manual
}

// recordProgress keeps the highest percentage seen for the current attempt.
func (s *Supervisor) recordProgress(pct int) {
	if pct < 0 || pct > 100 {
		return
	}
	s.mu.Lock()
	if pct > s.progress {
		s.progress = pct
	}
	s.mu.Unlock()
}
