// Copyright 2025-2026 Aiku AI
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/chatgate/pkg/credstore"
)

// fakeClient is a scripted NetworkClient. Tests drive the supervisor by
// emitting events and scripting State responses.
type fakeClient struct {
	mu        sync.Mutex
	events    chan Event
	closeOnce sync.Once

	started   bool
	destroyed bool

	// stateSeq is consumed one value per State call; once empty,
	// defaultState is returned.
	stateSeq     []string
	defaultState string
	stateErr     error

	sendCalls  []sendCall
	sendResult *SendResult
	sendErr    error
}

type sendCall struct {
	Recipient string
	Body      string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:       make(chan Event, 32),
		defaultState: ClientStateConnected,
		sendResult:   &SendResult{MessageID: "msg-1", Timestamp: time.UnixMilli(1700000000000)},
	}
}

func (f *fakeClient) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeClient) Events() <-chan Event {
	return f.events
}

func (f *fakeClient) emit(ev Event) {
	f.events <- ev
}

func (f *fakeClient) closeEvents() {
	f.closeOnce.Do(func() {
		close(f.events)
	})
}

func (f *fakeClient) SendText(_ context.Context, recipient, body string) (*SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, sendCall{Recipient: recipient, Body: body})
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResult, nil
}

func (f *fakeClient) SendCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sendCall, len(f.sendCalls))
	copy(cp, f.sendCalls)
	return cp
}

func (f *fakeClient) State(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return "", f.stateErr
	}
	if len(f.stateSeq) > 0 {
		next := f.stateSeq[0]
		f.stateSeq = f.stateSeq[1:]
		return next, nil
	}
	return f.defaultState, nil
}

func (f *fakeClient) Destroy(_ context.Context) error {
	f.mu.Lock()
	f.destroyed = true
	f.mu.Unlock()
	f.closeEvents()
	return nil
}

func (f *fakeClient) Destroyed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

// memStore is an in-memory credstore.Store with scriptable save failures.
type memStore struct {
	mu        sync.Mutex
	recs      map[string]*credstore.Record
	saveErr   error
	saveCalls int
}

var _ credstore.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*credstore.Record)}
}

func (m *memStore) Load(_ context.Context, clientID string) (*credstore.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[clientID]
	if !ok || !rec.Active {
		return nil, credstore.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) Save(_ context.Context, clientID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.recs[clientID] = &credstore.Record{
		ClientID:  clientID,
		Payload:   append([]byte(nil), payload...),
		UpdatedAt: time.Now(),
		Active:    true,
	}
	return nil
}

func (m *memStore) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[clientID]; ok {
		rec.Active = false
	}
	return nil
}

func (m *memStore) Sweep(_ context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, rec := range m.recs {
		if !rec.Active && rec.UpdatedAt.Before(cutoff) {
			delete(m.recs, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) List(_ context.Context) ([]credstore.RecordInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]credstore.RecordInfo, 0, len(m.recs))
	for _, rec := range m.recs {
		infos = append(infos, credstore.RecordInfo{
			ClientID:  rec.ClientID,
			UpdatedAt: rec.UpdatedAt,
			Active:    rec.Active,
			Size:      len(rec.Payload),
		})
	}
	return infos, nil
}

func (m *memStore) Close() error {
	return nil
}

func (m *memStore) SaveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCalls
}

func (m *memStore) Payload(clientID string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[clientID]; ok {
		return append([]byte(nil), rec.Payload...)
	}
	return nil
}

// exitRecorder replaces the supervisor's process-exit call in tests.
type exitRecorder struct {
	calls atomic.Int32
	code  atomic.Int32
}

func (e *exitRecorder) exit(code int) {
	e.calls.Add(1)
	e.code.Store(int32(code))
}

func (e *exitRecorder) Calls() int {
	return int(e.calls.Load())
}

// singleClientFactory always hands out the given fake.
func singleClientFactory(fake *fakeClient) ClientFactory {
	return func(_ string, _ []byte) (NetworkClient, error) {
		return fake, nil
	}
}

const testClientID = "gw-test"

// newTestSupervisor builds a supervisor with fast timings, a recorded exit
// function and a temp session directory.
func newTestSupervisor(t *testing.T, factory ClientFactory, store, fallback credstore.Store) (*Supervisor, *exitRecorder) {
	t.Helper()
	cfg := SupervisorConfig{
		ClientID:         testClientID,
		SessionPath:      t.TempDir(),
		LivenessInterval: 20 * time.Millisecond,
		ProbeTimeout:     100 * time.Millisecond,
		TeardownTimeout:  time.Second,
	}
	sup := NewSupervisor(cfg, factory, store, fallback, zerolog.Nop())
	rec := &exitRecorder{}
	sup.exit = rec.exit
	return sup, rec
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// startToReady drives a supervisor through the full onboarding flow.
func startToReady(t *testing.T, sup *Supervisor, fake *fakeClient) {
	t.Helper()
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fake.emit(AuthenticatedEvent{Credential: []byte("session-blob")})
	fake.emit(ReadyEvent{})
	waitFor(t, time.Second, func() bool {
		return sup.Snapshot().Status == StatusReady
	}, "supervisor did not reach ready")
}
