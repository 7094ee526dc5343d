package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ReadyStatus is a point-in-time view of the transport readiness.
type ReadyStatus struct {
	Ready         bool      `json:"ready"`
	Authenticated bool      `json:"authenticated"`
	IsReady       bool      `json:"is_ready"`
	HasQR         bool      `json:"has_qr"`
	LastChange    time.Time `json:"last_change"`
}

// ClientState tracks whether the transport can send and holds the latest
// pairing code. Transports update it from their event streams.
type ClientState struct {
	mu            sync.Mutex
	ready         bool
	authenticated bool
	readyCh       chan struct{}
	signalled     bool
	lastChange    time.Time

	qr         string
	qrCh       chan struct{}
	qrReleased bool
}

// NewClientState creates a not-ready state.
func NewClientState() *ClientState {
	return &ClientState{
		readyCh: make(chan struct{}),
		qrCh:    make(chan struct{}),
	}
}

// SetReady records the connection readiness flag.
func (s *ClientState) SetReady(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = v
	s.updateLocked()
}

// SetAuthenticated records the authentication flag.
func (s *ClientState) SetAuthenticated(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = v
	s.updateLocked()
}

// Reset marks the transport as neither ready nor authenticated and forgets the QR code.
func (s *ClientState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.authenticated = false
	s.updateLocked()
	s.clearQRLocked()
}

func (s *ClientState) updateLocked() {
	s.lastChange = time.Now()
	now := s.ready && s.authenticated
	switch {
	case now && !s.signalled:
		close(s.readyCh)
		s.signalled = true
		slog.Info("ClientState: transport ready")
	case !now && s.signalled:
		s.readyCh = make(chan struct{})
		s.signalled = false
		slog.Warn("ClientState: transport not ready", "ready", s.ready, "authenticated", s.authenticated)
	}
}

// IsReady reports whether the transport is both connected and authenticated.
func (s *ClientState) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && s.authenticated
}

// WaitForReady blocks until the transport is ready, the timeout elapses or ctx
// ends, and reports whether it is ready.
func (s *ClientState) WaitForReady(ctx context.Context, timeout time.Duration) bool {
	s.mu.Lock()
	if s.ready && s.authenticated {
		s.mu.Unlock()
		return true
	}
	ch := s.readyCh
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return s.IsReady()
	case <-ctx.Done():
		return false
	}
}

// Status returns the current readiness view.
func (s *ClientState) Status() ReadyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ReadyStatus{
		Ready:         s.ready,
		Authenticated: s.authenticated,
		IsReady:       s.ready && s.authenticated,
		HasQR:         s.qr != "",
		LastChange:    s.lastChange,
	}
}

// SetQR stores the latest pairing code and wakes any waiter.
func (s *ClientState) SetQR(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qr = code
	if code != "" && !s.qrReleased {
		close(s.qrCh)
		s.qrReleased = true
	}
}

// ClearQR forgets the pairing code, typically after a successful pairing.
func (s *ClientState) ClearQR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearQRLocked()
}

func (s *ClientState) clearQRLocked() {
	s.qr = ""
	if s.qrReleased {
		s.qrCh = make(chan struct{})
		s.qrReleased = false
	}
}

// QR returns the latest pairing code, if any.
func (s *ClientState) QR() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.qr
}

// WaitForQR waits for a pairing code to become available.
func (s *ClientState) WaitForQR(ctx context.Context, timeout time.Duration) (string, bool) {
	s.mu.Lock()
	if s.qr != "" {
		code := s.qr
		s.mu.Unlock()
		return code, true
	}
	ch := s.qrCh
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	case <-ctx.Done():
		return "", false
	}
	code := s.QR()
	return code, code != ""
}
