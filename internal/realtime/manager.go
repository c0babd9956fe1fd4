// Package realtime is the client side of the /chat namespace: one managed
// connection per session and the presence, typing, message and notification
// components listening on it.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"btplive/internal/models"
	"btplive/internal/retry"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Status is a snapshot of the connection lifecycle. Err is set when the
// manager gave up (auth rejection or exhausted retries) and, while
// reconnecting, holds the last transport error.
type Status struct {
	State   State
	Attempt int
	Err     error
}

// Handler receives the raw payload of an event.
type Handler func(data json.RawMessage)

type Config struct {
	URL       string
	Dialer    Dialer
	Reconnect retry.Config
	Logger    *slog.Logger
}

type handlerEntry struct {
	id int
	fn Handler
}

type stateEntry struct {
	id int
	fn func(Status)
}

// Manager owns the single persistent connection of a session. Only the
// manager mutates the connection lifecycle; other components subscribe to
// events and state changes.
type Manager struct {
	url       string
	dialer    Dialer
	reconnect retry.Config
	logger    *slog.Logger

	mu         sync.Mutex
	status     Status
	conn       Conn
	credential string
	gen        uint64
	cancel     context.CancelFunc

	writeMu sync.Mutex

	hmu           sync.RWMutex
	nextID        int
	handlers      map[string][]handlerEntry
	stateHandlers []stateEntry
}

func NewManager(config Config) *Manager {
	if config.Dialer == nil {
		config.Dialer = NewWebsocketDialer()
	}
	if config.Reconnect.MaxAttempts == 0 {
		config.Reconnect = retry.Reconnect()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Manager{
		url:       config.URL,
		dialer:    config.Dialer,
		reconnect: config.Reconnect,
		logger:    config.Logger,
		handlers:  make(map[string][]handlerEntry),
	}
}

// Connect opens the connection with the given credential. It is a no-op
// when the manager is not disconnected.
//
// Connect waits for the first handshake. On auth rejection the manager
// stays disconnected and ErrUnauthorized is returned. On a transport failure
// the error is returned and the manager keeps reconnecting in the background.
// If ctx ends before the handshake completes the manager is left
// disconnected with ctx's error.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.status.State != StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.credential = credential
	m.status = Status{State: StateConnecting}
	m.mu.Unlock()
	m.notifyState(Status{State: StateConnecting})

	dialCtx, cancelDial := context.WithCancel(ctx)
	stop := context.AfterFunc(runCtx, cancelDial)
	conn, err := m.dialer.Dial(dialCtx, m.url, credential)
	stop()
	cancelDial()

	if err != nil {
		if runCtx.Err() != nil {
			return runCtx.Err()
		}
		if ctx.Err() != nil {
			m.fail(gen, ctx.Err())
			return ctx.Err()
		}
		m.raise(models.EventConnectError, errorPayload(err))
		if errors.Is(err, ErrUnauthorized) {
			m.fail(gen, err)
			return err
		}
		m.logger.Warn("realtime connect failed, retrying", "url", m.url, "error", err)
		go m.run(runCtx, gen, nil, err)
		return err
	}

	if !m.attach(gen, conn) {
		_ = conn.Close()
		return context.Canceled
	}
	go m.run(runCtx, gen, conn, nil)
	return nil
}

// Disconnect tears down the connection and stops any reconnection. It is
// idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel == nil && m.status.State == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	cancel := m.cancel
	m.cancel = nil
	conn := m.conn
	m.conn = nil
	m.status = Status{State: StateDisconnected}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.notifyState(Status{State: StateDisconnected})
	if conn != nil {
		m.raise(models.EventDisconnect, nil)
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) State() State {
	return m.Status().State
}

func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Emit sends an event to the server. It returns ErrNotConnected when there
// is no live connection.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	live := m.status.State == StateConnected
	m.mu.Unlock()

	if conn == nil || !live {
		return ErrNotConnected
	}

	frame, err := models.NewFrame(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// On registers a handler for an event and returns a function removing it.
// Handlers run sequentially on the connection's read goroutine.
func (m *Manager) On(event string, fn Handler) func() {
	m.hmu.Lock()
	defer m.hmu.Unlock()

	m.nextID++
	id := m.nextID
	m.handlers[event] = append(m.handlers[event], handlerEntry{id: id, fn: fn})

	return func() {
		m.hmu.Lock()
		defer m.hmu.Unlock()
		entries := m.handlers[event]
		for i, e := range entries {
			if e.id == id {
				m.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// OnStateChange registers a listener for lifecycle transitions.
func (m *Manager) OnStateChange(fn func(Status)) func() {
	m.hmu.Lock()
	defer m.hmu.Unlock()

	m.nextID++
	id := m.nextID
	m.stateHandlers = append(m.stateHandlers, stateEntry{id: id, fn: fn})

	return func() {
		m.hmu.Lock()
		defer m.hmu.Unlock()
		for i, e := range m.stateHandlers {
			if e.id == id {
				m.stateHandlers = append(m.stateHandlers[:i:i], m.stateHandlers[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) run(ctx context.Context, gen uint64, conn Conn, lastErr error) {
	for {
		if conn != nil {
			err := m.readLoop(conn)
			m.detach(gen, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("realtime connection lost", "url", m.url, "error", err)
			m.raise(models.EventDisconnect, nil)
			lastErr = err
		}

		conn = m.reconnectLoop(ctx, gen, lastErr)
		if conn == nil {
			return
		}
	}
}

func (m *Manager) readLoop(conn Conn) error {
	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Event == "" {
			continue
		}
		m.raise(frame.Event, frame.Data)
	}
}

func (m *Manager) reconnectLoop(ctx context.Context, gen uint64, lastErr error) Conn {
	if !m.setStatus(gen, Status{State: StateReconnecting, Err: lastErr}) {
		return nil
	}

	var conn Conn
	result := retry.Do(ctx, m.reconnect, func(attempt int) error {
		if !m.setStatus(gen, Status{State: StateReconnecting, Attempt: attempt, Err: lastErr}) {
			return retry.Permanent(context.Canceled)
		}
		c, err := m.dialer.Dial(ctx, m.url, m.currentCredential())
		if err != nil {
			lastErr = err
			m.raise(models.EventConnectError, errorPayload(err))
			if errors.Is(err, ErrUnauthorized) {
				return retry.Permanent(err)
			}
			m.logger.Debug("realtime reconnect attempt failed", "attempt", attempt, "error", err)
			return err
		}
		conn = c
		return nil
	})

	if result.Err == nil {
		if m.attach(gen, conn) {
			m.logger.Info("realtime reconnected", "url", m.url, "attempts", result.Attempts)
			return conn
		}
		_ = conn.Close()
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	terminal := lastErr
	if !errors.Is(lastErr, ErrUnauthorized) {
		terminal = fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, result.Attempts, lastErr)
	}
	m.logger.Error("realtime connection given up", "url", m.url, "error", terminal)
	m.fail(gen, terminal)
	return nil
}

func (m *Manager) currentCredential() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential
}

// attach installs a freshly dialed connection if gen is still current.
func (m *Manager) attach(gen uint64, conn Conn) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.status = Status{State: StateConnected}
	m.mu.Unlock()

	m.notifyState(Status{State: StateConnected})
	m.raise(models.EventConnect, nil)
	return true
}

func (m *Manager) detach(gen uint64, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.gen && m.conn == conn {
		m.conn = nil
	}
}

// fail leaves the manager disconnected with err.
func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.cancel = nil
	m.conn = nil
	m.status = Status{State: StateDisconnected, Err: err}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.notifyState(Status{State: StateDisconnected, Err: err})
}

func (m *Manager) setStatus(gen uint64, status Status) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	m.status = status
	m.mu.Unlock()

	m.notifyState(status)
	return true
}

func (m *Manager) notifyState(status Status) {
	m.hmu.RLock()
	handlers := make([]stateEntry, len(m.stateHandlers))
	copy(handlers, m.stateHandlers)
	m.hmu.RUnlock()

	for _, h := range handlers {
		h.fn(status)
	}
}

func (m *Manager) raise(event string, data json.RawMessage) {
	m.hmu.RLock()
	entries := m.handlers[event]
	handlers := make([]handlerEntry, len(entries))
	copy(handlers, entries)
	m.hmu.RUnlock()

	for _, h := range handlers {
		h.fn(data)
	}
}

func errorPayload(err error) json.RawMessage {
	data, _ := json.Marshal(err.Error())
	return data
}
