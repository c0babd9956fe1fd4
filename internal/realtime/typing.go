package realtime

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"btplive/internal/models"
)

// DefaultTypingTimeout is both the remote auto-expiry and the local
// inactivity debounce.
const DefaultTypingTimeout = 2 * time.Second

type emitter interface {
	Emit(event string, payload any) error
}

type typingPeer struct {
	timer *time.Timer
	seq   uint64
}

// TypingIndicator derives the per-peer typing flag from remote start/stop
// signals. A peer stops typing on an explicit stop or after the timeout
// without a new start, which covers peers that vanished mid-sentence.
type TypingIndicator struct {
	mu        sync.Mutex
	selfID    string
	timeout   time.Duration
	peers     map[string]*typingPeer
	nextSeq   uint64
	listeners []func([]string)
	logger    *slog.Logger
}

func NewTypingIndicator(selfID string, timeout time.Duration, logger *slog.Logger) *TypingIndicator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TypingIndicator{
		selfID:  selfID,
		timeout: timeout,
		peers:   make(map[string]*typingPeer),
		logger:  logger,
	}
}

func (t *TypingIndicator) Attach(m *Manager) {
	m.On(models.EventTypingUserStarted, func(data json.RawMessage) {
		var sig models.TypingSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			t.logger.Warn("invalid typing payload", "error", err)
			return
		}
		t.Start(sig.UserID)
	})
	m.On(models.EventTypingUserStopped, func(data json.RawMessage) {
		var sig models.TypingSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			t.logger.Warn("invalid typing payload", "error", err)
			return
		}
		t.Stop(sig.UserID)
	})
	m.On(models.EventConnect, func(json.RawMessage) { t.Reset() })
	m.On(models.EventDisconnect, func(json.RawMessage) { t.Reset() })
}

// Start marks the peer as typing and (re)arms its expiry timer.
func (t *TypingIndicator) Start(userID string) {
	if userID == "" || userID == t.selfID {
		return
	}

	t.mu.Lock()
	p, existed := t.peers[userID]
	if existed {
		p.timer.Stop()
	} else {
		p = &typingPeer{}
		t.peers[userID] = p
	}
	t.nextSeq++
	seq := t.nextSeq
	p.seq = seq
	p.timer = time.AfterFunc(t.timeout, func() { t.expire(userID, seq) })
	users, listeners := t.usersLocked(), t.listeners
	t.mu.Unlock()

	if !existed {
		notifyTyping(listeners, users)
	}
}

// Stop clears the peer's typing flag. Stopping a peer that is not typing is
// a no-op.
func (t *TypingIndicator) Stop(userID string) {
	t.mu.Lock()
	p, ok := t.peers[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(t.peers, userID)
	users, listeners := t.usersLocked(), t.listeners
	t.mu.Unlock()

	notifyTyping(listeners, users)
}

func (t *TypingIndicator) expire(userID string, seq uint64) {
	t.mu.Lock()
	p, ok := t.peers[userID]
	if !ok || p.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.peers, userID)
	users, listeners := t.usersLocked(), t.listeners
	t.mu.Unlock()

	notifyTyping(listeners, users)
}

// Reset forgets every peer, e.g. when the connection state becomes stale.
func (t *TypingIndicator) Reset() {
	t.mu.Lock()
	if len(t.peers) == 0 {
		t.mu.Unlock()
		return
	}
	for _, p := range t.peers {
		p.timer.Stop()
	}
	t.peers = make(map[string]*typingPeer)
	listeners := t.listeners
	t.mu.Unlock()

	notifyTyping(listeners, nil)
}

func (t *TypingIndicator) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.peers[userID]
	return ok
}

// TypingUsers returns the ids of typing peers, sorted.
func (t *TypingIndicator) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usersLocked()
}

func (t *TypingIndicator) OnChange(fn func([]string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *TypingIndicator) usersLocked() []string {
	users := make([]string, 0, len(t.peers))
	for id := range t.peers {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

func notifyTyping(listeners []func([]string), users []string) {
	for _, fn := range listeners {
		fn(users)
	}
}

// TypingEmitter produces the local user's typing signals: one start per
// burst of input and a stop after the debounce elapses without input.
type TypingEmitter struct {
	mu       sync.Mutex
	out      emitter
	debounce time.Duration
	active   bool
	timer    *time.Timer
	seq      uint64
}

func NewTypingEmitter(out emitter, debounce time.Duration) *TypingEmitter {
	if debounce <= 0 {
		debounce = DefaultTypingTimeout
	}
	return &TypingEmitter{out: out, debounce: debounce}
}

// Attach drops the burst state when the connection goes away; the server
// forgets typing state together with the socket.
func (e *TypingEmitter) Attach(m *Manager) {
	m.On(models.EventDisconnect, func(json.RawMessage) { e.Reset() })
}

// Keystroke records local input.
func (e *TypingEmitter) Keystroke() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active {
		if err := e.out.Emit(models.EventTypingStart, struct{}{}); err != nil {
			return
		}
		e.active = true
	}

	e.seq++
	seq := e.seq
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() { e.expire(seq) })
}

// Stop ends the current burst immediately.
func (e *TypingEmitter) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked(true)
}

// Reset ends the current burst without telling the server.
func (e *TypingEmitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked(false)
}

func (e *TypingEmitter) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *TypingEmitter) expire(seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if seq != e.seq {
		return
	}
	e.stopLocked(true)
}

func (e *TypingEmitter) stopLocked(signal bool) {
	e.seq++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if !e.active {
		return
	}
	e.active = false
	if signal {
		_ = e.out.Emit(models.EventTypingStop, struct{}{})
	}
}
