package realtime

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"btplive/internal/models"
)

// DefaultEchoWindow bounds the clock distance between a local echo and the
// server copy it is correlated with.
const DefaultEchoWindow = 10 * time.Second

type MessagesConfig struct {
	SelfID   string
	SelfName string
	// LocalEcho shows outgoing messages before the server broadcasts them
	// back. The echo is replaced by the server copy.
	LocalEcho  bool
	EchoWindow time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
}

// Messages is the append-only chat log in arrival order.
type Messages struct {
	out    emitter
	typing *TypingEmitter

	selfID    string
	selfName  string
	localEcho bool
	window    time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu        sync.Mutex
	log       []models.Message
	draft     string
	listeners []func(models.Message)
}

// NewMessages builds the channel. typing may be nil.
func NewMessages(out emitter, typing *TypingEmitter, config MessagesConfig) *Messages {
	if config.EchoWindow <= 0 {
		config.EchoWindow = DefaultEchoWindow
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Messages{
		out:       out,
		typing:    typing,
		selfID:    config.SelfID,
		selfName:  config.SelfName,
		localEcho: config.LocalEcho,
		window:    config.EchoWindow,
		now:       config.Now,
		logger:    config.Logger,
	}
}

func (c *Messages) Attach(m *Manager) {
	m.On(models.EventMessageReceive, func(data json.RawMessage) {
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid message payload", "error", err)
			return
		}
		c.OnReceive(msg)
	})
}

// Send emits a chat message. Blank content or a missing connection make it
// a no-op returning false.
func (c *Messages) Send(content string) bool {
	// the server trims too, so the echo matches its copy
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}

	// The echo goes in before the emit so a fast server copy always finds it.
	var echo *models.Message
	if c.localEcho {
		echo = &models.Message{
			SenderID:   c.selfID,
			SenderName: c.selfName,
			Content:    content,
			Timestamp:  c.now(),
		}
		c.mu.Lock()
		c.log = append(c.log, *echo)
		c.mu.Unlock()
	}

	if err := c.out.Emit(models.EventMessageSend, models.SendMessage{Content: content}); err != nil {
		c.logger.Debug("message not sent", "error", err)
		if echo != nil {
			c.dropEcho(*echo)
		}
		return false
	}

	if c.typing != nil {
		c.typing.Stop()
	}
	if echo != nil {
		c.notify(*echo)
	}
	return true
}

// SetDraft updates the compose input and drives the typing emitter.
func (c *Messages) SetDraft(value string) {
	c.mu.Lock()
	c.draft = value
	c.mu.Unlock()

	if c.typing == nil {
		return
	}
	if strings.TrimSpace(value) == "" {
		c.typing.Stop()
		return
	}
	c.typing.Keystroke()
}

func (c *Messages) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Submit sends the current draft and clears it on success.
func (c *Messages) Submit() bool {
	draft := c.Draft()
	if !c.Send(draft) {
		return false
	}
	c.mu.Lock()
	if c.draft == draft {
		c.draft = ""
	}
	c.mu.Unlock()
	return true
}

// OnReceive appends a server message. A server copy of a pending local echo
// takes the echo's place instead of being appended.
func (c *Messages) OnReceive(msg models.Message) {
	c.mu.Lock()
	if c.localEcho && msg.SenderID == c.selfID {
		for i, existing := range c.log {
			if existing.Pending() && c.sameMessage(existing, msg) {
				c.log[i] = msg
				c.mu.Unlock()
				return
			}
		}
	}
	c.log = append(c.log, msg)
	c.mu.Unlock()

	c.notify(msg)
}

func (c *Messages) sameMessage(echo, msg models.Message) bool {
	if echo.SenderID != msg.SenderID || echo.Content != msg.Content {
		return false
	}
	d := msg.Timestamp.Sub(echo.Timestamp)
	if d < 0 {
		d = -d
	}
	return d <= c.window
}

func (c *Messages) dropEcho(echo models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.log) - 1; i >= 0; i-- {
		m := c.log[i]
		if m.Pending() && m.Content == echo.Content && m.Timestamp.Equal(echo.Timestamp) {
			c.log = append(c.log[:i], c.log[i+1:]...)
			return
		}
	}
}

// Messages returns the log in display order.
func (c *Messages) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Message, len(c.log))
	copy(out, c.log)
	return out
}

func (c *Messages) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.log)
}

// OnMessage registers a listener for appended entries, local echoes
// included. Replacing an echo by its server copy is not reported.
func (c *Messages) OnMessage(fn func(models.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Messages) notify(msg models.Message) {
	c.mu.Lock()
	listeners := c.listeners
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(msg)
	}
}
