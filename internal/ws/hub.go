package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c-pro/geche"
	"github.com/google/uuid"

	"btplive/internal/chat"
	"btplive/internal/content"
	"btplive/internal/metrics"
	"btplive/internal/models"
	"btplive/internal/storage"
)

const sendBufferSize = 100

// MessageStore persists the room history.
type MessageStore interface {
	AppendMessage(seq int64, msg models.Message) error
	LastMessages(limit int) ([]storage.StoredMessage, error)
}

type HubConfig struct {
	HistorySize int
	Store       MessageStore
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Hub tracks the open sockets of every user and routes frames between them.
// A user may hold several sockets at once; they are online while at least
// one is open.
type Hub struct {
	room    *chat.Room
	store   MessageStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// userID -> display name of users that joined at least once
	names *geche.MapCache[string, string]

	// serializes membership changes and the roster broadcasts they cause
	presenceMu sync.Mutex

	// userID -> connID -> outbound frames
	connectedUsers map[string]map[string]chan models.Frame
	mu             sync.RWMutex
}

func NewHub(config HubConfig) (*Hub, error) {
	if config.Metrics == nil {
		config.Metrics = metrics.Discard()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	h := &Hub{
		store:          config.Store,
		metrics:        config.Metrics,
		logger:         config.Logger,
		now:            config.Now,
		names:          geche.NewMapCache[string, string](),
		connectedUsers: make(map[string]map[string]chan models.Frame),
	}
	h.room = chat.New(chat.Config{
		ID:             "general",
		MaxRecords:     config.HistorySize,
		RecordCallback: h.handleRecordCallback,
	})

	if h.store != nil {
		stored, err := h.store.LastMessages(h.room.MaxRecords)
		if err != nil {
			return nil, fmt.Errorf("failed to load chat history: %w", err)
		}
		records := make([]chat.Record, 0, len(stored))
		for _, m := range stored {
			records = append(records, chat.Record{
				Seq:       chat.Seq(m.Seq),
				ID:        m.ID,
				Timestamp: m.Timestamp,
				UserID:    m.SenderID,
				UserName:  m.SenderName,
				Content:   m.Content,
				HTML:      m.HTML,
			})
		}
		h.room.Restore(records)
	}

	return h, nil
}

// Join registers a new socket for user and returns its id and the channel
// of frames to write to it. The first socket of a user brings them online.
func (h *Hub) Join(user models.User) (string, chan models.Frame) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	connID := uuid.NewString()
	ch := make(chan models.Frame, sendBufferSize)
	h.names.Set(user.ID, user.DisplayName)

	h.mu.Lock()
	sockets, ok := h.connectedUsers[user.ID]
	if !ok {
		sockets = make(map[string]chan models.Frame)
		h.connectedUsers[user.ID] = sockets
	}
	sockets[connID] = ch
	first := len(sockets) == 1
	h.mu.Unlock()

	h.metrics.ConnectedSockets.Inc()
	if first {
		h.room.Join(user.ID)
		h.metrics.OnlineUsers.Inc()
		h.logger.Info("user online", "user_id", user.ID)
	}

	// Every join gets a roster, so a second tab of an online user is
	// initialised too.
	h.broadcastRoster()
	return connID, ch
}

// Leave closes the socket channel. When the last socket of the user is
// gone, they go offline and everyone gets the new roster.
func (h *Hub) Leave(userID, connID string) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	h.mu.Lock()
	sockets, ok := h.connectedUsers[userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	ch, ok := sockets[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	close(ch)
	delete(sockets, connID)
	last := len(sockets) == 0
	if last {
		delete(h.connectedUsers, userID)
	}
	h.mu.Unlock()

	h.metrics.ConnectedSockets.Dec()
	if !last {
		return
	}

	h.room.Leave(userID)
	h.metrics.OnlineUsers.Dec()
	h.logger.Info("user offline", "user_id", userID)
	h.broadcastRoster()
}

// Dispatch handles a frame received from one of user's sockets.
func (h *Hub) Dispatch(user models.User, frame models.Frame) {
	switch frame.Event {
	case models.EventMessageSend:
		h.relayMessage(user, frame.Data)
	case models.EventTypingStart:
		h.relayTyping(user.ID, models.EventTypingUserStarted, "start")
	case models.EventTypingStop:
		h.relayTyping(user.ID, models.EventTypingUserStopped, "stop")
	default:
		h.logger.Debug("ignoring unknown event", "user_id", user.ID, "event", frame.Event)
	}
}

func (h *Hub) relayMessage(user models.User, data json.RawMessage) {
	var req models.SendMessage
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Warn("invalid message payload", "user_id", user.ID, "error", err)
		return
	}

	text, err := content.NormalizeMessage(req.Content)
	if err != nil {
		h.logger.Debug("message rejected", "user_id", user.ID, "error", err)
		return
	}

	html, err := content.RenderMarkdown(text)
	if err != nil {
		h.logger.Warn("failed to render message", "user_id", user.ID, "error", err)
		html = ""
	}

	record := h.room.AddRecord(chat.Record{
		ID:        uuid.NewString(),
		Timestamp: h.now().UTC(),
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Content:   text,
		HTML:      html,
	})
	h.metrics.MessagesRelayed.Inc()

	if h.store != nil {
		if err := h.store.AppendMessage(int64(record.Seq), record.Message()); err != nil {
			h.logger.Error("failed to persist message", "message_id", record.ID, "error", err)
		}
	}
}

func (h *Hub) relayTyping(senderID, event, kind string) {
	frame, err := models.NewFrame(event, models.TypingSignal{UserID: senderID})
	if err != nil {
		h.logger.Error("failed to encode typing signal", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for userID, sockets := range h.connectedUsers {
		if userID == senderID {
			continue
		}
		for _, ch := range sockets {
			h.send(ch, frame)
		}
	}
	h.metrics.TypingSignals.WithLabelValues(kind).Inc()
}

// Notify delivers a notification to every open socket of userID. It reports
// false when the user has none.
func (h *Hub) Notify(userID string, n models.Notification) bool {
	frame, err := models.NewFrame(models.EventNotificationReceive, n)
	if err != nil {
		h.logger.Error("failed to encode notification", "error", err)
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := false
	for _, ch := range h.connectedUsers[userID] {
		if h.send(ch, frame) {
			delivered = true
		}
	}
	return delivered
}

// Online reports whether userID has at least one open socket.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connectedUsers[userID]) > 0
}

// OnlineUsers returns the current roster sorted by display name.
func (h *Hub) OnlineUsers() []models.PresenceEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rosterLocked()
}

// History returns up to limit most recent room messages, oldest first.
func (h *Hub) History(limit int) []models.Message {
	records := h.room.GetLastRecords(limit)
	result := make([]models.Message, 0, len(records))
	for _, r := range records {
		result = append(result, r.Message())
	}
	return result
}

func (h *Hub) rosterLocked() []models.PresenceEntry {
	roster := make([]models.PresenceEntry, 0, len(h.connectedUsers))
	for userID := range h.connectedUsers {
		name, err := h.names.Get(userID)
		if err != nil {
			name = userID
		}
		roster = append(roster, models.PresenceEntry{UserID: userID, UserName: name})
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].UserName == roster[j].UserName {
			return roster[i].UserID < roster[j].UserID
		}
		return roster[i].UserName < roster[j].UserName
	})
	return roster
}

func (h *Hub) broadcastRoster() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	frame, err := models.NewFrame(models.EventUsersOnlineList, h.rosterLocked())
	if err != nil {
		h.logger.Error("failed to encode roster", "error", err)
		return
	}
	for _, sockets := range h.connectedUsers {
		for _, ch := range sockets {
			h.send(ch, frame)
		}
	}
}

// handleRecordCallback runs under the room lock for each online member.
func (h *Hub) handleRecordCallback(receiverID string, record chat.Record) {
	frame, err := models.NewFrame(models.EventMessageReceive, record.Message())
	if err != nil {
		h.logger.Error("failed to encode message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.connectedUsers[receiverID] {
		h.send(ch, frame)
	}
}

// send never blocks: a socket that cannot keep up loses the frame.
func (h *Hub) send(ch chan models.Frame, frame models.Frame) bool {
	select {
	case ch <- frame:
		return true
	default:
		h.metrics.DroppedFrames.Inc()
		h.logger.Warn("dropping frame for slow socket", "event", frame.Event)
		return false
	}
}
