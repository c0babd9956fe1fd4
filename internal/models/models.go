package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Role is the closed set of platform roles.
type Role int

const (
	RoleClient Role = iota
	RoleStudent
	RoleTrainer
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleAdmin:   "ADMIN",
	RoleTrainer: "FORMATEUR",
	RoleStudent: "ETUDIANT",
	RoleClient:  "CLIENT",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "CLIENT"
}

// ParseRole maps the wire name of a role to its value.
func ParseRole(s string) (Role, error) {
	for role, name := range roleNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return role, nil
		}
	}
	return RoleClient, errors.New("unknown role: " + s)
}

// CanPublishNotifications reports whether users of the role may create
// notifications for other users.
func (r Role) CanPublishNotifications() bool {
	switch r {
	case RoleAdmin, RoleTrainer:
		return true
	case RoleStudent, RoleClient:
		return false
	}
	return false
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	role, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// User represents an authenticated platform user.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// Message represents a chat message.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	HTML       string    `json:"html,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Pending reports whether the message is a local echo still waiting for the
// server copy.
func (m Message) Pending() bool {
	return m.ID == ""
}

// PresenceEntry is one online peer.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// TypingSignal is the payload of typing:user-started and typing:user-stopped.
type TypingSignal struct {
	UserID string `json:"userId"`
}

// SendMessage is the payload of message:send.
type SendMessage struct {
	Content string `json:"content"`
}

type NotificationType string

const (
	NotificationFormation NotificationType = "formation"
	NotificationDevis     NotificationType = "devis"
	NotificationChantier  NotificationType = "chantier"
	NotificationMessage   NotificationType = "message"
	NotificationSystem    NotificationType = "system"
)

// ParseNotificationType accepts both the current lower-case names and the
// legacy upper-case ones. Anything else is a system notification.
func ParseNotificationType(s string) NotificationType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "formation":
		return NotificationFormation
	case "devis":
		return NotificationDevis
	case "chantier":
		return NotificationChantier
	case "message":
		return NotificationMessage
	default:
		return NotificationSystem
	}
}

func (t *NotificationType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseNotificationType(s)
	return nil
}

// Notification is a server-originated event shown in the bell.
type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"titre"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Link      string           `json:"link,omitempty"`
	IsRead    bool             `json:"isRead"`
	CreatedAt time.Time        `json:"createdAt"`
}

// UnreadCount is the body of GET /notifications/unread-count.
type UnreadCount struct {
	Count int `json:"count"`
}

// PushSubscription is the JSON form of a browser PushSubscription.
type PushSubscription struct {
	Endpoint string   `json:"endpoint"`
	Keys     PushKeys `json:"keys"`
}

type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Event names of the /chat namespace.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"

	EventMessageReceive      = "message:receive"
	EventUsersOnlineList     = "users:online-list"
	EventTypingUserStarted   = "typing:user-started"
	EventTypingUserStopped   = "typing:user-stopped"
	EventNotificationReceive = "notification:receive"

	EventMessageSend = "message:send"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

// Frame is the envelope of every websocket frame in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes payload into a frame for event.
func NewFrame(event string, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer credential used by the realtime
// connection.
type LoginResponse struct {
	Token       string `json:"token"`
	TokenExpiry int64  `json:"tokenExpiry"`
	User        User   `json:"user"`
}

// CreateNotificationRequest is the body of POST /notifications.
type CreateNotificationRequest struct {
	UserID  string           `json:"userId"`
	Title   string           `json:"titre"`
	Message string           `json:"message"`
	Type    NotificationType `json:"type"`
	Link    string           `json:"link,omitempty"`
}
