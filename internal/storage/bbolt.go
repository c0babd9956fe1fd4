package storage

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"btplive/internal/auth"
	"btplive/internal/models"
)

var (
	bucketUsers         = []byte("users")
	bucketNotifications = []byte("notifications")
	bucketSubscriptions = []byte("subscriptions")
	bucketMessages      = []byte("messages")
)

type BboltStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketNotifications, bucketSubscriptions, bucketMessages} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db, now: time.Now}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:           credentials.ID,
			Email:        credentials.Email,
			DisplayName:  credentials.DisplayName,
			Role:         int(credentials.Role),
			PasswordHash: credentials.PasswordHash,
		}

		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:          dbUser.ID,
					Email:       dbUser.Email,
					DisplayName: dbUser.DisplayName,
					Role:        models.Role(dbUser.Role),
				},
				PasswordHash: dbUser.PasswordHash,
			})
			return nil
		})
	})
	return credentials, err
}

// CreateNotification stores a notification for userID. The id and the
// creation time are assigned here when missing.
func (s *BboltStorage) CreateNotification(userID string, n models.Notification) (models.Notification, error) {
	if userID == "" {
		return models.Notification{}, fmt.Errorf("notification missing userID")
	}
	if n.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return models.Notification{}, fmt.Errorf("failed to generate notification id: %w", err)
		}
		n.ID = id.String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if n.Type == "" {
		n.Type = models.NotificationSystem
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketNotifications).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("failed to create notification bucket: %w", err)
		}
		dbn := toDBNotification(n)
		data, err := dbn.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		return userBucket.Put(dbn.Key(), data)
	})
	if err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

// ListNotifications returns up to limit notifications of userID, newest
// first. A limit of zero or less returns all of them.
func (s *BboltStorage) ListNotifications(userID string, limit int) ([]models.Notification, error) {
	notifications := []models.Notification{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		c := userBucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dbn DBNotification
			if err := dbn.UnmarshalBinary(v); err != nil {
				return err
			}
			notifications = append(notifications, dbn.toModel())
			if limit > 0 && len(notifications) == limit {
				break
			}
		}
		return nil
	})
	return notifications, err
}

func (s *BboltStorage) UnreadCount(userID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbn DBNotification
			if err := dbn.UnmarshalBinary(v); err != nil {
				return err
			}
			if !dbn.IsRead {
				count++
			}
			return nil
		})
	})
	return count, err
}

// MarkRead marks one notification of userID as read. It returns
// models.ErrNotFound when the notification does not belong to the user.
func (s *BboltStorage) MarkRead(userID, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return models.ErrNotFound
		}
		data := userBucket.Get([]byte(id))
		if data == nil {
			return models.ErrNotFound
		}
		var dbn DBNotification
		if err := dbn.UnmarshalBinary(data); err != nil {
			return err
		}
		if dbn.IsRead {
			return nil
		}
		dbn.IsRead = true
		newData, err := dbn.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbn.Key(), newData)
	})
}

// MarkAllRead marks every notification of userID as read and returns how
// many changed.
func (s *BboltStorage) MarkAllRead(userID string) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketNotifications).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		updates := map[string][]byte{}
		err := userBucket.ForEach(func(k, v []byte) error {
			var dbn DBNotification
			if err := dbn.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbn.IsRead {
				return nil
			}
			dbn.IsRead = true
			data, err := dbn.MarshalBinary()
			if err != nil {
				return err
			}
			updates[string(k)] = data
			return nil
		})
		if err != nil {
			return err
		}
		// bbolt forbids mutating a bucket while iterating it.
		for k, data := range updates {
			if err := userBucket.Put([]byte(k), data); err != nil {
				return err
			}
		}
		changed = len(updates)
		return nil
	})
	return changed, err
}

func (s *BboltStorage) UpsertSubscription(userID string, sub models.PushSubscription) error {
	if sub.Endpoint == "" {
		return fmt.Errorf("subscription missing endpoint")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketSubscriptions).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("failed to create subscription bucket: %w", err)
		}
		dbs := &DBSubscription{
			Endpoint:  sub.Endpoint,
			P256dh:    sub.Keys.P256dh,
			Auth:      sub.Keys.Auth,
			CreatedAt: s.now().Unix(),
		}
		data, err := dbs.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbs.Key(), data)
	})
}

func (s *BboltStorage) ListSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketSubscriptions).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbs DBSubscription
			if err := dbs.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				Endpoint: dbs.Endpoint,
				Keys:     models.PushKeys{P256dh: dbs.P256dh, Auth: dbs.Auth},
			})
			return nil
		})
	})
	return subs, err
}

// DeleteSubscription removes an endpoint the push service reported as gone.
func (s *BboltStorage) DeleteSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketSubscriptions).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(endpoint))
	})
}

// AppendMessage persists a chat message under its room sequence number.
func (s *BboltStorage) AppendMessage(seq int64, msg models.Message) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbm := &DBMessage{
			Seq:       seq,
			ID:        msg.ID,
			Timestamp: msg.Timestamp.UnixMilli(),
			UserID:    msg.SenderID,
			UserName:  msg.SenderName,
			Content:   msg.Content,
			HTML:      msg.HTML,
		}
		data, err := dbm.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := tx.Bucket(bucketMessages).Put(dbm.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}
		return nil
	})
}

// ListMessages returns the messages with from <= seq <= to in order.
func (s *BboltStorage) ListMessages(from, to int64) ([]StoredMessage, error) {
	var messages []StoredMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		maxKey := seqKey(to)
		for k, v := c.Seek(seqKey(from)); k != nil && bytes.Compare(k, maxKey) <= 0; k, v = c.Next() {
			var dbm DBMessage
			if err := dbm.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbm.toStored())
		}
		return nil
	})
	return messages, err
}

// LastMessages returns up to limit most recent messages, oldest first.
func (s *BboltStorage) LastMessages(limit int) ([]StoredMessage, error) {
	var messages []StoredMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			var dbm DBMessage
			if err := dbm.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbm.toStored())
		}
		return nil
	})
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, err
}

// StoredMessage is a persisted chat message with its room sequence number.
type StoredMessage struct {
	Seq int64
	models.Message
}

func (m *DBMessage) toStored() StoredMessage {
	return StoredMessage{
		Seq: m.Seq,
		Message: models.Message{
			ID:         m.ID,
			SenderID:   m.UserID,
			SenderName: m.UserName,
			Content:    m.Content,
			HTML:       m.HTML,
			Timestamp:  time.UnixMilli(m.Timestamp).UTC(),
		},
	}
}

func toDBNotification(n models.Notification) *DBNotification {
	return &DBNotification{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		Link:      n.Link,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.UnixMilli(),
	}
}

func (n *DBNotification) toModel() models.Notification {
	return models.Notification{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      models.ParseNotificationType(n.Type),
		Link:      n.Link,
		IsRead:    n.IsRead,
		CreatedAt: time.UnixMilli(n.CreatedAt).UTC(),
	}
}
