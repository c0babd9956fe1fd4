package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"btplive/internal/auth"
	"btplive/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	store, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStorage(t *testing.T) {
	store := newTestStorage(t)

	t.Run("Credentials", func(t *testing.T) {
		creds := auth.UserCredentials{
			User: models.User{
				ID:          "user1",
				Email:       "alice@btp.fr",
				DisplayName: "Alice",
				Role:        models.RoleTrainer,
			},
			PasswordHash: "hash",
		}

		if err := store.UpsertCredentials(creds); err != nil {
			t.Fatalf("UpsertCredentials failed: %v", err)
		}

		listCreds, err := store.ListCredentials()
		if err != nil {
			t.Fatalf("ListCredentials failed: %v", err)
		}
		if len(listCreds) != 1 {
			t.Fatalf("expected 1 credential, got %d", len(listCreds))
		}
		if listCreds[0].Role != models.RoleTrainer {
			t.Errorf("expected role %s, got %s", models.RoleTrainer, listCreds[0].Role)
		}
		if listCreds[0].PasswordHash != "hash" {
			t.Errorf("expected password hash to round trip, got %s", listCreds[0].PasswordHash)
		}
	})

	t.Run("Notifications", func(t *testing.T) {
		first, err := store.CreateNotification("user1", models.Notification{
			Title:   "Bienvenue",
			Message: "Votre compte est prêt",
			Type:    models.NotificationSystem,
		})
		if err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}
		if first.ID == "" || first.CreatedAt.IsZero() {
			t.Fatalf("expected id and creation time to be assigned, got %+v", first)
		}

		second, err := store.CreateNotification("user1", models.Notification{
			Title: "Nouveau devis",
			Type:  models.NotificationDevis,
			Link:  "/devis/42",
		})
		if err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}

		if _, err := store.CreateNotification("user2", models.Notification{Title: "Autre"}); err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}

		list, err := store.ListNotifications("user1", 0)
		if err != nil {
			t.Fatalf("ListNotifications failed: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 notifications, got %d", len(list))
		}
		if list[0].ID != second.ID || list[1].ID != first.ID {
			t.Errorf("expected newest first, got %s, %s", list[0].ID, list[1].ID)
		}
		if list[0].Type != models.NotificationDevis || list[0].Link != "/devis/42" {
			t.Errorf("unexpected notification %+v", list[0])
		}

		limited, err := store.ListNotifications("user1", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(limited) != 1 || limited[0].ID != second.ID {
			t.Errorf("expected only the newest notification, got %+v", limited)
		}

		count, err := store.UnreadCount("user1")
		if err != nil || count != 2 {
			t.Fatalf("UnreadCount = %d, %v", count, err)
		}

		if err := store.MarkRead("user1", first.ID); err != nil {
			t.Fatalf("MarkRead failed: %v", err)
		}
		// marking twice is fine
		if err := store.MarkRead("user1", first.ID); err != nil {
			t.Fatalf("MarkRead again failed: %v", err)
		}
		count, _ = store.UnreadCount("user1")
		if count != 1 {
			t.Errorf("expected 1 unread, got %d", count)
		}

		if err := store.MarkRead("user2", first.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for a foreign notification, got %v", err)
		}
		if err := store.MarkRead("nobody", first.ID); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown user, got %v", err)
		}

		changed, err := store.MarkAllRead("user1")
		if err != nil || changed != 1 {
			t.Fatalf("MarkAllRead = %d, %v", changed, err)
		}
		count, _ = store.UnreadCount("user1")
		if count != 0 {
			t.Errorf("expected 0 unread, got %d", count)
		}
		count, _ = store.UnreadCount("user2")
		if count != 1 {
			t.Errorf("other users must be untouched, got %d unread", count)
		}
	})

	t.Run("EmptyUser", func(t *testing.T) {
		list, err := store.ListNotifications("ghost", 0)
		if err != nil || len(list) != 0 {
			t.Errorf("ListNotifications = %v, %v", list, err)
		}
		if list == nil {
			t.Error("expected an empty list rather than nil")
		}
		changed, err := store.MarkAllRead("ghost")
		if err != nil || changed != 0 {
			t.Errorf("MarkAllRead = %d, %v", changed, err)
		}
	})

	t.Run("Subscriptions", func(t *testing.T) {
		sub := models.PushSubscription{
			Endpoint: "https://push.example.com/abc",
			Keys:     models.PushKeys{P256dh: "key", Auth: "auth"},
		}
		if err := store.UpsertSubscription("user1", sub); err != nil {
			t.Fatalf("UpsertSubscription failed: %v", err)
		}
		if err := store.UpsertSubscription("user1", sub); err != nil {
			t.Fatalf("UpsertSubscription again failed: %v", err)
		}
		if err := store.UpsertSubscription("user1", models.PushSubscription{}); err == nil {
			t.Error("expected error for a subscription without endpoint")
		}

		subs, err := store.ListSubscriptions("user1")
		if err != nil {
			t.Fatalf("ListSubscriptions failed: %v", err)
		}
		if len(subs) != 1 || subs[0].Keys.Auth != "auth" {
			t.Fatalf("unexpected subscriptions %+v", subs)
		}

		if err := store.DeleteSubscription("user1", sub.Endpoint); err != nil {
			t.Fatalf("DeleteSubscription failed: %v", err)
		}
		subs, _ = store.ListSubscriptions("user1")
		if len(subs) != 0 {
			t.Errorf("expected subscription to be deleted, got %d", len(subs))
		}
	})

	t.Run("Messages", func(t *testing.T) {
		ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		for i := int64(1); i <= 5; i++ {
			err := store.AppendMessage(i, models.Message{
				ID:         "m" + string(rune('0'+i)),
				SenderID:   "user1",
				SenderName: "Alice",
				Content:    "message",
				Timestamp:  ts.Add(time.Duration(i) * time.Second),
			})
			if err != nil {
				t.Fatalf("AppendMessage %d failed: %v", i, err)
			}
		}

		msgs, err := store.ListMessages(2, 4)
		if err != nil {
			t.Fatalf("ListMessages failed: %v", err)
		}
		if len(msgs) != 3 || msgs[0].Seq != 2 || msgs[2].Seq != 4 {
			t.Errorf("unexpected range %+v", msgs)
		}

		last, err := store.LastMessages(2)
		if err != nil {
			t.Fatalf("LastMessages failed: %v", err)
		}
		if len(last) != 2 || last[0].Seq != 4 || last[1].Seq != 5 {
			t.Fatalf("expected seq 4 and 5 oldest first, got %+v", last)
		}
		if !last[1].Timestamp.Equal(ts.Add(5 * time.Second)) {
			t.Errorf("timestamp did not round trip: %v", last[1].Timestamp)
		}
		if last[1].SenderName != "Alice" {
			t.Errorf("expected sender name Alice, got %s", last[1].SenderName)
		}
	})
}

func TestStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	store, err := NewBboltStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	n, err := store.CreateNotification("user1", models.Notification{Title: "Persisté"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = NewBboltStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	list, err := store.ListNotifications("user1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != n.ID {
		t.Errorf("expected notification to survive reopen, got %+v", list)
	}
}
