package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"btplive/internal/config"
	"btplive/internal/models"
)

// syncBuffer is written by the chat handlers and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func chatServer(t *testing.T, received chan<- string) http.Handler {
	upgrader := websocket.Upgrader{}
	roster := []models.PresenceEntry{
		{UserID: "u1", UserName: "Claire"},
		{UserID: "u2", UserName: "Marc"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /chat/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.Message{{
			ID: "m1", SenderID: "u2", SenderName: "Marc", Content: "Bienvenue sur le chantier",
			Timestamp: time.Now().Add(-time.Hour),
		}})
	})
	mux.HandleFunc("GET /notifications", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]models.Notification{})
	})
	mux.HandleFunc("GET /notifications/unread-count", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.UnreadCount{})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		frame, _ := models.NewFrame(models.EventUsersOnlineList, roster)
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
		for {
			var in models.Frame
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			if in.Event != models.EventMessageSend {
				continue
			}
			var req models.SendMessage
			if err := json.Unmarshal(in.Data, &req); err != nil {
				t.Errorf("message:send payload: %v", err)
				return
			}
			received <- req.Content
			out, _ := models.NewFrame(models.EventMessageReceive, models.Message{
				ID: "m2", SenderID: "u1", SenderName: "Claire", Content: req.Content, Timestamp: time.Now(),
			})
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	})
	return mux
}

func TestChat(t *testing.T) {
	received := make(chan string, 10)
	srv := httptest.NewServer(chatServer(t, received))
	defer srv.Close()

	profile := filepath.Join(t.TempDir(), "btpchat.yaml")
	p := &config.Profile{
		Server: srv.URL,
		Token:  "token-123",
		UserID: "u1",
		Name:   "Claire",
		Reconnect: config.ReconnectProfile{
			Attempts:     1,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     10 * time.Millisecond,
		},
	}
	require.NoError(t, p.Save(profile))

	stdin, input := io.Pipe()
	out := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetIn(stdin)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--profile", profile, "chat", "--no-echo"})

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	rosterLine := "En ligne (2): Claire, Marc"
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), rosterLine)
	}, 5*time.Second, 10*time.Millisecond)
	require.Contains(t, out.String(), "Bienvenue sur le chantier")

	_, err := io.WriteString(input, "/who\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Count(out.String(), rosterLine) >= 2
	}, time.Second, 10*time.Millisecond)

	_, err = io.WriteString(input, "Salut l'équipe  \n")
	require.NoError(t, err)
	select {
	case content := <-received:
		require.Equal(t, "Salut l'équipe", content)
	case <-time.After(5 * time.Second):
		t.Fatal("message never reached the server")
	}
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Salut l'équipe")
	}, time.Second, 10*time.Millisecond)

	_, err = io.WriteString(input, "/quit\n")
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not exit on /quit")
	}
	_ = input.Close()

	require.Empty(t, received, "commands are not sent as messages")
}

func TestChat_RejectedToken(t *testing.T) {
	srv := httptest.NewServer(chatServer(t, make(chan string, 1)))
	defer srv.Close()

	profile := filepath.Join(t.TempDir(), "btpchat.yaml")
	require.NoError(t, (&config.Profile{Server: srv.URL, Token: "expired"}).Save(profile))

	_, err := execute(t, "", "--profile", profile, "chat")
	require.ErrorContains(t, err, "btpchat login")
}
