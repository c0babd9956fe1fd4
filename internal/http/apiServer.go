package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"btplive/internal/api"
	"btplive/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /auth/logout", api.RequireSameOrigin(apiHandlers.LogoffHandler))
	mux.HandleFunc("GET /auth/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))

	mux.HandleFunc("GET /notifications", apiHandlers.RequireAuth(apiHandlers.ListNotificationsHandler))
	mux.HandleFunc("GET /notifications/unread-count", apiHandlers.RequireAuth(apiHandlers.UnreadCountHandler))
	mux.HandleFunc("PUT /notifications/{id}/read", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.MarkReadHandler)))
	mux.HandleFunc("PUT /notifications/mark-all-read", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.MarkAllReadHandler)))
	mux.HandleFunc("POST /notifications", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CreateNotificationHandler)))
	mux.HandleFunc("POST /notifications/subscriptions", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SubscribeHandler)))
	mux.HandleFunc("DELETE /notifications/subscriptions", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UnsubscribeHandler)))
	mux.HandleFunc("GET /notifications/vapid-public-key", apiHandlers.VAPIDKeyHandler)

	mux.HandleFunc("GET /chat/messages", apiHandlers.RequireAuth(apiHandlers.HistoryHandler))

	// WebSocket endpoint
	mux.HandleFunc("/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler exposes the routes, for tests and embedding.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	slog.Info("API server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
