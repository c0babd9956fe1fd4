package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"btplive/internal/api"
	"btplive/internal/auth"
	"btplive/internal/commands"
	"btplive/internal/config"
	"btplive/internal/http"
	"btplive/internal/metrics"
	"btplive/internal/models"
	"btplive/internal/push"
	"btplive/internal/storage"
	"btplive/internal/ws"
)

type app struct {
	storage     *storage.BboltStorage
	hub         *ws.Hub
	apiServer   *http.APIServer
	adminServer *http.AdminServer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return nil, err
	}

	authService, err := auth.NewAuthService(ctx, authConfig, bbStorage)
	if err != nil {
		_ = bbStorage.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	hub, err := ws.NewHub(ws.HubConfig{Store: bbStorage, Metrics: m})
	if err != nil {
		_ = bbStorage.Close()
		return nil, err
	}

	var pusher api.Pusher
	if cfg.WebPushEnabled() {
		pusher = push.NewSender(bbStorage, push.Config{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		}, nil)
	} else {
		slog.Info("web push disabled, offline users will only see stored notifications")
	}

	notifier := api.NewNotifier(bbStorage, authService, hub, pusher, m, nil)
	apiHandlers := api.New(api.Config{
		Auth:           authService,
		Store:          bbStorage,
		Notifier:       notifier,
		History:        hub,
		VAPIDPublicKey: cfg.VAPIDPublicKey,
	})

	return &app{
		storage:     bbStorage,
		hub:         hub,
		apiServer:   http.NewAPIServer(apiHandlers, ws.NewServer(authService, hub, nil), cfg.APIAddr),
		adminServer: http.NewAdminServer(api.NewAdminHandler(authService, notifier), registry, cfg.AdminAddr),
	}, nil
}

func (a *app) Close() error {
	return a.storage.Close()
}

func run(ctx context.Context, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("btplive", flag.ContinueOnError)
	addUser := flags.String("add-user", "", "Email of the user to create (prints a generated password)")
	displayName := flags.String("name", "", "Display name for -add-user")
	role := flags.String("role", "CLIENT", "Role for -add-user: ADMIN, FORMATEUR, ETUDIANT or CLIENT")
	notify := flags.String("notify", "", "User id to send a notification to")
	title := flags.String("title", "", "Notification title for -notify")
	message := flags.String("message", "", "Notification text for -notify")
	kind := flags.String("type", "system", "Notification type for -notify: formation, devis, chantier, message or system")
	link := flags.String("link", "", "Optional link for -notify")
	genVAPID := flags.Bool("gen-vapid", false, "Print a new VAPID key pair for web push and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *genVAPID {
		publicKey, privateKey, err := push.GenerateKeys()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
		return nil
	}

	cfg, err := config.Load(*addUser != "" || *notify != "")
	if err != nil {
		return err
	}

	if *addUser != "" {
		r, err := models.ParseRole(*role)
		if err != nil {
			return err
		}
		return commands.AddUser(*addUser, *displayName, r, cfg, out)
	}

	if *notify != "" {
		return commands.Notify(models.CreateNotificationRequest{
			UserID:  *notify,
			Title:   *title,
			Message: *message,
			Type:    models.ParseNotificationType(*kind),
			Link:    *link,
		}, cfg, out)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := a.apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown failed", "error", err)
		}
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown failed", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
