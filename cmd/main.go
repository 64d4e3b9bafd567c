package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cwrk-planet/muc-session/config"
	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/metrics"
	"github.com/cwrk-planet/muc-session/internal/notify"
	"github.com/cwrk-planet/muc-session/internal/pg"
	"github.com/cwrk-planet/muc-session/internal/postgres"
	"github.com/cwrk-planet/muc-session/internal/service"
	"github.com/cwrk-planet/muc-session/internal/stanza"
	httpx "github.com/cwrk-planet/muc-session/internal/transport/http"
	"github.com/cwrk-planet/muc-session/internal/transport/ws"
	"github.com/cwrk-planet/muc-session/pkg/logger"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logging.level: %v", err)
	}
	base := logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     level,
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
		Account:   cfg.XMPP.JID,
	})
	defer func() { _ = logger.Sync() }()
	slog.Info("starting muc-session",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "rooms", len(cfg.Rooms))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	self := stanza.MustJID(cfg.XMPP.JID)

	// --- identity ---
	fallback := domain.Identity{
		UUID:         cfg.Identity.UUID,
		Name:         cfg.Identity.Name,
		PlayURI:      cfg.Identity.PlayURI,
		RoomName:     cfg.Identity.RoomName,
		Woka:         cfg.Identity.Woka,
		Color:        cfg.Identity.Color,
		VisitCardURL: cfg.Identity.VisitCardURL,
		Availability: cfg.Identity.Availability,
		LoggedIn:     cfg.Identity.LoggedIn,
	}
	var (
		identity domain.IdentityProvider = domain.StaticIdentity(fallback)
		profiles *postgres.ProfileSource
	)
	if cfg.Postgres.DSN != "" {
		pool, err := pg.NewPool(ctx, pg.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()

		profiles = postgres.NewProfileSource(postgres.NewProfileRepository(pool), cfg.Identity.UUID, fallback, base)
		_ = profiles.Refresh(ctx)
		identity = profiles
	}

	// --- notifications ---
	var notifier domain.Notifier = notify.NewLog(base)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis ping failed, notifications may be lost", "addr", cfg.Redis.Addr, "err", err)
		}
		notifier = notify.NewRedis(rdb, cfg.Redis.Channel, base)
	}

	// --- registry & transport ---
	collector := metrics.New()
	registry := service.NewRegistry(base)
	hub := ws.NewHub()

	client, err := ws.Dial(ctx, ws.ClientConfig{
		URL:       cfg.XMPP.URL,
		Origin:    cfg.XMPP.Origin,
		Domain:    cfg.XMPP.Domain,
		From:      self.Bare().String(),
		SendRate:  cfg.XMPP.SendRate,
		SendBurst: cfg.XMPP.SendBurst,
		PingEvery: cfg.XMPP.PingEvery,
	}, func(el *stanza.Element) { registry.Route(el) }, base)
	if err != nil {
		log.Fatalf("xmpp: %v", err)
	}

	for _, rc := range cfg.Rooms {
		session := service.NewRoomSession(service.Config{
			Room:               stanza.MustJID(rc.JID),
			Name:               rc.Name,
			Type:               domain.RoomType(rc.Type),
			Subscribe:          rc.Subscribe,
			Self:               self,
			Nickname:           rc.Nickname,
			IsMember:           rc.IsMember,
			DeliveryTimeout:    cfg.Session.DeliveryTimeout,
			ComposingTimeout:   cfg.Session.ComposingTimeout,
			RejoinDelay:        cfg.Session.RejoinDelay,
			MaxPendingAge:      cfg.Session.MaxPendingAge,
			MaxNicknameRetries: cfg.Session.MaxNicknameRetries,
		}, service.Deps{
			Sender:   client,
			Identity: identity,
			Notifier: notifier,
			Metrics:  collector,
			Logger:   base,
		})
		session.Subscribe(hub.Publish)
		session.Subscribe(func(ev service.Event) {
			if ev.Kind == service.EventClosed {
				collector.Forget(ev.Room)
				if ev.Err != nil {
					slog.Warn("room closed", "room", ev.Room, "err", ev.Err)
				}
			}
		})
		if err := registry.Add(session); err != nil {
			log.Fatalf("room %s: %v", rc.JID, err)
		}
	}
	registry.ConnectAll()

	// --- HTTP ---
	router := httpx.NewRouter(httpx.Deps{
		Handler:        httpx.NewHandler(registry, base),
		Events:         ws.NewServer(hub, registry, base).HandleEvents,
		Metrics:        collector.Handler(),
		Token:          cfg.HTTP.Token,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         base,
	})
	httpSrv := httpx.NewServer(httpx.ServerConfig{
		Addr:         cfg.HTTP.Addr,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}, router)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	if profiles != nil {
		go refreshProfile(ctx, profiles, registry, cfg.Postgres.RefreshEvery)
	}

	// --- graceful shutdown ---
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal")
	case <-client.Done():
		slog.Error("xmpp connection lost", "err", client.Err())
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}
	stop()

	registry.DisconnectAll()
	// время на отправку unavailable до <close/>
	time.Sleep(200 * time.Millisecond)
	if err := client.Close(); err != nil && !errors.Is(err, ws.ErrClosed) {
		slog.Debug("xmpp close", "err", err)
	}
	slog.Info("stopped")
}

// refreshProfile перечитывает профиль и рассылает присутствие, если он изменился.
func refreshProfile(ctx context.Context, src *postgres.ProfileSource, rooms *service.Registry, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := src.Identity()
			if err := src.Refresh(ctx); err != nil {
				continue
			}
			if src.Identity() != before {
				rooms.SendPresences()
			}
		}
	}
}
