package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/pkg/logger"
)

const DefaultChannel = "muc:notify"

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis публикует уведомления о новых сообщениях в pub/sub канал.
type Redis struct {
	rdb     publisher
	channel string
	timeout time.Duration
	log     *slog.Logger
}

type payload struct {
	Kind domain.NotificationKind `json:"kind"`
	At   time.Time               `json:"at"`
	domain.NotificationContext
}

func NewRedis(rdb publisher, channel string, logger *slog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, channel: channel, timeout: 2 * time.Second, log: logger}
}

func (n *Redis) Notify(ctx context.Context, kind domain.NotificationKind, nc domain.NotificationContext) {
	data, err := json.Marshal(payload{Kind: kind, At: time.Now().UTC(), NotificationContext: nc})
	if err != nil {
		n.log.Error("notify: marshal", slog.Any("err", err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	// ошибка доставки уведомления не должна влиять на сессию
	if err := n.rdb.Publish(ctx, n.channel, data).Err(); err != nil {
		logger.FromCtx(ctx, n.log).Warn("notify: publish failed",
			slog.String("channel", n.channel),
			slog.String("room", nc.Room),
			slog.Any("err", err),
		)
	}
}

// Log пишет уведомления в лог; используется, когда Redis не настроен.
type Log struct {
	log *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{log: logger}
}

func (n *Log) Notify(ctx context.Context, kind domain.NotificationKind, nc domain.NotificationContext) {
	logger.FromCtx(ctx, n.log).Info("notification",
		slog.String("kind", string(kind)),
		slog.String("room", nc.Room),
		slog.String("sender", nc.SenderName),
		slog.String("message_id", nc.MessageID),
	)
}
