package logger

import (
	"io"
	"log/slog"
)

type Backend string

const (
	BackendStd Backend = "std" // text-хендлер slog
	BackendZap Backend = "zap" // JSON через slog-zap
)

type Config struct {
	// Метаданные, которые попадают в каждую запись
	Service    string
	Version    string
	InstanceID string
	// XMPP-адрес подключения, если демон работает от одного пользователя
	Account string

	Level   slog.Level
	Env     Env
	Backend Backend // по умолчанию: std в dev, zap в stage/prod
	Debug   bool

	// Zap sampling
	SampleInitial    int
	SampleThereafter int

	AddSource bool

	// Out: куда писать; nil означает os.Stdout.
	Out io.Writer
}
