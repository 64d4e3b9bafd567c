package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/stanza"
)

type HTTP struct {
	Addr           string        `yaml:"addr"`
	Token          string        `yaml:"token"` // пусто: без авторизации
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // muc-session
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type XMPP struct {
	URL    string `yaml:"url"` // wss://chat.example.org/xmpp-websocket
	Origin string `yaml:"origin"`
	JID    string `yaml:"jid"` // полный JID подключения
	Domain string `yaml:"domain"`

	SendRate  float64       `yaml:"sendRate"` // станз в секунду, 0: без ограничения
	SendBurst int           `yaml:"sendBurst"`
	PingEvery time.Duration `yaml:"pingEvery"`
}

type Identity struct {
	UUID         string `yaml:"uuid"`
	Name         string `yaml:"name"`
	PlayURI      string `yaml:"playUri"`
	RoomName     string `yaml:"roomName"`
	Woka         string `yaml:"woka"`
	Color        string `yaml:"color"`
	VisitCardURL string `yaml:"visitCardUrl"`
	Availability int    `yaml:"availability"`
	LoggedIn     bool   `yaml:"loggedIn"`
}

type Postgres struct {
	DSN          string        `yaml:"dsn"` // пусто: профиль берётся из identity
	MaxConns     int32         `yaml:"maxConns"`
	RefreshEvery time.Duration `yaml:"refreshEvery"`
}

type Redis struct {
	Addr     string `yaml:"addr"` // пусто: уведомления только в лог
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type Session struct {
	DeliveryTimeout    time.Duration `yaml:"deliveryTimeout"`
	ComposingTimeout   time.Duration `yaml:"composingTimeout"`
	RejoinDelay        time.Duration `yaml:"rejoinDelay"`
	MaxPendingAge      time.Duration `yaml:"maxPendingAge"`
	MaxNicknameRetries int           `yaml:"maxNicknameRetries"`
}

type Room struct {
	JID       string `yaml:"jid"`
	Name      string `yaml:"name"`
	Type      string `yaml:"type"` // default|live|forum
	Subscribe bool   `yaml:"subscribe"`
	Nickname  string `yaml:"nickname"`
	IsMember  bool   `yaml:"isMember"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Logging  Logging  `yaml:"logging"`
	XMPP     XMPP     `yaml:"xmpp"`
	Identity Identity `yaml:"identity"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Session  Session  `yaml:"session"`
	Rooms    []Room   `yaml:"rooms"`
}

// LoadConfig читает .env (если есть), затем YAML из CONFIG_PATH.
// ${VAR} в YAML подставляются из окружения.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.XMPP.URL == "" {
		return errors.New("xmpp.url is required")
	}
	self, err := stanza.ParseJID(c.XMPP.JID)
	if err != nil || self.Local() == "" {
		return fmt.Errorf("xmpp.jid %q is not a valid user jid", c.XMPP.JID)
	}
	if len(c.Rooms) == 0 {
		return errors.New("rooms: at least one room is required")
	}
	for i, r := range c.Rooms {
		j, err := stanza.ParseJID(r.JID)
		if err != nil || j.Local() == "" {
			return fmt.Errorf("rooms[%d].jid %q is not a valid room jid", i, r.JID)
		}
		switch domain.RoomType(r.Type) {
		case "", domain.RoomDefault, domain.RoomLive, domain.RoomForum:
		default:
			return fmt.Errorf("rooms[%d].type %q: want default, live or forum", i, r.Type)
		}
	}

	// установка дефолтов, если значения не указаны
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.XMPP.Domain == "" {
		c.XMPP.Domain = self.Domain()
	}
	if c.Identity.Name == "" {
		c.Identity.Name = self.Local()
	}
	if c.Postgres.RefreshEvery <= 0 {
		c.Postgres.RefreshEvery = time.Minute
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "muc-session"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	return nil
}
