package domain

import "context"

// Identity: снимок локального профиля.
type Identity struct {
	UUID         string
	Name         string
	PlayURI      string
	RoomName     string
	Woka         string
	Color        string
	VisitCardURL string
	Availability int
	LoggedIn     bool
}

// IdentityProvider: read-only источник профиля.
type IdentityProvider interface {
	Identity() Identity
}

// StaticIdentity: профиль, заданный один раз (конфиг, тесты).
type StaticIdentity Identity

func (s StaticIdentity) Identity() Identity { return Identity(s) }

type NotificationKind string

const NotifyNewMessage NotificationKind = "new_message"

type NotificationContext struct {
	Room       string `json:"room"`
	RoomName   string `json:"roomName"`
	SenderName string `json:"senderName"`
	MessageID  string `json:"messageId"`
}

// Notifier: внешний приёмник уведомлений, содержимое ядро не интерпретирует.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, nc NotificationContext)
}
