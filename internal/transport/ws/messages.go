package ws

import (
	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/service"
)

// Типы сообщений, которые уходят подписчикам событий комнаты
const (
	TypeState = "state" // снимок комнаты при подключении
	TypeEvent = "event" // событие сессии
)

type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type StatePayload struct {
	Room        string               `json:"room"`
	Name        string               `json:"name"`
	State       string               `json:"state"`
	Ready       bool                 `json:"ready"`
	Description string               `json:"description,omitempty"`
	Members     []domain.Member      `json:"members"`
	History     domain.HistoryCursor `json:"history"`
	Unseen      int                  `json:"unseen"`
}

type EventPayload struct {
	Room       string   `json:"room"`
	Kind       string   `json:"kind"`
	MessageIDs []string `json:"message_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func stateOf(s *service.RoomSession) StatePayload {
	return StatePayload{
		Room:        s.Key(),
		Name:        s.Name(),
		State:       s.State().String(),
		Ready:       s.Ready(),
		Description: s.Description(),
		Members:     s.Members(),
		History:     s.History(),
		Unseen:      s.Unseen(),
	}
}

func eventOf(ev service.Event) EventPayload {
	p := EventPayload{
		Room:       ev.Room,
		Kind:       string(ev.Kind),
		MessageIDs: ev.MessageIDs,
	}
	if ev.Err != nil {
		p.Error = ev.Err.Error()
	}
	return p
}
