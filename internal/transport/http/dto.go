package http

import (
	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/service"
)

type RoomItem struct {
	Key                string               `json:"key"`
	Name               string               `json:"name"`
	Type               domain.RoomType      `json:"type"`
	Subscribed         bool                 `json:"subscribed"`
	State              string               `json:"state"`
	Error              string               `json:"error,omitempty"`
	Ready              bool                 `json:"ready"`
	Active             bool                 `json:"active"`
	Nickname           string               `json:"nickname"`
	Description        string               `json:"description,omitempty"`
	IsAdmin            bool                 `json:"isAdmin"`
	LoadingSubscribers bool                 `json:"loadingSubscribers"`
	Unseen             int                  `json:"unseen"`
	History            domain.HistoryCursor `json:"history"`
}

type MessagesResponse struct {
	Items      []domain.Message `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type SendMessageRequest struct {
	Body     string              `json:"body"`
	ReplyTo  string              `json:"replyTo,omitempty"`
	Files    []domain.Attachment `json:"files,omitempty"`
	Mentions []string            `json:"mentions,omitempty"` // jid участников
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type ChatStateRequest struct {
	State domain.ChatState `json:"state"`
}

type ActiveRequest struct {
	Room string `json:"room"`
}

type BanRequest struct {
	Reason string `json:"reason"`
}

func roomItem(s *service.RoomSession, active bool) RoomItem {
	item := RoomItem{
		Key:                s.Key(),
		Name:               s.Name(),
		Type:               s.Type(),
		Subscribed:         s.Subscribed(),
		State:              s.State().String(),
		Ready:              s.Ready(),
		Active:             active,
		Nickname:           s.Nickname(),
		Description:        s.Description(),
		IsAdmin:            s.IsAdmin(),
		LoadingSubscribers: s.LoadingSubscribers(),
		Unseen:             s.Unseen(),
		History:            s.History(),
	}
	if err := s.Err(); err != nil {
		item.Error = err.Error()
	}
	return item
}
