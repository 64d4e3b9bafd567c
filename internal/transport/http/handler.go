package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/service"
	"github.com/cwrk-planet/muc-session/internal/stanza"
	"github.com/cwrk-planet/muc-session/pkg/httputil"
	"github.com/cwrk-planet/muc-session/pkg/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Rooms: реестр сессий, с которым работает API.
type Rooms interface {
	List() []*service.RoomSession
	Get(key string) (*service.RoomSession, bool)
	Active() (*service.RoomSession, bool)
	SetActive(key string) error
}

type Handler struct {
	rooms Rooms
	log   *slog.Logger
}

func NewHandler(rooms Rooms, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{rooms: rooms, log: logger}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := mapErr(err)
	if status >= http.StatusInternalServerError {
		logger.FromCtx(r.Context(), h.log).Error("handler."+op, slog.Any("err", err))
	}
	httputil.Error(r.Context(), w, status, op+" failed", map[string]any{"reason": err.Error()})
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidInput, err)
	}
	return nil
}

func (h *Handler) session(r *http.Request) (*service.RoomSession, error) {
	key, err := url.PathUnescape(chi.URLParam(r, "room"))
	if err != nil {
		return nil, fmt.Errorf("%w: room", errInvalidInput)
	}
	s, ok := h.rooms.Get(strings.ToLower(key))
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return s, nil
}

func (h *Handler) isActive(s *service.RoomSession) bool {
	a, ok := h.rooms.Active()
	return ok && a == s
}

// GET /rooms
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	sessions := h.rooms.List()
	items := make([]RoomItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, roomItem(s, h.isActive(s)))
	}
	httputil.OK(w, items)
}

// GET /rooms/{room}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "get room", err)
		return
	}
	httputil.OK(w, roomItem(s, h.isActive(s)))
}

// PUT /rooms/active
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "set active", err)
		return
	}
	if err := h.rooms.SetActive(strings.ToLower(req.Room)); err != nil {
		h.fail(w, r, "set active", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /rooms/{room}/members
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "members", err)
		return
	}
	httputil.OK(w, s.Members())
}

// GET /rooms/{room}/messages?limit=&cursor=
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "messages", err)
		return
	}

	limit := defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageSize)
		}
	}
	cur, err := DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		h.fail(w, r, "messages", err)
		return
	}

	items, next, err := pageBefore(s.Messages(), cur, limit)
	if err != nil {
		h.fail(w, r, "messages", err)
		return
	}
	httputil.OK(w, MessagesResponse{Items: items, NextCursor: next})
}

// GET /rooms/{room}/reactions
func (h *Handler) Reactions(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "reactions", err)
		return
	}
	httputil.OK(w, s.AllReactions())
}

// GET /rooms/{room}/deleted
func (h *Handler) Deleted(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "deleted", err)
		return
	}
	httputil.OK(w, s.Deleted())
}

// POST /rooms/{room}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "send message", err)
		return
	}
	var req SendMessageRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "send message", err)
		return
	}

	out := service.OutgoingMessage{Body: req.Body, Files: req.Files}
	if req.ReplyTo != "" {
		target, ok := s.Message(req.ReplyTo)
		if !ok {
			h.fail(w, r, "send message", domain.ErrMessageNotFound)
			return
		}
		out.Reply = &domain.ReplyTarget{
			ID:         target.ID,
			To:         target.JID,
			SenderName: target.Name,
			Body:       target.Body,
			Files:      target.Files,
		}
	}
	for _, jid := range req.Mentions {
		if m, ok := s.Member(jid); ok {
			out.Mentions = append(out.Mentions, m)
		}
	}

	msg, err := s.SendMessage(out)
	if err != nil {
		h.fail(w, r, "send message", err)
		return
	}
	httputil.Created(w, msg)
}

// DELETE /rooms/{room}/messages/{id}?everyone=true
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "delete message", err)
		return
	}
	id := chi.URLParam(r, "id")
	if everyone, _ := strconv.ParseBool(r.URL.Query().Get("everyone")); everyone {
		err = s.RemoveMessage(id)
	} else {
		err = s.DeleteMessage(id)
	}
	if err != nil {
		h.fail(w, r, "delete message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /rooms/{room}/messages/{id}/resend
func (h *Handler) ResendMessage(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "resend message", err)
		return
	}
	msg, err := s.ResendMessage(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "resend message", err)
		return
	}
	httputil.Created(w, msg)
}

// POST /rooms/{room}/messages/{id}/reactions
func (h *Handler) React(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, "react", err)
		return
	}
	var req ReactionRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "react", err)
		return
	}
	if strings.TrimSpace(req.Emoji) == "" {
		h.fail(w, r, "react", fmt.Errorf("%w: emoji is required", errInvalidInput))
		return
	}
	reaction, err := s.SendReaction(req.Emoji, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "react", err)
		return
	}
	httputil.OK(w, reaction)
}

// POST /rooms/{room}/history
func (h *Handler) LoadHistory(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "load history", (*service.RoomSession).RequestOlderHistory)
}

// POST /rooms/{room}/chat-state
func (h *Handler) ChatState(w http.ResponseWriter, r *http.Request) {
	var req ChatStateRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, "chat state", err)
		return
	}
	h.command(w, r, "chat state", func(s *service.RoomSession) error {
		return s.SetChatActivity(req.State)
	})
}

// POST /rooms/{room}/connect
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "connect", (*service.RoomSession).Connect)
}

// POST /rooms/{room}/disconnect
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "disconnect", (*service.RoomSession).Disconnect)
}

// POST /rooms/{room}/presence
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "presence", (*service.RoomSession).SendPresence)
}

// DELETE /rooms/{room}
func (h *Handler) DestroyRoom(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "destroy room", (*service.RoomSession).DestroyRoom)
}

// POST /rooms/{room}/members/{jid}/rank-up
func (h *Handler) RankUp(w http.ResponseWriter, r *http.Request) {
	h.memberCommand(w, r, "rank up", func(s *service.RoomSession, jid stanza.JID) error {
		return s.RankUp(jid)
	})
}

// POST /rooms/{room}/members/{jid}/rank-down
func (h *Handler) RankDown(w http.ResponseWriter, r *http.Request) {
	h.memberCommand(w, r, "rank down", func(s *service.RoomSession, jid stanza.JID) error {
		return s.RankDown(jid)
	})
}

// POST /rooms/{room}/members/{jid}/ban
func (h *Handler) Ban(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			h.fail(w, r, "ban", err)
			return
		}
	}
	h.memberCommand(w, r, "ban", func(s *service.RoomSession, jid stanza.JID) error {
		return s.Ban(jid, req.Reason)
	})
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request, op string, fn func(*service.RoomSession) error) {
	s, err := h.session(r)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	if err := fn(s); err != nil {
		h.fail(w, r, op, err)
		return
	}
	httputil.Accepted(w)
}

func (h *Handler) memberCommand(w http.ResponseWriter, r *http.Request, op string, fn func(*service.RoomSession, stanza.JID) error) {
	jid, err := stanza.ParseJID(chi.URLParam(r, "jid"))
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	h.command(w, r, op, func(s *service.RoomSession) error { return fn(s, jid) })
}
