package service

import (
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/stanza"
)

// Registry: комнаты одного подключения, владеет ими хост. Входящие станзы
// маршрутизируются по bare JID отправителя. Вызовы в сессии делаются вне
// мьютекса реестра.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*RoomSession // bare JID комнаты -> сессия
	active string
	log    *slog.Logger

	// держится всю смену активной комнаты, вместе с флагами сессий
	activeMu sync.Mutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{rooms: make(map[string]*RoomSession), log: logger}
}

func (r *Registry) Add(s *RoomSession) error {
	key := s.Key()

	r.mu.Lock()
	if _, ok := r.rooms[key]; ok {
		r.mu.Unlock()
		return domain.ErrRoomExists
	}
	r.rooms[key] = s
	r.mu.Unlock()

	s.setReleaseHook(func() { r.release(key, s) })
	return nil
}

// release: финальное эхо выхода пришло, сессия больше не нужна.
func (r *Registry) release(key string, s *RoomSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.rooms[key]; ok && cur == s {
		delete(r.rooms, key)
		if r.active == key {
			r.active = ""
		}
		r.log.Info("registry: room released", slog.String("room", key))
	}
}

// Remove закрывает сессию и убирает её из реестра.
func (r *Registry) Remove(key string) bool {
	key = strings.ToLower(key)

	r.mu.Lock()
	s, ok := r.rooms[key]
	if ok {
		delete(r.rooms, key)
		if r.active == key {
			r.active = ""
		}
	}
	r.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

func (r *Registry) Get(key string) (*RoomSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.rooms[strings.ToLower(key)]
	return s, ok
}

// List: сессии, отсортированные по имени комнаты.
func (r *Registry) List() []*RoomSession {
	r.mu.RLock()
	out := make([]*RoomSession, 0, len(r.rooms))
	for _, s := range r.rooms {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *RoomSession) int {
		if c := strings.Compare(a.Name(), b.Name()); c != 0 {
			return c
		}
		return strings.Compare(a.Key(), b.Key())
	})
	return out
}

func (r *Registry) byType(t domain.RoomType) (*RoomSession, bool) {
	for _, s := range r.List() {
		if s.Type() == t {
			return s, true
		}
	}
	return nil, false
}

// Default: комната по умолчанию (тип default).
func (r *Registry) Default() (*RoomSession, bool) { return r.byType(domain.RoomDefault) }

// Live: комната текущей live-встречи.
func (r *Registry) Live() (*RoomSession, bool) { return r.byType(domain.RoomLive) }

// SetActive делает комнату открытой у пользователя; пустой key снимает выбор.
func (r *Registry) SetActive(key string) error {
	key = strings.ToLower(key)

	r.activeMu.Lock()
	defer r.activeMu.Unlock()

	r.mu.Lock()
	var next *RoomSession
	if key != "" {
		s, ok := r.rooms[key]
		if !ok {
			r.mu.Unlock()
			return domain.ErrRoomNotFound
		}
		next = s
	}
	prev := r.rooms[r.active]
	r.active = key
	r.mu.Unlock()

	if prev != nil && prev != next {
		prev.SetActive(false)
	}
	if next != nil {
		next.SetActive(true)
	}
	return nil
}

func (r *Registry) Active() (*RoomSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.rooms[r.active]
	return s, ok
}

// Route отдаёт станзу сессии комнаты-отправителя. false, если комнаты нет.
func (r *Registry) Route(el *stanza.Element) bool {
	if el == nil {
		return false
	}
	from, err := stanza.ParseJID(el.Attr("from"))
	if err != nil {
		r.log.Debug("registry: stanza without from", slog.String("stanza", el.Name))
		return false
	}
	s, ok := r.Get(from.Key())
	if !ok {
		r.log.Debug("registry: no room for stanza",
			slog.String("from", from.String()),
			slog.String("stanza", el.Name),
		)
		return false
	}
	s.HandleStanza(el)
	return true
}

// SendPresences рассылает присутствие во все комнаты (сменился профиль).
func (r *Registry) SendPresences() {
	for _, s := range r.List() {
		if err := s.SendPresence(); err != nil {
			r.log.Debug("registry: send presence", slog.String("room", s.Key()), slog.Any("err", err))
		}
	}
}

// ConnectAll входит во все зарегистрированные комнаты.
func (r *Registry) ConnectAll() {
	for _, s := range r.List() {
		if err := s.Connect(); err != nil {
			r.log.Warn("registry: connect", slog.String("room", s.Key()), slog.Any("err", err))
		}
	}
}

// DisconnectAll выходит из всех комнат.
func (r *Registry) DisconnectAll() {
	for _, s := range r.List() {
		if err := s.Disconnect(); err != nil {
			r.log.Debug("registry: disconnect", slog.String("room", s.Key()), slog.Any("err", err))
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
