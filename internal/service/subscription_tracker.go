package service

import (
	"time"

	"github.com/cwrk-planet/muc-session/internal/clock"
)

type RequestKind string

const (
	RequestDestroyRoom     RequestKind = "destroy_room"
	RequestListSubscribers RequestKind = "list_subscribers"
	RequestAffiliation     RequestKind = "affiliation"
	RequestArchiveQuery    RequestKind = "archive_query"
)

type PendingRequest struct {
	ID           string
	Kind         RequestKind
	RegisteredAt time.Time
}

// SubscriptionTracker сопоставляет id исходящих запросов с ожидаемым
// видом ответа. Записи старше maxAge выбрасываются при каждом обращении.
type SubscriptionTracker struct {
	clock   clock.Clock
	maxAge  time.Duration
	pending map[string]PendingRequest
}

func NewSubscriptionTracker(c clock.Clock, maxAge time.Duration) *SubscriptionTracker {
	return &SubscriptionTracker{
		clock:   c,
		maxAge:  maxAge,
		pending: make(map[string]PendingRequest),
	}
}

func (t *SubscriptionTracker) Register(id string, kind RequestKind) {
	now := t.clock.Now()
	t.prune(now)
	t.pending[id] = PendingRequest{ID: id, Kind: kind, RegisteredAt: now}
}

// Resolve забирает запрос по id. Промах не считается ошибкой.
func (t *SubscriptionTracker) Resolve(id string) (RequestKind, bool) {
	t.prune(t.clock.Now())
	if id == "" {
		return "", false
	}
	p, ok := t.pending[id]
	if !ok {
		return "", false
	}
	delete(t.pending, id)
	return p.Kind, true
}

// Has: есть ли ожидающий запрос вида kind.
func (t *SubscriptionTracker) Has(kind RequestKind) bool {
	t.prune(t.clock.Now())
	for _, p := range t.pending {
		if p.Kind == kind {
			return true
		}
	}
	return false
}

func (t *SubscriptionTracker) Len() int {
	t.prune(t.clock.Now())
	return len(t.pending)
}

func (t *SubscriptionTracker) prune(now time.Time) {
	if t.maxAge <= 0 {
		return
	}
	for id, p := range t.pending {
		if now.Sub(p.RegisteredAt) > t.maxAge {
			delete(t.pending, id)
		}
	}
}
