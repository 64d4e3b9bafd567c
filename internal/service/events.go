package service

import "sync"

type EventKind string

const (
	EventStateChanged       EventKind = "state_changed"
	EventReadyChanged       EventKind = "ready_changed"
	EventRosterChanged      EventKind = "roster_changed"
	EventMessagesChanged    EventKind = "messages_changed"
	EventReactionsChanged   EventKind = "reactions_changed"
	EventHistoryChanged     EventKind = "history_changed"
	EventDescriptionChanged EventKind = "description_changed"
	EventDeliveryTimeout    EventKind = "delivery_timeout"
	EventAffiliationChanged EventKind = "affiliation_changed"
	EventRoomDestroyed      EventKind = "room_destroyed"
	EventClosed             EventKind = "closed"
)

// Event: уведомление наблюдателю. Состояние читается геттерами сессии.
type Event struct {
	Room       string
	Kind       EventKind
	MessageIDs []string
	Err        error
}

type Observer func(Event)

// observers: список подписчиков с собственной блокировкой: вызываются
// вне мьютекса сессии.
type observers struct {
	mu   sync.RWMutex
	next int
	list map[int]Observer
}

func (o *observers) add(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.list == nil {
		o.list = make(map[int]Observer)
	}
	id := o.next
	o.next++
	o.list[id] = fn

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.list, id)
	}
}

func (o *observers) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	o.mu.RLock()
	fns := make([]Observer, 0, len(o.list))
	for _, fn := range o.list {
		fns = append(fns, fn)
	}
	o.mu.RUnlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
