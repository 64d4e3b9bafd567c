package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/muc-session/internal/clock"
	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/stanza"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	roomJID = "lobby@conference.chat.local"
	selfJID = "alice@chat.local/web"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []*stanza.Element
}

func (r *recordingSender) Send(el *stanza.Element) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, el)
	return nil
}

func (r *recordingSender) Named(name string) []*stanza.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*stanza.Element
	for _, el := range r.sent {
		if el.Name == name {
			out = append(out, el)
		}
	}
	return out
}

func (r *recordingSender) Last() *stanza.Element {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func (r *recordingSender) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []domain.NotificationContext
}

func (n *recordingNotifier) Notify(_ context.Context, _ domain.NotificationKind, nc domain.NotificationContext) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, nc)
}

func (n *recordingNotifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type testEnv struct {
	session  *RoomSession
	sender   *recordingSender
	notifier *recordingNotifier
	clock    *clock.FakeClock
	events   *[]Event
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestEnv(t *testing.T, mutate func(*Config)) testEnv {
	t.Helper()
	fc := clock.Fake(t0)
	return newTestEnvWithClock(t, fc, fc, mutate)
}

// newTestEnvWithClock: сессия на произвольных часах; fc двигает время в тестах.
func newTestEnvWithClock(t *testing.T, c clock.Clock, fc *clock.FakeClock, mutate func(*Config)) testEnv {
	t.Helper()

	cfg := Config{
		Room: stanza.MustJID(roomJID),
		Name: "Lobby",
		Type: domain.RoomDefault,
		Self: stanza.MustJID(selfJID),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	env := testEnv{
		sender:   &recordingSender{},
		notifier: &recordingNotifier{},
		clock:    fc,
		events:   &[]Event{},
	}
	env.session = NewRoomSession(cfg, Deps{
		Sender:   env.sender,
		Notifier: env.notifier,
		Clock:    c,
		NewID:    sequentialIDs(),
		Identity: domain.StaticIdentity{
			UUID:     "u-alice",
			Name:     "Alice",
			Color:    "#f00",
			LoggedIn: true,
		},
	})
	env.session.Subscribe(func(ev Event) { *env.events = append(*env.events, ev) })
	return env
}

// lateClock: сработавший таймер не вызывает колбэк сразу, а ставит его
// в очередь до RunLate. Так колбэк ждёт мьютекс сессии, пока идёт команда.
type lateClock struct {
	*clock.FakeClock
	mu   sync.Mutex
	late []func()
}

func (c *lateClock) AfterFunc(d time.Duration, f func()) *clock.Timer {
	return c.FakeClock.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.late = append(c.late, f)
	})
}

func (c *lateClock) RunLate() {
	c.mu.Lock()
	late := c.late
	c.late = nil
	c.mu.Unlock()
	for _, f := range late {
		f()
	}
}

func (e testEnv) deliver(t *testing.T, format string, args ...any) {
	t.Helper()
	el, err := stanza.Parse([]byte(fmt.Sprintf(format, args...)))
	require.NoError(t, err)
	e.session.HandleStanza(el)
}

func (e testEnv) hasEvent(kind EventKind) bool {
	for _, ev := range *e.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// join проводит сессию без подписки до Joined.
func (e testEnv) join(t *testing.T) {
	t.Helper()
	require.NoError(t, e.session.Connect())
	id := e.sender.Named("presence")[0].ID()
	e.deliver(t, `<presence from="%s/Alice" id="%s">
<x xmlns="http://jabber.org/protocol/muc#user"><item jid="%s" role="participant"/></x></presence>`, roomJID, id, selfJID)
	require.Equal(t, domain.StateJoined, e.session.State())
}

func memberPresence(nick, jid, extra string) string {
	return fmt.Sprintf(`<presence from="%s/%s">
<x xmlns="http://jabber.org/protocol/muc#user"><item jid="%s" role="participant"/></x>%s</presence>`, roomJID, nick, jid, extra)
}
