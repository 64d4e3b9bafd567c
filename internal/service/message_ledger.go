package service

import (
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/cwrk-planet/muc-session/internal/clock"
	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/stanza"
)

// MemberLookup: то, что журналу нужно от ростера.
type MemberLookup interface {
	Get(key string) (domain.Member, bool)
	FindByName(name string) (domain.Member, bool)
}

// Scheduler создаёт таймер; сессия оборачивает f своим мьютексом.
type Scheduler func(d time.Duration, f func()) *clock.Timer

type InboundOutcome int

const (
	InboundIgnored InboundOutcome = iota
	InboundAcked
	InboundRetracted
	InboundAppended
)

type InboundResult struct {
	Outcome InboundOutcome
	Message domain.Message
	// Unseen: сообщение увеличило счётчик непрочитанных.
	Unseen bool
}

// MessageLedger: сообщения комнаты, подтверждения доставки, реакции и
// удалённые id. Не потокобезопасен: доступ сериализует RoomSession.
type MessageLedger struct {
	now       func() time.Time
	schedule  Scheduler
	timeout   time.Duration
	onTimeout func(ids []string)
	members   MemberLookup

	messages  []domain.Message
	reactions map[string][]domain.Reaction
	deleted   []string
	unseen    int
	lastSeen  time.Time

	timer    *clock.Timer
	timerGen uint64
}

func NewMessageLedger(
	now func() time.Time,
	schedule Scheduler,
	timeout time.Duration,
	members MemberLookup,
	onTimeout func(ids []string),
) *MessageLedger {
	if onTimeout == nil {
		onTimeout = func([]string) {}
	}
	return &MessageLedger{
		now:       now,
		schedule:  schedule,
		timeout:   timeout,
		onTimeout: onTimeout,
		members:   members,
		reactions: make(map[string][]domain.Reaction),
		lastSeen:  now(),
	}
}

// AppendOutgoing сохраняет своё ещё не доставленное сообщение и
// перезапускает общий таймер доставки.
func (l *MessageLedger) AppendOutgoing(m domain.Message) {
	m.Delivered = false
	m.Error = false
	l.messages = append(l.messages, m)
	l.touch()
}

// MarkDelivered идемпотентен: неизвестный или уже доставленный id ничего не меняет.
func (l *MessageLedger) MarkDelivered(id string) bool {
	i := l.index(id)
	if i < 0 || l.messages[i].Delivered {
		return false
	}
	l.messages[i].Delivered = true
	l.messages[i].Error = false
	l.touch()
	return true
}

// touch: отправка или подтверждение: сбрасывает непрочитанные,
// водяной знак и таймер доставки.
func (l *MessageLedger) touch() {
	l.unseen = 0
	l.lastSeen = l.now()
	l.restartTimer()
}

func (l *MessageLedger) restartTimer() {
	l.stopTimer()
	if !slices.ContainsFunc(l.messages, func(m domain.Message) bool { return !m.Delivered && !m.Error }) {
		return
	}
	gen := l.timerGen
	l.timer = l.schedule(l.timeout, func() { l.expire(gen) })
}

func (l *MessageLedger) stopTimer() {
	l.timerGen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *MessageLedger) expire(gen uint64) {
	if gen != l.timerGen {
		return
	}
	l.timer = nil
	var ids []string
	for i := range l.messages {
		if !l.messages[i].Delivered && !l.messages[i].Error {
			l.messages[i].Error = true
			ids = append(ids, l.messages[i].ID)
		}
	}
	if len(ids) > 0 {
		l.onTimeout(ids)
	}
}

// ApplyInbound: живое сообщение комнаты. active означает, что комната сейчас открыта
// у пользователя.
func (l *MessageLedger) ApplyInbound(ev stanza.MessageEvent, active bool) InboundResult {
	if ev.ID != "" && l.index(ev.ID) >= 0 {
		// повторная доставка уже подтверждённого тоже считается подтверждением
		if !l.MarkDelivered(ev.ID) {
			l.touch()
		}
		return InboundResult{Outcome: InboundAcked, Message: l.messages[l.index(ev.ID)]}
	}
	if ev.RetractID != "" {
		if !slices.Contains(l.deleted, ev.RetractID) {
			l.deleted = append(l.deleted, ev.RetractID)
		}
		return InboundResult{Outcome: InboundRetracted}
	}

	at := ev.Time
	if !ev.HasDelay {
		at = l.now()
	}
	m := l.build(ev, at)
	m.Mentions = l.resolveMentions(ev.Mentions)
	l.messages = append(l.messages, m)

	res := InboundResult{Outcome: InboundAppended, Message: m}
	if at.After(l.lastSeen) && !active {
		l.unseen++
		res.Unseen = true
	}
	return res
}

// ApplyHistory вставляет сообщение из архива и пересортировывает журнал
// по времени. Состояния набора и уже известные id отбрасываются.
func (l *MessageLedger) ApplyHistory(ev stanza.MessageEvent) bool {
	if ev.ChatState != "" || !ev.HasDelay || ev.Subject != nil || ev.Reaction != nil || ev.RetractID != "" {
		return false
	}
	if ev.ID != "" && l.index(ev.ID) >= 0 {
		return false
	}
	m := l.build(ev, ev.Time)
	m.Mentions = l.resolveMentions(ev.Mentions)

	l.messages = slices.Insert(l.messages, 0, m)
	slices.SortStableFunc(l.messages, func(a, b domain.Message) int {
		return a.Time.Compare(b.Time)
	})
	return true
}

func (l *MessageLedger) build(ev stanza.MessageEvent, at time.Time) domain.Message {
	name := ev.From.Resource()
	var senderJID string
	if owner, ok := l.members.FindByName(name); ok {
		senderJID = owner.JID
	}
	return domain.Message{
		ID:        ev.ID,
		Name:      name,
		JID:       senderJID,
		From:      ev.From.String(),
		Body:      ev.Body,
		Time:      at,
		Delivered: true,
		Kind:      ev.Kind(),
		Reply:     ev.Reply,
		Files:     ev.Files,
	}
}

// resolveMentions: сначала ростер, затем встроенный профиль, затем то,
// что известно из самого упоминания.
func (l *MessageLedger) resolveMentions(in []stanza.MentionPayload) []domain.Member {
	if len(in) == 0 {
		return nil
	}
	return lo.Map(in, func(mp stanza.MentionPayload, _ int) domain.Member {
		if m, ok := l.members.Get(mp.To); ok {
			return m
		}
		if mp.User != nil {
			return *mp.User
		}
		return domain.Member{JID: mp.To, Name: mp.Name}
	})
}

// ApplyReaction добавляет реакцию, если её id ещё не встречался.
func (l *MessageLedger) ApplyReaction(r domain.Reaction) bool {
	list := l.reactions[r.MessageID]
	if slices.ContainsFunc(list, func(x domain.Reaction) bool { return x.ID == r.ID }) {
		return false
	}
	l.reactions[r.MessageID] = append(list, r)
	return true
}

// HasReacted: последняя запись автора с этим emoji решает.
func (l *MessageLedger) HasReacted(messageID, emoji, author string) bool {
	author = reactionAuthor(author)
	selected := false
	for _, r := range l.reactions[messageID] {
		if r.Emoji == emoji && reactionAuthor(r.From) == author {
			selected = r.Op == domain.ReactionAdd
		}
	}
	return selected
}

// ToggleReaction переключает add/remove для автора и сохраняет запись локально.
func (l *MessageLedger) ToggleReaction(messageID, emoji, author, newID string) domain.Reaction {
	op := domain.ReactionAdd
	if l.HasReacted(messageID, emoji, author) {
		op = domain.ReactionRemove
	}
	r := domain.Reaction{ID: newID, MessageID: messageID, From: author, Emoji: emoji, Op: op}
	l.ApplyReaction(r)
	return r
}

// реакции сравниваются по bare JID автора
func reactionAuthor(from string) string {
	if j, err := stanza.ParseJID(from); err == nil {
		return j.Key()
	}
	return strings.ToLower(from)
}

func (l *MessageLedger) Get(id string) (domain.Message, bool) {
	i := l.index(id)
	if i < 0 {
		return domain.Message{}, false
	}
	return l.messages[i], true
}

// Delete убирает сообщение только локально.
func (l *MessageLedger) Delete(id string) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	l.messages = slices.Delete(l.messages, i, i+1)
	return true
}

// TakeForResend убирает сообщение, чтобы отправить его тело заново.
func (l *MessageLedger) TakeForResend(id string) (domain.Message, bool) {
	m, ok := l.Get(id)
	if !ok {
		return domain.Message{}, false
	}
	l.Delete(id)
	return m, true
}

// Oldest: время самого старого сообщения, граница следующей страницы архива.
func (l *MessageLedger) Oldest() (time.Time, bool) {
	if len(l.messages) == 0 {
		return time.Time{}, false
	}
	return l.messages[0].Time, true
}

func (l *MessageLedger) Messages() []domain.Message { return slices.Clone(l.messages) }

func (l *MessageLedger) Reactions(messageID string) []domain.Reaction {
	return slices.Clone(l.reactions[messageID])
}

func (l *MessageLedger) AllReactions() map[string][]domain.Reaction {
	out := make(map[string][]domain.Reaction, len(l.reactions))
	for id, list := range l.reactions {
		out[id] = slices.Clone(list)
	}
	return out
}

func (l *MessageLedger) Deleted() []string { return slices.Clone(l.deleted) }

func (l *MessageLedger) Unseen() int { return l.unseen }

// MarkSeen: пользователь открыл комнату.
func (l *MessageLedger) MarkSeen() {
	l.unseen = 0
	l.lastSeen = l.now()
}

// Reset очищает журнал (live-комната потеряла соединение).
func (l *MessageLedger) Reset() {
	l.stopTimer()
	l.messages = nil
	l.reactions = make(map[string][]domain.Reaction)
	l.deleted = nil
	l.unseen = 0
	l.lastSeen = l.now()
}

// Stop отменяет таймер доставки.
func (l *MessageLedger) Stop() { l.stopTimer() }

func (l *MessageLedger) index(id string) int {
	return slices.IndexFunc(l.messages, func(m domain.Message) bool { return m.ID == id })
}
