package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwrk-planet/muc-session/internal/clock"
	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/stanza"
)

const (
	DefaultDeliveryTimeout    = 10 * time.Second
	DefaultComposingTimeout   = 5 * time.Second
	DefaultRejoinDelay        = 250 * time.Millisecond
	DefaultMaxPendingAge      = 2 * time.Minute
	DefaultMaxNicknameRetries = 5
)

// Sender: исходящая сторона транспорта. Send не должен блокироваться.
type Sender interface {
	Send(el *stanza.Element) error
}

// Metrics: счётчики сессии; реализация в internal/metrics.
type Metrics interface {
	StanzaIn(room, kind string)
	StanzaOut(room, name string)
	RosterSize(room string, n int)
	DeliveryTimeouts(room string, n int)
}

type nopMetrics struct{}

func (nopMetrics) StanzaIn(string, string)      {}
func (nopMetrics) StanzaOut(string, string)     {}
func (nopMetrics) RosterSize(string, int)       {}
func (nopMetrics) DeliveryTimeouts(string, int) {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.NotificationKind, domain.NotificationContext) {}

type Config struct {
	Room      stanza.JID // bare JID комнаты
	Name      string     // отображаемое имя
	Type      domain.RoomType
	Subscribe bool       // комната с подпиской MUC/Sub
	Self      stanza.JID // полный JID своего подключения
	Nickname  string     // базовый ник; если пусто, имя из профиля

	// IsMember уходит в присутствии: может ли пользователь подписаться
	// на комнату по умолчанию.
	IsMember bool

	DeliveryTimeout    time.Duration
	ComposingTimeout   time.Duration
	RejoinDelay        time.Duration
	MaxPendingAge      time.Duration
	MaxNicknameRetries int
}

func (c *Config) setDefaults() {
	if c.Type == "" {
		c.Type = domain.RoomDefault
	}
	if c.Name == "" {
		c.Name = c.Room.Local()
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.ComposingTimeout <= 0 {
		c.ComposingTimeout = DefaultComposingTimeout
	}
	if c.RejoinDelay <= 0 {
		c.RejoinDelay = DefaultRejoinDelay
	}
	if c.MaxPendingAge <= 0 {
		c.MaxPendingAge = DefaultMaxPendingAge
	}
	if c.MaxNicknameRetries <= 0 {
		c.MaxNicknameRetries = DefaultMaxNicknameRetries
	}
}

// Deps: внешние зависимости сессии. Обязателен только Sender.
type Deps struct {
	Sender   Sender
	Identity domain.IdentityProvider
	Notifier domain.Notifier
	Clock    clock.Clock
	Files    stanza.AttachmentCodec
	Metrics  Metrics
	Logger   *slog.Logger
	NewID    func() string
}

// RoomSession: участие в одной комнате: машина состояний, команды и
// единственная точка входа для входящих станз. Команды, станзы и таймеры
// сериализуются одним мьютексом, наблюдатели вызываются после его снятия.
type RoomSession struct {
	cfg      Config
	sender   Sender
	identity domain.IdentityProvider
	notifier domain.Notifier
	clock    clock.Clock
	metrics  Metrics
	log      *slog.Logger
	newID    func() string
	builder  stanza.Builder
	files    stanza.AttachmentCodec

	obs observers

	mu          sync.Mutex
	state       domain.SessionState
	err         error
	ready       bool
	active      bool
	description string
	presenceID  string
	nickRetries int
	loadingSubs bool

	roster  *Roster
	tracker *SubscriptionTracker
	pager   *HistoryPager
	ledger  *MessageLedger

	// поколение отсекает колбэк таймера, который уже сработал, но ждал мьютекс
	composing    *clock.Timer
	composingGen uint64
	rejoin       *clock.Timer
	rejoinGen    uint64

	// накапливаются под мьютексом, разбираются после Unlock
	events    []Event
	notes     []domain.NotificationContext
	released  bool
	onRelease func()
}

func NewRoomSession(cfg Config, deps Deps) *RoomSession {
	cfg.setDefaults()
	if deps.Identity == nil {
		deps.Identity = domain.StaticIdentity{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Files == nil {
		deps.Files = stanza.FilesCodec{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	s := &RoomSession{
		cfg:      cfg,
		sender:   deps.Sender,
		identity: deps.Identity,
		notifier: deps.Notifier,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		log:      deps.Logger.With(slog.String("room", cfg.Room.Bare().String())),
		newID:    deps.NewID,
		files:    deps.Files,
		builder:  stanza.Builder{Room: cfg.Room.Bare(), From: cfg.Self, Files: deps.Files},
		ready:    true,
	}

	me := s.identity.Identity()
	room := s.Key()
	s.roster = NewRoster(domain.Member{
		JID:          cfg.Self.Key(),
		Name:         s.baseNick(),
		UUID:         me.UUID,
		PlayURI:      me.PlayURI,
		RoomName:     me.RoomName,
		Color:        me.Color,
		Woka:         me.Woka,
		VisitCardURL: me.VisitCardURL,
		IsMember:     cfg.IsMember,
		Availability: me.Availability,
	}, func(n int) { s.metrics.RosterSize(room, n) })
	s.tracker = NewSubscriptionTracker(s.clock, cfg.MaxPendingAge)
	s.pager = NewHistoryPager()
	s.ledger = NewMessageLedger(s.clock.Now, s.after, cfg.DeliveryTimeout, s.roster, s.onDeliveryTimeout)

	return s
}

// --- чтение состояния ---

func (s *RoomSession) Key() string           { return s.cfg.Room.Key() }
func (s *RoomSession) JID() stanza.JID       { return s.cfg.Room.Bare() }
func (s *RoomSession) Name() string          { return s.cfg.Name }
func (s *RoomSession) Type() domain.RoomType { return s.cfg.Type }
func (s *RoomSession) Subscribed() bool      { return s.cfg.Subscribe }

func (s *RoomSession) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err: причина перехода в Closed, если она была ошибкой.
func (s *RoomSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *RoomSession) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *RoomSession) Nickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick()
}

func (s *RoomSession) Description() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.description
}

func (s *RoomSession) LoadingSubscribers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadingSubs
}

func (s *RoomSession) Members() []domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.List()
}

func (s *RoomSession) Self() domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Self()
}

// IsAdmin: права администратора у себя.
func (s *RoomSession) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Self().IsAdmin
}

func (s *RoomSession) Member(jid string) (domain.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Get(jid)
}

func (s *RoomSession) FindByName(name string) (domain.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.FindByName(name)
}

func (s *RoomSession) MemberByUUID(uuid string) (domain.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.FindByUUID(uuid)
}

func (s *RoomSession) Message(id string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Get(id)
}

func (s *RoomSession) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Messages()
}

func (s *RoomSession) Reactions(messageID string) []domain.Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Reactions(messageID)
}

func (s *RoomSession) AllReactions() map[string][]domain.Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.AllReactions()
}

func (s *RoomSession) HasReacted(messageID, emoji string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.HasReacted(messageID, emoji, s.cfg.Self.String())
}

func (s *RoomSession) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Deleted()
}

func (s *RoomSession) Unseen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Unseen()
}

func (s *RoomSession) History() domain.HistoryCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pager.Cursor()
}

// Subscribe добавляет наблюдателя; возвращённая функция его снимает.
func (s *RoomSession) Subscribe(fn Observer) func() { return s.obs.add(fn) }

// SetActive отмечает комнату открытой у пользователя. Открытие сбрасывает
// непрочитанные.
func (s *RoomSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *RoomSession) SetActive(active bool) {
	s.run(func() error {
		s.active = active
		if active {
			s.ledger.MarkSeen()
		}
		return nil
	})
}

func (s *RoomSession) setReleaseHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRelease = fn
}

// --- команды ---

// Connect: вход в комнату: подписка MUC/Sub для авторизованного
// пользователя или сразу присутствие.
func (s *RoomSession) Connect() error {
	return s.command(func() error {
		if s.state == domain.StateJoined {
			return nil
		}
		return s.connect()
	})
}

func (s *RoomSession) connect() error {
	s.setState(domain.StateJoining)
	if s.identity.Identity().LoggedIn && s.cfg.Subscribe && s.cfg.Type != domain.RoomLive {
		return s.send(s.builder.Subscribe(s.newID(), s.nick()))
	}
	return s.sendPresence(true)
}

// SendPresence повторно отправляет присутствие с актуальным профилем.
func (s *RoomSession) SendPresence() error {
	return s.command(func() error { return s.sendPresence(false) })
}

func (s *RoomSession) sendPresence(first bool) error {
	id := s.newID()
	if first {
		s.presenceID = id
	}
	return s.send(s.builder.Presence(id, s.nick(), stanza.PresenceProfile{
		Identity: s.identity.Identity(),
		IsMember: s.cfg.IsMember,
	}))
}

// OutgoingMessage: параметры SendMessage.
type OutgoingMessage struct {
	Body     string
	Reply    *domain.ReplyTarget
	Files    []domain.Attachment
	Mentions []domain.Member
}

func (s *RoomSession) SendMessage(out OutgoingMessage) (domain.Message, error) {
	var msg domain.Message
	err := s.command(func() error {
		var err error
		msg, err = s.sendMessage(out)
		return err
	})
	return msg, err
}

func (s *RoomSession) sendMessage(out OutgoingMessage) (domain.Message, error) {
	if strings.TrimSpace(out.Body) == "" && len(out.Files) == 0 {
		return domain.Message{}, domain.ErrEmptyMessage
	}
	id := s.newID()
	if err := s.send(s.builder.Chat(id, stanza.OutgoingChat(out))); err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		ID:       id,
		Name:     s.nick(),
		JID:      s.roster.SelfKey(),
		From:     s.cfg.Self.String(),
		Body:     out.Body,
		Time:     s.clock.Now(),
		Kind:     domain.MessagePlain,
		Reply:    out.Reply,
		Files:    out.Files,
		Mentions: out.Mentions,
	}
	if out.Reply != nil {
		msg.Kind = domain.MessageReply
	}
	s.ledger.AppendOutgoing(msg)
	s.emit(EventMessagesChanged, id)
	return msg, nil
}

// SendReaction переключает реакцию emoji на сообщение messageID.
func (s *RoomSession) SendReaction(emoji, messageID string) (domain.Reaction, error) {
	var r domain.Reaction
	err := s.command(func() error {
		target, ok := s.ledger.Get(messageID)
		if !ok {
			return domain.ErrMessageNotFound
		}
		id := s.newID()
		op := domain.ReactionAdd
		if s.ledger.HasReacted(messageID, emoji, s.cfg.Self.String()) {
			op = domain.ReactionRemove
		}
		if err := s.send(s.builder.Reaction(id, emoji, messageID, target.From, op)); err != nil {
			return err
		}
		r = s.ledger.ToggleReaction(messageID, emoji, s.cfg.Self.String(), id)
		s.ledger.touch()
		s.emit(EventReactionsChanged, messageID)
		return nil
	})
	return r, err
}

// RequestOlderHistory запрашивает страницу архива до самого старого
// известного сообщения.
func (s *RoomSession) RequestOlderHistory() error {
	return s.command(s.requestHistory)
}

func (s *RoomSession) requestHistory() error {
	before, ok := s.ledger.Oldest()
	if !ok {
		before = s.clock.Now()
	}
	id := s.newID()
	el, err := s.pager.RequestPage(s.builder, id, before)
	if err != nil {
		return err
	}
	s.tracker.Register(id, RequestArchiveQuery)
	s.emit(EventHistoryChanged)
	return s.send(el)
}

// SetChatActivity отправляет состояние набора. composing через
// ComposingTimeout без повторов сменяется на paused.
func (s *RoomSession) SetChatActivity(state domain.ChatState) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidChatState, state)
	}
	return s.command(func() error {
		s.stopComposing()
		if err := s.send(s.builder.ChatState(s.newID(), state)); err != nil {
			return err
		}
		if state == domain.ChatComposing {
			gen := s.composingGen
			s.composing = s.after(s.cfg.ComposingTimeout, func() {
				if gen != s.composingGen {
					return
				}
				s.composing = nil
				if err := s.send(s.builder.ChatState(s.newID(), domain.ChatPaused)); err != nil {
					s.log.Warn("session.composingTimeout:", slog.Any("err", err))
				}
			})
		}
		return nil
	})
}

func (s *RoomSession) RankUp(member stanza.JID) error {
	return s.command(func() error { return s.affiliate("admin", member, "") })
}

func (s *RoomSession) RankDown(member stanza.JID) error {
	return s.command(func() error { return s.affiliate("none", member, "") })
}

func (s *RoomSession) Ban(member stanza.JID, reason string) error {
	return s.command(func() error { return s.affiliate("outcast", member, reason) })
}

func (s *RoomSession) affiliate(affiliation string, member stanza.JID, reason string) error {
	if member.IsZero() {
		return stanza.ErrInvalidJID
	}
	id := s.newID()
	s.tracker.Register(id, RequestAffiliation)
	return s.send(s.builder.Affiliation(id, affiliation, member.Bare(), reason))
}

func (s *RoomSession) DestroyRoom() error {
	return s.command(func() error {
		id := s.newID()
		s.tracker.Register(id, RequestDestroyRoom)
		return s.send(s.builder.Destroy(id, ""))
	})
}

// Disconnect выходит из комнаты. Сессия закрывается сразу, реестр
// освобождает её, когда придёт эхо unavailable.
func (s *RoomSession) Disconnect() error {
	return s.command(func() error {
		id := s.newID()
		s.presenceID = id
		err := s.send(s.builder.Unavailable(id, s.nick()))
		s.close(nil)
		return err
	})
}

// Close закрывает сессию без отправки станз.
func (s *RoomSession) Close() {
	s.run(func() error {
		s.close(nil)
		return nil
	})
}

// RemoveMessage удаляет сообщение у всех участников.
func (s *RoomSession) RemoveMessage(id string) error {
	return s.command(func() error {
		if _, ok := s.ledger.Get(id); !ok {
			return domain.ErrMessageNotFound
		}
		return s.send(s.builder.Retract(s.newID(), id))
	})
}

// DeleteMessage удаляет сообщение только локально.
func (s *RoomSession) DeleteMessage(id string) error {
	return s.command(func() error {
		if !s.ledger.Delete(id) {
			return domain.ErrMessageNotFound
		}
		s.emit(EventMessagesChanged, id)
		return nil
	})
}

// ResendMessage убирает сообщение и отправляет его содержимое заново.
func (s *RoomSession) ResendMessage(id string) (domain.Message, error) {
	var msg domain.Message
	err := s.command(func() error {
		old, ok := s.ledger.TakeForResend(id)
		if !ok {
			return domain.ErrMessageNotFound
		}
		var err error
		msg, err = s.sendMessage(OutgoingMessage{
			Body:     old.Body,
			Reply:    old.Reply,
			Files:    old.Files,
			Mentions: old.Mentions,
		})
		return err
	})
	return msg, err
}

// --- входящие станзы ---

// HandleStanza: единственная точка входа для станз этой комнаты.
func (s *RoomSession) HandleStanza(el *stanza.Element) {
	if el == nil {
		return
	}
	s.run(func() error {
		s.handle(el)
		return nil
	})
}

func (s *RoomSession) handle(el *stanza.Element) {
	kind := stanza.Classify(el)
	s.metrics.StanzaIn(s.Key(), kind.String())
	s.log.Debug("session.in", slog.String("kind", kind.String()), slog.String("id", el.ID()))

	if s.state == domain.StateClosed {
		// после выхода ждём только эхо своего unavailable
		if kind == stanza.KindPresence && el.ID() != "" && el.ID() == s.presenceID {
			s.released = true
		}
		return
	}

	switch kind {
	case stanza.KindError:
		s.handleError(stanza.ParseError(el))
	case stanza.KindPresence:
		s.handlePresence(stanza.ParsePresence(el))
	case stanza.KindIQResult:
		s.handleIQResult(stanza.ParseIQResult(el))
	case stanza.KindGroupchat:
		s.handleGroupchat(stanza.ParseGroupchat(el, s.files))
	case stanza.KindArchived:
		ev, ok := stanza.ParseArchived(el, s.files)
		if !ok {
			s.log.Debug("session.archived: no forwarded message", slog.String("id", el.ID()))
			return
		}
		if s.ledger.ApplyHistory(ev) {
			s.emit(EventMessagesChanged, ev.ID)
		}
	default:
		s.log.Debug("session.unhandled", slog.String("stanza", el.Name), slog.String("type", el.Type()))
	}
}

func (s *RoomSession) handleError(pe stanza.ProtocolError) {
	if kind, ok := s.tracker.Resolve(pe.ID); ok && kind == RequestArchiveQuery {
		s.pager.Fail()
		s.emit(EventHistoryChanged)
	}

	switch {
	case pe.NicknameInUse():
		if s.nickRetries >= s.cfg.MaxNicknameRetries {
			s.log.Warn("session.nickname: retries exhausted", slog.Int("retries", s.nickRetries))
			s.close(domain.ErrNicknameRetriesExhausted)
			return
		}
		s.nickRetries++
		s.log.Warn("session.nickname: in use, retrying", slog.String("nick", s.nick()))
		if err := s.connect(); err != nil {
			s.log.Warn("session.reconnect:", slog.Any("err", err))
		}
	case pe.Banned():
		s.log.Warn("session.banned")
		s.close(domain.ErrBanned)
	default:
		s.log.Warn("session.error",
			slog.String("stanza", pe.Stanza),
			slog.String("condition", pe.Condition),
			slog.String("text", pe.Text),
		)
	}
}

func (s *RoomSession) handlePresence(ev stanza.PresenceEvent) {
	if ev.ID != "" && ev.ID == s.presenceID {
		s.setReady(true)
		if s.state == domain.StateJoining {
			s.setState(domain.StateJoined)
			if s.cfg.Type == domain.RoomLive {
				if err := s.requestHistory(); err != nil && !errors.Is(err, domain.ErrHistoryExhausted) {
					s.log.Warn("session.requestHistory:", slog.Any("err", err))
				}
			}
		}
	}

	switch {
	case ev.MUC:
		if ev.Unavailable && ev.From.Resource() == s.nick() {
			s.scheduleRejoin()
			return
		}
		if ev.Unavailable {
			if ev.Key == s.roster.SelfKey() {
				return
			}
			if s.roster.IsMember(ev.Key) && s.cfg.Subscribe {
				s.roster.Apply(domain.MemberUpdate{JID: ev.Key, Status: domain.Some(domain.StatusDisconnected)})
			} else {
				s.roster.Remove(ev.Key)
			}
			s.emit(EventRosterChanged)
			return
		}
		if ev.Key == s.roster.SelfKey() && !s.tracker.Has(RequestListSubscribers) {
			s.loadingSubs = false
		}
		s.roster.Apply(ev.Update)
		s.emit(EventRosterChanged)
	case ev.Caps:
	case s.cfg.Type == domain.RoomLive && ev.Unavailable:
		s.setReady(false)
		s.roster.Reset()
		s.ledger.Reset()
		s.emit(EventRosterChanged)
		s.emit(EventMessagesChanged)
	}
}

func (s *RoomSession) scheduleRejoin() {
	s.stopRejoin()
	gen := s.rejoinGen
	s.rejoin = s.after(s.cfg.RejoinDelay, func() {
		if gen != s.rejoinGen {
			return
		}
		s.rejoin = nil
		if err := s.connect(); err != nil {
			s.log.Warn("session.rejoin:", slog.Any("err", err))
		}
	})
}

func (s *RoomSession) handleIQResult(ev stanza.IQResultEvent) {
	kind, ok := s.tracker.Resolve(ev.ID)
	if ok {
		switch kind {
		case RequestListSubscribers:
			s.loadingSubs = false
			for _, sub := range ev.Subscriptions {
				u := domain.MemberUpdate{JID: sub.JID.Key()}
				if sub.Nick != "" {
					u.Name = domain.Some(sub.Nick)
				}
				if ev.PlayURI != "" {
					u.PlayURI = domain.Some(ev.PlayURI)
				}
				s.roster.Apply(u)
			}
			s.emit(EventRosterChanged)
		case RequestDestroyRoom:
			s.emit(EventRoomDestroyed)
		case RequestAffiliation:
			s.emit(EventAffiliationChanged)
		}
	}

	if ev.Fin != nil {
		f := ev.Fin
		s.pager.ApplyPageResult(f.Complete, f.MaxHistoryDate, f.Disabled, f.Count)
		s.emit(EventHistoryChanged)
		return
	}

	if !ok && ev.Subscribed && ev.SubscribeNick == s.nick() {
		if err := s.sendPresence(true); err != nil {
			s.log.Warn("session.sendPresence:", slog.Any("err", err))
		}
		id := s.newID()
		s.tracker.Register(id, RequestListSubscribers)
		s.loadingSubs = true
		if err := s.send(s.builder.ListSubscribers(id)); err != nil {
			s.log.Warn("session.listSubscribers:", slog.Any("err", err))
		}
	}
}

func (s *RoomSession) handleGroupchat(ev stanza.MessageEvent) {
	switch {
	case ev.Subject != nil:
		s.description = *ev.Subject
		s.emit(EventDescriptionChanged)
	case ev.ChatState != "":
		if ev.From.Resource() == s.nick() {
			return
		}
		if m, ok := s.roster.FindByName(ev.From.Resource()); ok {
			s.roster.Apply(domain.MemberUpdate{JID: m.JID, ChatState: domain.Some(ev.ChatState)})
			s.emit(EventRosterChanged)
		}
	case ev.Reaction != nil:
		r := domain.Reaction{
			ID:        ev.ID,
			MessageID: ev.Reaction.MessageID,
			From:      ev.Reaction.From,
			Emoji:     ev.Body,
			Op:        ev.Reaction.Op,
		}
		if s.ledger.ApplyReaction(r) {
			s.emit(EventReactionsChanged, r.MessageID)
		}
	default:
		res := s.ledger.ApplyInbound(ev, s.active)
		switch res.Outcome {
		case InboundAcked:
			s.emit(EventMessagesChanged, ev.ID)
		case InboundRetracted:
			s.emit(EventMessagesChanged, ev.RetractID)
		case InboundAppended:
			s.emit(EventMessagesChanged, ev.ID)
			if res.Unseen {
				s.notes = append(s.notes, domain.NotificationContext{
					Room:       s.Key(),
					RoomName:   s.cfg.Name,
					SenderName: res.Message.Name,
					MessageID:  res.Message.ID,
				})
			}
		}
	}
}

func (s *RoomSession) onDeliveryTimeout(ids []string) {
	s.metrics.DeliveryTimeouts(s.Key(), len(ids))
	s.log.Warn("session.deliveryTimeout", slog.Int("messages", len(ids)))
	s.emit(EventDeliveryTimeout, ids...)
}

// --- внутреннее ---

func (s *RoomSession) baseNick() string {
	if s.cfg.Nickname != "" {
		return s.cfg.Nickname
	}
	if name := s.identity.Identity().Name; name != "" {
		return name
	}
	return "unknown"
}

// nick: ник с учётом попыток разрешить коллизию.
func (s *RoomSession) nick() string {
	if s.nickRetries == 0 {
		return s.baseNick()
	}
	return fmt.Sprintf("%s_%d", s.baseNick(), s.nickRetries)
}

func (s *RoomSession) send(el *stanza.Element) error {
	if s.sender == nil {
		return errors.New("session: no sender")
	}
	s.metrics.StanzaOut(s.Key(), el.Name)
	s.log.Debug("session.out", slog.String("stanza", el.Name), slog.String("id", el.ID()))
	if err := s.sender.Send(el); err != nil {
		return fmt.Errorf("sender.Send: %w", err)
	}
	return nil
}

// setState двигает состояние только вперёд.
func (s *RoomSession) setState(next domain.SessionState) {
	if next <= s.state {
		return
	}
	s.state = next
	s.emit(EventStateChanged)
}

func (s *RoomSession) setReady(ready bool) {
	if s.ready == ready {
		return
	}
	s.ready = ready
	s.emit(EventReadyChanged)
}

func (s *RoomSession) close(err error) {
	if s.state == domain.StateClosed {
		return
	}
	s.stopComposing()
	s.stopRejoin()
	s.ledger.Stop()
	s.err = err
	s.state = domain.StateClosed
	s.events = append(s.events, Event{Room: s.Key(), Kind: EventStateChanged})
	s.events = append(s.events, Event{Room: s.Key(), Kind: EventClosed, Err: err})
}

func (s *RoomSession) stopComposing() {
	s.composingGen++
	if s.composing != nil {
		s.composing.Stop()
		s.composing = nil
	}
}

func (s *RoomSession) stopRejoin() {
	s.rejoinGen++
	if s.rejoin != nil {
		s.rejoin.Stop()
		s.rejoin = nil
	}
}

func (s *RoomSession) emit(kind EventKind, ids ...string) {
	s.events = append(s.events, Event{Room: s.Key(), Kind: kind, MessageIDs: ids})
}

// after: таймер, колбэк которого выполняется под мьютексом сессии и
// ничего не делает после закрытия.
func (s *RoomSession) after(d time.Duration, f func()) *clock.Timer {
	return s.clock.AfterFunc(d, func() {
		s.run(func() error {
			if s.state == domain.StateClosed {
				return nil
			}
			f()
			return nil
		})
	})
}

// command: run для команд: на закрытой сессии ErrSessionClosed.
func (s *RoomSession) command(fn func() error) error {
	return s.run(func() error {
		if s.state == domain.StateClosed {
			return domain.ErrSessionClosed
		}
		return fn()
	})
}

// run выполняет fn под мьютексом, затем вне его оповещает наблюдателей,
// отправляет уведомления и, если пора, освобождает сессию в реестре.
func (s *RoomSession) run(fn func() error) error {
	s.mu.Lock()
	err := fn()
	events, notes := s.events, s.notes
	s.events, s.notes = nil, nil
	var release func()
	if s.released && s.onRelease != nil {
		release, s.onRelease = s.onRelease, nil
	}
	s.mu.Unlock()

	for _, nc := range notes {
		s.notifier.Notify(context.Background(), domain.NotifyNewMessage, nc)
	}
	s.obs.emit(events)
	if release != nil {
		release()
	}
	return err
}
