package stanza

import (
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/cwrk-planet/muc-session/internal/domain"
)

// Kind: класс входящей станзы с точки зрения комнаты.
type Kind int

const (
	KindUnknown Kind = iota
	KindError
	KindPresence
	KindIQResult
	KindGroupchat
	KindArchived
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindPresence:
		return "presence"
	case KindIQResult:
		return "iq_result"
	case KindGroupchat:
		return "groupchat"
	case KindArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Classify определяет класс станзы. Ошибка проверяется раньше имени:
// type="error" бывает у presence, iq и message.
func Classify(el *Element) Kind {
	if el == nil {
		return KindUnknown
	}
	if el.Type() == "error" {
		return KindError
	}
	switch el.Name {
	case "presence":
		return KindPresence
	case "iq":
		if el.Type() == "result" {
			return KindIQResult
		}
	case "message":
		if el.Type() == "groupchat" {
			return KindGroupchat
		}
		if el.Child("result", NSMAM) != nil {
			return KindArchived
		}
	}
	return KindUnknown
}

// ProtocolError: ошибка, которую прислал сервер.
type ProtocolError struct {
	ID        string
	Stanza    string // presence, iq, message
	From      JID
	Condition string
	Text      string
}

func (e ProtocolError) NicknameInUse() bool {
	if e.Text == TextNicknameInUse {
		return true
	}
	return e.Stanza == "presence" && e.Condition == "conflict"
}

func (e ProtocolError) Banned() bool { return e.Text == TextBanned }

func ParseError(el *Element) ProtocolError {
	pe := ProtocolError{
		ID:     el.ID(),
		Stanza: el.Name,
		From:   JIDFrom(el.Attr("from")),
	}
	errEl := el.Child("error")
	pe.Text = errEl.ChildText("text")
	if errEl != nil {
		for _, c := range errEl.Children {
			if c.Name != "text" {
				pe.Condition = c.Name
				break
			}
		}
	}
	return pe
}

// PresenceEvent: разобранное присутствие участника комнаты.
type PresenceEvent struct {
	ID          string
	From        JID // комната/ник
	Unavailable bool
	MUC         bool // есть <x xmlns=muc#user>
	Caps        bool
	// Key: ключ ростера: bare JID из item, иначе полный JID в комнате (комната/ник).
	Key    string
	Update domain.MemberUpdate
}

func ParsePresence(el *Element) PresenceEvent {
	ev := PresenceEvent{
		ID:          el.ID(),
		From:        JIDFrom(el.Attr("from")),
		Unavailable: el.Type() == "unavailable",
		Caps:        el.Child("c", NSCaps) != nil,
	}
	x := el.Child("x", NSMucUser)
	if x == nil {
		return ev
	}
	ev.MUC = true

	item := x.Child("item")
	if userJID := JIDFrom(item.Attr("jid")); !userJID.IsZero() {
		ev.Key = userJID.Key()
	} else {
		ev.Key = ev.From.FullKey()
	}

	u := domain.MemberUpdate{JID: ev.Key}
	if ev.From.Resource() != "" {
		u.Name = domain.Some(ev.From.Resource())
	}
	if ev.Unavailable {
		u.Status = domain.Some(domain.StatusDisconnected)
	} else {
		u.Status = domain.Some(domain.StatusAvailable)
	}
	if role, ok := item.LookupAttr("role"); ok {
		u.IsAdmin = domain.Some(slices.Contains(adminRoles, role))
	}

	room := el.Child("room")
	u.PlayURI = optAttr(room, "playUri")
	u.RoomName = optAttr(room, "name")

	user := el.Child("user")
	u.UUID = optAttr(user, "uuid")
	u.Color = optAttr(user, "color")
	u.Woka = optAttr(user, "woka")
	u.VisitCardURL = optAttr(user, "visitCardUrl")
	if v, ok := user.LookupAttr("isMember"); ok {
		u.IsMember = domain.Some(v == "true")
	}
	if v, ok := user.LookupAttr("availabilityStatus"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			u.Availability = domain.Some(n)
		}
	}

	ev.Update = u
	return ev
}

func optAttr(el *Element, name string) domain.Opt[string] {
	if v, ok := el.LookupAttr(name); ok {
		return domain.Some(v)
	}
	return domain.None[string]()
}

// Subscription: одна запись списка подписчиков MUC/Sub.
type Subscription struct {
	JID  JID
	Nick string
}

// Fin: итог MAM-запроса.
type Fin struct {
	Complete       string
	MaxHistoryDate string
	Disabled       bool
	Count          int
}

// IQResultEvent: разобранный iq type="result".
type IQResultEvent struct {
	ID               string
	HasSubscriptions bool
	Subscriptions    []Subscription
	PlayURI          string
	// SubscribeNick задан, если это подтверждение подписки.
	SubscribeNick string
	Subscribed    bool
	Fin           *Fin
}

func ParseIQResult(el *Element) IQResultEvent {
	ev := IQResultEvent{
		ID:      el.ID(),
		PlayURI: el.Child("room").Attr("playUri"),
	}
	if subs := el.Child("subscriptions"); subs != nil {
		ev.HasSubscriptions = true
		for _, s := range subs.ChildrenNamed("subscription") {
			j := JIDFrom(s.Attr("jid"))
			if j.IsZero() {
				continue
			}
			ev.Subscriptions = append(ev.Subscriptions, Subscription{JID: j, Nick: s.Attr("nick")})
		}
	}
	if sub := el.Child("subscribe"); sub != nil {
		ev.Subscribed = true
		ev.SubscribeNick = sub.Attr("nick")
	}
	if fin := el.Child("fin", NSMAM); fin != nil {
		f := &Fin{
			Complete:       fin.Attr("complete"),
			MaxHistoryDate: fin.Attr("maxHistoryDate"),
			Disabled:       fin.Attr("disabled") == "true",
		}
		f.Count, _ = strconv.Atoi(fin.Child("set", NSRSM).ChildText("count"))
		ev.Fin = f
	}
	return ev
}

// ReactionPayload: <reaction> внутри сообщения.
type ReactionPayload struct {
	MessageID string
	From      string
	Op        domain.ReactionOp
}

// MentionPayload: <mention> внутри сообщения.
type MentionPayload struct {
	To   string
	Name string
	User *domain.Member
}

// MessageEvent: разобранное groupchat-сообщение (живое или из архива).
type MessageEvent struct {
	ID        string
	From      JID
	Body      string
	Time      time.Time
	HasDelay  bool
	Subject   *string
	ChatState domain.ChatState
	Reaction  *ReactionPayload
	// RetractID: origin_id удаляемого сообщения.
	RetractID string
	Reply     *domain.ReplyTarget
	Files     []domain.Attachment
	Mentions  []MentionPayload
}

func (m MessageEvent) Kind() domain.MessageKind {
	if m.Reply != nil {
		return domain.MessageReply
	}
	return domain.MessagePlain
}

func ParseGroupchat(el *Element, codec AttachmentCodec) MessageEvent {
	if codec == nil {
		codec = FilesCodec{}
	}
	ev := MessageEvent{
		ID:   el.ID(),
		From: JIDFrom(el.Attr("from")),
		Body: el.ChildText("body"),
	}
	if subj := el.Child("subject"); subj != nil {
		text := subj.Text
		ev.Subject = &text
		return ev
	}
	if st := el.ChildByNS(NSChatStates); st != nil {
		ev.ChatState = domain.ChatState(st.Name)
	}
	if stamp, ok := el.Child("delay").LookupAttr("stamp"); ok {
		ev.Time, ev.HasDelay = parseStamp(stamp)
	}
	if r := el.Child("reaction"); r != nil {
		ev.Reaction = &ReactionPayload{
			MessageID: r.Attr("id"),
			From:      r.Attr("from"),
			Op:        domain.ReactionOp(r.Attr("action")),
		}
	}
	if rm := el.ChildByNS(NSMessageDelete); rm != nil && rm.Name == "remove" {
		ev.RetractID = rm.Attr("origin_id")
	}
	if r := el.Child("reply"); r != nil {
		ev.Reply = &domain.ReplyTarget{
			ID:         r.Attr("id"),
			To:         r.Attr("to"),
			SenderName: r.Attr("senderName"),
			Body:       r.Attr("body"),
			Files:      codec.Decode(r.Child("files")),
		}
	}
	ev.Files = codec.Decode(el.Child("files"))

	for _, m := range el.Child("mentions").ChildrenNamed("mention") {
		mp := MentionPayload{To: m.Attr("to"), Name: m.Attr("name")}
		if raw := m.Attr("user"); raw != "" {
			var user domain.Member
			if err := json.Unmarshal([]byte(raw), &user); err == nil {
				mp.User = &user
			}
		}
		ev.Mentions = append(ev.Mentions, mp)
	}
	return ev
}

// ParseArchived достаёт пересланное сообщение из MAM-результата.
// Время берётся из <delay> внутри <forwarded>.
func ParseArchived(el *Element, codec AttachmentCodec) (MessageEvent, bool) {
	fwd := el.Child("result", NSMAM).Child("forwarded")
	msg := fwd.Child("message")
	if msg == nil {
		return MessageEvent{}, false
	}
	ev := ParseGroupchat(msg, codec)
	ev.Time, ev.HasDelay = time.Time{}, false
	if stamp, ok := fwd.Child("delay", NSDelay).LookupAttr("stamp"); ok {
		ev.Time, ev.HasDelay = parseStamp(stamp)
	}
	return ev, true
}

func parseStamp(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
