package stanza

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/cwrk-planet/muc-session/internal/domain"
)

// Builder собирает исходящие станзы одной комнаты.
type Builder struct {
	Room  JID // bare JID комнаты
	From  JID // полный JID своего подключения
	Files AttachmentCodec
}

func (b Builder) codec() AttachmentCodec {
	if b.Files == nil {
		return FilesCodec{}
	}
	return b.Files
}

func (b Builder) stanza(name, id string) *Element {
	return NS(name, NSClient).
		Set("to", b.Room.Bare().String()).
		Set("from", b.From.String()).
		Set("id", id)
}

// PresenceProfile: данные профиля, которые уходят в присутствии.
type PresenceProfile struct {
	Identity domain.Identity
	IsMember bool
}

// Presence: вход в комнату под ником nick с профилем пользователя.
func (b Builder) Presence(id, nick string, p PresenceProfile) *Element {
	return NS("presence", NSClient).
		Set("to", b.Room.WithResource(nick).String()).
		Set("from", b.From.String()).
		Set("id", id).
		Append(
			NS("x", NSMucUser),
			New("room").
				Set("playUri", p.Identity.PlayURI).
				Set("name", p.Identity.RoomName),
			New("user").
				Set("uuid", p.Identity.UUID).
				Set("color", p.Identity.Color).
				Set("woka", p.Identity.Woka).
				Set("isMember", strconv.FormatBool(p.IsMember)).
				Set("availabilityStatus", strconv.Itoa(p.Identity.Availability)).
				Set("visitCardUrl", p.Identity.VisitCardURL),
		)
}

// Unavailable: выход из комнаты.
func (b Builder) Unavailable(id, nick string) *Element {
	return NS("presence", NSClient).
		Set("to", b.Room.WithResource(nick).String()).
		Set("from", b.From.String()).
		Set("type", "unavailable").
		Set("id", id).
		Append(NS("x", NSMucUser))
}

// Subscribe: MUC/Sub подписка на все узлы комнаты.
func (b Builder) Subscribe(id, nick string) *Element {
	sub := NS("subscribe", NSMucSub).Set("nick", nick)
	for _, node := range mucSubNodes {
		sub.Append(New("event").Set("node", node))
	}
	return b.stanza("iq", id).Set("type", "set").Append(sub)
}

// ListSubscribers: запрос всех подписчиков комнаты.
func (b Builder) ListSubscribers(id string) *Element {
	return b.stanza("iq", id).Set("type", "get").Append(NS("subscriptions", NSMucSub))
}

// ArchiveQuery: MAM-запрос max сообщений, отправленных до end.
func (b Builder) ArchiveQuery(id string, end time.Time, max int) *Element {
	form := NS("x", NSDataForm).Set("type", "submit").Append(
		New("field").Set("var", "FORM_TYPE").Set("type", "hidden").
			Append(New("value").SetText(NSMAM)),
		New("field").Set("var", "end").
			Append(New("value").SetText(end.UTC().Format(time.RFC3339Nano))),
	)
	rsm := NS("set", NSRSM).Append(New("max").SetText(strconv.Itoa(max)))

	return b.stanza("iq", id).Set("type", "set").Append(NS("query", NSMAM).Append(form, rsm))
}

// Affiliation: смена аффилиации участника (admin, none, outcast).
func (b Builder) Affiliation(id, affiliation string, target JID, reason string) *Element {
	item := New("item").
		Set("affiliation", affiliation).
		Set("jid", target.String()).
		Append(New("reason").SetText(reason))
	return b.stanza("iq", id).Set("type", "set").Append(NS("query", NSMucAdmin).Append(item))
}

// Destroy: уничтожение комнаты владельцем.
func (b Builder) Destroy(id, reason string) *Element {
	destroy := New("destroy").
		Set("jid", b.Room.Bare().String()).
		Append(New("reason").SetText(reason))
	return b.stanza("iq", id).Set("type", "set").Append(NS("query", NSMucOwner).Append(destroy))
}

// Retract: удаление сообщения originID у всех участников.
func (b Builder) Retract(id, originID string) *Element {
	return b.stanza("message", id).Set("type", "groupchat").Append(
		NS("remove", NSMessageDelete).Set("origin_id", originID),
		New("body"),
	)
}

func (b Builder) ChatState(id string, state domain.ChatState) *Element {
	return b.stanza("message", id).Set("type", "groupchat").Append(NS(string(state), NSChatStates))
}

// OutgoingChat: содержимое исходящего сообщения.
type OutgoingChat struct {
	Body     string
	Reply    *domain.ReplyTarget
	Files    []domain.Attachment
	Mentions []domain.Member
}

func (b Builder) Chat(id string, c OutgoingChat) *Element {
	msg := b.stanza("message", id).Set("type", "groupchat").Append(New("body").SetText(c.Body))

	if c.Reply != nil {
		reply := NS("reply", NSReply).
			Set("to", c.Reply.To).
			Set("id", c.Reply.ID).
			Set("senderName", c.Reply.SenderName).
			Set("body", c.Reply.Body).
			Append(b.codec().Encode(c.Reply.Files))
		msg.Append(reply)
	}

	msg.Append(b.codec().Encode(c.Files))

	if len(c.Mentions) > 0 {
		mentions := New("mentions")
		for _, m := range c.Mentions {
			user, _ := json.Marshal(m)
			mentions.Append(New("mention").
				Set("from", b.From.String()).
				Set("to", m.JID).
				Set("name", m.Name).
				Set("user", string(user)))
		}
		msg.Append(mentions)
	}
	return msg
}

// Reaction: реакция emoji на сообщение targetID автора targetFrom.
func (b Builder) Reaction(id, emoji, targetID, targetFrom string, op domain.ReactionOp) *Element {
	return b.stanza("message", id).Set("type", "groupchat").Append(
		New("body").SetText(emoji),
		NS("reaction", NSReaction).
			Set("to", targetFrom).
			Set("from", b.From.String()).
			Set("id", targetID).
			Set("reaction", emoji).
			Set("action", string(op)),
	)
}
