package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/muc-session/internal/clock"
	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/stanza"
)

const collisionError = `<presence from="%s/%s" type="error" id="%s"><error type="cancel">
<conflict xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/>
<text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">That nickname is already in use by another occupant</text>
</error></presence>`

func TestRoomSession_ConnectSendsPresenceAndJoinsOnEcho(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, domain.StateDisconnected, env.session.State())

	env.join(t)

	p := env.sender.Named("presence")[0]
	assert.Equal(t, roomJID+"/Alice", p.Attr("to"))
	assert.Equal(t, "u-alice", p.Child("user").Attr("uuid"))

	self := env.session.Self()
	assert.True(t, self.IsMe)
	assert.Equal(t, domain.StatusAvailable, self.Status)
	assert.Len(t, env.session.Members(), 1)
	assert.True(t, env.hasEvent(EventStateChanged))
}

func TestRoomSession_SubscriptionRoomFlow(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Subscribe = true })

	require.NoError(t, env.session.Connect())
	sub := env.sender.Last()
	require.Equal(t, "iq", sub.Name)
	assert.Equal(t, "Alice", sub.Child("subscribe", stanza.NSMucSub).Attr("nick"))
	assert.Equal(t, domain.StateJoining, env.session.State())

	env.deliver(t, `<iq type="result" from="%s" id="%s"><subscribe xmlns="urn:xmpp:mucsub:0" nick="Alice"/></iq>`, roomJID, sub.ID())

	presences := env.sender.Named("presence")
	require.Len(t, presences, 1)
	list := env.sender.Last()
	require.NotNil(t, list.Child("subscriptions", stanza.NSMucSub))
	assert.True(t, env.session.LoadingSubscribers())

	env.deliver(t, `<iq type="result" from="%s" id="%s"><subscriptions xmlns="urn:xmpp:mucsub:0">
<subscription jid="bob@chat.local" nick="Bob"/></subscriptions></iq>`, roomJID, list.ID())

	assert.False(t, env.session.LoadingSubscribers())
	bob, ok := env.session.Member("bob@chat.local")
	require.True(t, ok)
	assert.Equal(t, "Bob", bob.Name)
	assert.Equal(t, domain.StatusDisconnected, bob.Status)

	env.deliver(t, `<presence from="%s/Alice" id="%s"><x xmlns="http://jabber.org/protocol/muc#user"><item jid="%s"/></x></presence>`,
		roomJID, presences[0].ID(), selfJID)
	assert.Equal(t, domain.StateJoined, env.session.State())
}

func TestRoomSession_LiveRoomLoadsHistoryAndResets(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Type = domain.RoomLive
		c.Subscribe = true
	})

	env.join(t)

	query := env.sender.Last()
	require.Equal(t, "iq", query.Name)
	require.NotNil(t, query.Child("query", stanza.NSMAM))
	assert.True(t, env.session.History().Loading)

	env.deliver(t, `<iq type="result" from="%s" id="%s"><fin xmlns="urn:xmpp:mam:2" complete="true">
<set xmlns="http://jabber.org/protocol/rsm"><count>10</count></set></fin></iq>`, roomJID, query.ID())
	cursor := env.session.History()
	assert.False(t, cursor.Loading)
	assert.False(t, cursor.CanLoadOlder)

	env.deliver(t, "%s", memberPresence("Bob", "bob@chat.local", ""))
	require.Len(t, env.session.Members(), 2)

	env.deliver(t, `<presence from="%s" type="unavailable"/>`, roomJID)
	assert.False(t, env.session.Ready())
	assert.Len(t, env.session.Members(), 1)
	assert.Equal(t, domain.StateJoined, env.session.State())
}

func TestRoomSession_NicknameCollisionRetryIsBounded(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.MaxNicknameRetries = 2 })
	require.NoError(t, env.session.Connect())

	env.deliver(t, collisionError, roomJID, "Alice", "id-1")
	presences := env.sender.Named("presence")
	require.Len(t, presences, 2, "exactly one retry per collision")
	assert.Equal(t, roomJID+"/Alice_1", presences[1].Attr("to"))
	assert.Equal(t, "Alice_1", env.session.Nickname())

	env.deliver(t, collisionError, roomJID, "Alice_1", presences[1].ID())
	require.Len(t, env.sender.Named("presence"), 3)

	env.deliver(t, collisionError, roomJID, "Alice_2", env.sender.Last().ID())
	assert.Len(t, env.sender.Named("presence"), 3)
	assert.Equal(t, domain.StateClosed, env.session.State())
	assert.ErrorIs(t, env.session.Err(), domain.ErrNicknameRetriesExhausted)

	var closed *Event
	for i := range *env.events {
		if (*env.events)[i].Kind == EventClosed {
			closed = &(*env.events)[i]
		}
	}
	require.NotNil(t, closed)
	assert.ErrorIs(t, closed.Err, domain.ErrNicknameRetriesExhausted)
}

func TestRoomSession_BanClosesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)

	env.deliver(t, `<presence from="%s/Alice" type="error"><error type="auth"><forbidden xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/>
<text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">You have been banned from this room</text></error></presence>`, roomJID)

	assert.Equal(t, domain.StateClosed, env.session.State())
	assert.ErrorIs(t, env.session.Err(), domain.ErrBanned)

	_, err := env.session.SendMessage(OutgoingMessage{Body: "hi"})
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.ErrorIs(t, env.session.Connect(), domain.ErrSessionClosed)

	env.deliver(t, "%s", memberPresence("Bob", "bob@chat.local", ""))
	assert.Len(t, env.session.Members(), 1)
}

func TestRoomSession_OwnNicknameUnavailableRejoins(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)
	require.Len(t, env.sender.Named("presence"), 1)

	env.deliver(t, `<presence from="%s/Alice" type="unavailable">
<x xmlns="http://jabber.org/protocol/muc#user"><item jid="%s"/></x></presence>`, roomJID, selfJID)

	assert.Equal(t, domain.StatusAvailable, env.session.Self().Status)

	env.clock.Advance(DefaultRejoinDelay - time.Millisecond)
	assert.Len(t, env.sender.Named("presence"), 1)

	env.clock.Advance(time.Millisecond)
	assert.Len(t, env.sender.Named("presence"), 2)
}

func TestRoomSession_UnavailableMember(t *testing.T) {
	unavailable := `<presence from="%s/%s" type="unavailable">
<x xmlns="http://jabber.org/protocol/muc#user"><item jid="%s"/></x></presence>`

	t.Run("subscribed member is kept offline", func(t *testing.T) {
		env := newTestEnv(t, func(c *Config) { c.Subscribe = true })
		env.deliver(t, "%s", memberPresence("Bob", "bob@chat.local", `<user isMember="true" color="#00f"/>`))
		env.deliver(t, "%s", memberPresence("Carol", "carol@chat.local", ""))

		env.deliver(t, unavailable, roomJID, "Bob", "bob@chat.local")
		env.deliver(t, unavailable, roomJID, "Carol", "carol@chat.local")

		bob, ok := env.session.Member("bob@chat.local")
		require.True(t, ok)
		assert.Equal(t, domain.StatusDisconnected, bob.Status)
		assert.Equal(t, "#00f", bob.Color)
		_, ok = env.session.Member("carol@chat.local")
		assert.False(t, ok)
	})

	t.Run("without own subscription members vanish", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.deliver(t, "%s", memberPresence("Bob", "bob@chat.local", `<user isMember="true"/>`))

		env.deliver(t, unavailable, roomJID, "Bob", "bob@chat.local")

		_, ok := env.session.Member("bob@chat.local")
		assert.False(t, ok)
	})
}

func TestRoomSession_OccupantsWithoutRealJID(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)

	anonymous := `<presence from="%s/%s"%s>
<x xmlns="http://jabber.org/protocol/muc#user"><item role="participant"/></x></presence>`
	env.deliver(t, anonymous, roomJID, "Bob", "")
	env.deliver(t, anonymous, roomJID, "Carol", "")

	assert.Len(t, env.session.Members(), 3)
	bob, ok := env.session.Member(roomJID + "/bob")
	require.True(t, ok)
	assert.Equal(t, "Bob", bob.Name)
	carol, ok := env.session.Member(roomJID + "/carol")
	require.True(t, ok)
	assert.Equal(t, "Carol", carol.Name)

	env.deliver(t, anonymous, roomJID, "Bob", ` type="unavailable"`)

	assert.Len(t, env.session.Members(), 2)
	_, ok = env.session.Member(roomJID + "/bob")
	assert.False(t, ok)
	_, ok = env.session.FindByName("Carol")
	assert.True(t, ok)
}

func TestRoomSession_PresenceAndChatStateMerge(t *testing.T) {
	env := newTestEnv(t, nil)
	env.deliver(t, `<presence from="%s/Bob">
<x xmlns="http://jabber.org/protocol/muc#user"><item jid="bob@chat.local/web" role="moderator"/></x>
<room playUri="https://play/w" name="World"/><user uuid="u-bob" color="#00f" woka="w" availabilityStatus="1"/></presence>`, roomJID)

	env.deliver(t, `<message type="groupchat" from="%s/Bob"><composing xmlns="http://jabber.org/protocol/chatstates"/></message>`, roomJID)

	bob, ok := env.session.FindByName("Bob")
	require.True(t, ok)
	assert.Equal(t, domain.ChatComposing, bob.ChatState)
	assert.Equal(t, "#00f", bob.Color)
	assert.True(t, bob.IsAdmin)
	assert.Equal(t, 1, bob.Availability)

	byUUID, ok := env.session.MemberByUUID("u-bob")
	require.True(t, ok)
	assert.Equal(t, "bob@chat.local", byUUID.JID)
	assert.Empty(t, env.session.Messages())
}

func TestRoomSession_ComposingFallsBackToPaused(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)

	paused := func() int {
		n := 0
		for _, m := range env.sender.Named("message") {
			if m.Child("paused", stanza.NSChatStates) != nil {
				n++
			}
		}
		return n
	}

	require.NoError(t, env.session.SetChatActivity(domain.ChatComposing))
	env.clock.Advance(3 * time.Second)
	require.NoError(t, env.session.SetChatActivity(domain.ChatComposing))
	env.clock.Advance(3 * time.Second)
	assert.Zero(t, paused())

	env.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, paused())

	assert.ErrorIs(t, env.session.SetChatActivity("dancing"), domain.ErrInvalidChatState)
}

func TestRoomSession_LateComposingCallbackIsDropped(t *testing.T) {
	lc := &lateClock{FakeClock: clock.Fake(t0)}
	env := newTestEnvWithClock(t, lc, lc.FakeClock, nil)
	env.join(t)

	states := func() []string {
		var out []string
		for _, m := range env.sender.Named("message") {
			for _, c := range m.Children {
				if c.Space == stanza.NSChatStates {
					out = append(out, c.Name)
				}
			}
		}
		return out
	}

	require.NoError(t, env.session.SetChatActivity(domain.ChatComposing))
	env.clock.Advance(DefaultComposingTimeout)
	require.NoError(t, env.session.SetChatActivity(domain.ChatComposing))
	lc.RunLate()
	assert.Equal(t, []string{"composing", "composing"}, states())

	env.clock.Advance(DefaultComposingTimeout)
	lc.RunLate()
	assert.Equal(t, []string{"composing", "composing", "paused"}, states())
}

func TestRoomSession_LateRejoinCallbackIsDropped(t *testing.T) {
	lc := &lateClock{FakeClock: clock.Fake(t0)}
	env := newTestEnvWithClock(t, lc, lc.FakeClock, nil)
	env.join(t)

	selfGone := `<presence from="%s/Alice" type="unavailable">
<x xmlns="http://jabber.org/protocol/muc#user"><item jid="%s"/></x></presence>`
	env.deliver(t, selfGone, roomJID, selfJID)
	env.clock.Advance(DefaultRejoinDelay)
	env.deliver(t, selfGone, roomJID, selfJID)
	lc.RunLate()
	assert.Len(t, env.sender.Named("presence"), 1)

	env.clock.Advance(DefaultRejoinDelay)
	lc.RunLate()
	assert.Len(t, env.sender.Named("presence"), 2)
}

func TestRoomSession_SendMessageAckAndTimeout(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)

	msg, err := env.session.SendMessage(OutgoingMessage{Body: "hi"})
	require.NoError(t, err)
	assert.False(t, msg.Delivered)
	assert.Equal(t, domain.MessagePlain, msg.Kind)

	env.deliver(t, `<message type="groupchat" from="%s/Alice" id="%s"><body>hi</body></message>`, roomJID, msg.ID)
	msgs := env.session.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Delivered)

	second, err := env.session.SendMessage(OutgoingMessage{Body: "lost"})
	require.NoError(t, err)
	env.clock.Advance(DefaultDeliveryTimeout)

	msgs = env.session.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Error)
	assert.True(t, msgs[1].Error)

	var timeout *Event
	for i := range *env.events {
		if (*env.events)[i].Kind == EventDeliveryTimeout {
			timeout = &(*env.events)[i]
		}
	}
	require.NotNil(t, timeout)
	assert.Equal(t, []string{second.ID}, timeout.MessageIDs)

	_, err = env.session.SendMessage(OutgoingMessage{Body: "  "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestRoomSession_InboundNotifiesOnlyWhenInactive(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)

	env.clock.Advance(time.Second)
	env.deliver(t, `<message type="groupchat" from="%s/Bob" id="m1"><body>ping</body></message>`, roomJID)
	assert.Equal(t, 1, env.notifier.Len())
	assert.Equal(t, 1, env.session.Unseen())

	env.session.SetActive(true)
	assert.Zero(t, env.session.Unseen())

	env.clock.Advance(time.Second)
	env.deliver(t, `<message type="groupchat" from="%s/Bob" id="m2"><body>pong</body></message>`, roomJID)
	assert.Equal(t, 1, env.notifier.Len())
	assert.Zero(t, env.session.Unseen())
}

func TestRoomSession_ReactionToggle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)
	env.deliver(t, `<message type="groupchat" from="%s/Bob" id="m1"><body>ping</body></message>`, roomJID)

	var ops []domain.ReactionOp
	for range 3 {
		r, err := env.session.SendReaction("👍", "m1")
		require.NoError(t, err)
		ops = append(ops, r.Op)

		sent := env.sender.Last().Child("reaction", stanza.NSReaction)
		require.NotNil(t, sent)
		assert.Equal(t, string(r.Op), sent.Attr("action"))
		assert.Equal(t, roomJID+"/Bob", sent.Attr("to"))
	}
	assert.Equal(t, []domain.ReactionOp{domain.ReactionAdd, domain.ReactionRemove, domain.ReactionAdd}, ops)
	assert.True(t, env.session.HasReacted("m1", "👍"))

	first := env.session.Reactions("m1")[0]
	env.deliver(t, `<message type="groupchat" from="%s/Alice" id="%s"><body>👍</body>
<reaction xmlns="urn:xmpp:reaction:0" id="m1" from="%s" action="add"/></message>`, roomJID, first.ID, selfJID)
	assert.Len(t, env.session.Reactions("m1"), 3)

	_, err := env.session.SendReaction("👍", "missing")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
}

func TestRoomSession_RequestOlderHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)

	env.deliver(t, `<message from="%s"><result xmlns="urn:xmpp:mam:2" id="r1"><forwarded xmlns="urn:xmpp:forward:0">
<delay xmlns="urn:xmpp:delay" stamp="2024-03-01T11:00:00Z"/>
<message xmlns="jabber:client" type="groupchat" from="%s/Bob" id="old1"><body>old</body></message>
</forwarded></result></message>`, roomJID, roomJID)
	require.Len(t, env.session.Messages(), 1)

	require.NoError(t, env.session.RequestOlderHistory())
	q := env.sender.Last()
	fields := q.Child("query", stanza.NSMAM).Child("x", stanza.NSDataForm).ChildrenNamed("field")
	require.Len(t, fields, 2)
	assert.Equal(t, "2024-03-01T11:00:00Z", fields[1].ChildText("value"))

	env.deliver(t, `<iq type="result" from="%s" id="%s"><fin xmlns="urn:xmpp:mam:2">
<set xmlns="http://jabber.org/protocol/rsm"><count>50</count></set></fin></iq>`, roomJID, q.ID())
	assert.True(t, env.session.History().CanLoadOlder)

	require.NoError(t, env.session.RequestOlderHistory())
	env.deliver(t, `<iq type="result" from="%s" id="%s"><fin xmlns="urn:xmpp:mam:2" complete="false">
<set xmlns="http://jabber.org/protocol/rsm"><count>7</count></set></fin></iq>`, roomJID, env.sender.Last().ID())

	cursor := env.session.History()
	assert.False(t, cursor.CanLoadOlder)
	assert.True(t, cursor.Restricted)
	assert.ErrorIs(t, env.session.RequestOlderHistory(), domain.ErrHistoryExhausted)
}

func TestRoomSession_RemoveDeleteResend(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)

	msg, err := env.session.SendMessage(OutgoingMessage{Body: "oops"})
	require.NoError(t, err)

	require.NoError(t, env.session.RemoveMessage(msg.ID))
	assert.Equal(t, msg.ID, env.sender.Last().Child("remove", stanza.NSMessageDelete).Attr("origin_id"))

	env.deliver(t, `<message type="groupchat" from="%s/Alice" id="x9"><remove xmlns="urn:xmpp:message-delete:0" origin_id="%s"/><body/></message>`,
		roomJID, msg.ID)
	assert.Equal(t, []string{msg.ID}, env.session.Deleted())

	env.clock.Advance(DefaultDeliveryTimeout)
	require.True(t, env.session.Messages()[0].Error)

	resent, err := env.session.ResendMessage(msg.ID)
	require.NoError(t, err)
	assert.NotEqual(t, msg.ID, resent.ID)
	assert.Equal(t, "oops", resent.Body)

	msgs := env.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, resent.ID, msgs[0].ID)
	assert.False(t, msgs[0].Error)

	assert.ErrorIs(t, env.session.DeleteMessage("missing"), domain.ErrMessageNotFound)
	require.NoError(t, env.session.DeleteMessage(resent.ID))
	assert.Empty(t, env.session.Messages())
}

func TestRoomSession_DisconnectCancelsTimers(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)

	_, err := env.session.SendMessage(OutgoingMessage{Body: "hi"})
	require.NoError(t, err)
	require.NoError(t, env.session.SetChatActivity(domain.ChatComposing))
	require.Equal(t, 2, env.clock.PendingCount())

	require.NoError(t, env.session.Disconnect())

	assert.Equal(t, domain.StateClosed, env.session.State())
	assert.NoError(t, env.session.Err())
	assert.Equal(t, "unavailable", env.sender.Last().Type())
	assert.Zero(t, env.clock.PendingCount())

	sent := env.sender.Len()
	env.clock.Advance(time.Minute)
	assert.Equal(t, sent, env.sender.Len())
	assert.False(t, env.session.Messages()[0].Error)
	assert.ErrorIs(t, env.session.Connect(), domain.ErrSessionClosed)
}

func TestRoomSession_AdminCommands(t *testing.T) {
	env := newTestEnv(t, nil)
	env.join(t)
	bob := stanza.MustJID("bob@chat.local/web")

	require.NoError(t, env.session.RankUp(bob))
	item := env.sender.Last().Child("query", stanza.NSMucAdmin).Child("item")
	assert.Equal(t, "admin", item.Attr("affiliation"))
	assert.Equal(t, "bob@chat.local", item.Attr("jid"))

	env.deliver(t, `<iq type="result" from="%s" id="%s"/>`, roomJID, env.sender.Last().ID())
	assert.True(t, env.hasEvent(EventAffiliationChanged))

	require.NoError(t, env.session.RankDown(bob))
	assert.Equal(t, "none", env.sender.Last().Child("query", stanza.NSMucAdmin).Child("item").Attr("affiliation"))

	require.NoError(t, env.session.Ban(bob, "spam"))
	item = env.sender.Last().Child("query", stanza.NSMucAdmin).Child("item")
	assert.Equal(t, "outcast", item.Attr("affiliation"))
	assert.Equal(t, "spam", item.ChildText("reason"))

	assert.ErrorIs(t, env.session.Ban(stanza.JID{}, ""), stanza.ErrInvalidJID)

	require.NoError(t, env.session.DestroyRoom())
	env.deliver(t, `<iq type="result" from="%s" id="%s"/>`, roomJID, env.sender.Last().ID())
	assert.True(t, env.hasEvent(EventRoomDestroyed))
}

func TestRoomSession_SubjectSetsDescription(t *testing.T) {
	env := newTestEnv(t, nil)
	env.deliver(t, `<message type="groupchat" from="%s"><subject>Weekly sync</subject></message>`, roomJID)

	assert.Equal(t, "Weekly sync", env.session.Description())
	assert.True(t, env.hasEvent(EventDescriptionChanged))
}
