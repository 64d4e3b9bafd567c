package stanza

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_KeepsNamespacesAndText(t *testing.T) {
	el, err := Parse([]byte(`<message xmlns="jabber:client" from="room@conf.local/bob" type="groupchat" id="m1">
<body>hi &amp; bye</body><composing xmlns="http://jabber.org/protocol/chatstates"/></message>`))
	require.NoError(t, err)

	assert.Equal(t, "message", el.Name)
	assert.Equal(t, NSClient, el.Space)
	assert.Equal(t, "m1", el.ID())
	assert.Equal(t, "hi & bye", el.ChildText("body"))
	assert.Equal(t, "composing", el.ChildByNS(NSChatStates).Name)
	assert.Nil(t, el.Child("body", NSMucUser))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(nil)
	require.ErrorIs(t, err, ErrEmptyStanza)

	_, err = Parse([]byte(`<message><body>`))
	require.Error(t, err)
}

func TestElement_StringRoundTrip(t *testing.T) {
	el := NS("iq", NSClient).Set("id", "q1").Set("type", "set").Append(
		NS("query", NSMAM).Append(New("value").SetText(`a<b>"c"`)),
	)

	out := el.String()
	assert.Equal(t,
		`<iq xmlns="jabber:client" id="q1" type="set"><query xmlns="urn:xmpp:mam:2"><value>a&lt;b&gt;&quot;c&quot;</value></query></iq>`,
		out)

	back, err := Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, NSMAM, back.Child("query").Space)
	assert.Equal(t, `a<b>"c"`, back.Child("query").ChildText("value"))
}

func TestElement_NilSafeAccessors(t *testing.T) {
	var el *Element
	assert.Nil(t, el.Child("x"))
	assert.Empty(t, el.Attr("id"))
	assert.Empty(t, el.ChildText("body"))
	assert.Nil(t, el.ChildrenNamed("item"))
}

func TestElement_SetSkipsEmptyAndReplaces(t *testing.T) {
	el := New("user").Set("color", "").Set("uuid", "a").Set("uuid", "b")
	require.Len(t, el.Attrs, 1)
	assert.Equal(t, "b", el.Attr("uuid"))
}

func TestJID(t *testing.T) {
	j, err := ParseJID(" Room@Conf.local/Bob ")
	require.NoError(t, err)
	assert.Equal(t, "room", j.Local())
	assert.Equal(t, "conf.local", j.Domain())
	assert.Equal(t, "Bob", j.Resource())
	assert.Equal(t, "room@conf.local", j.Key())
	assert.Equal(t, "room@conf.local/bob", j.FullKey())
	assert.Equal(t, "room@conf.local/alice", j.WithResource("alice").String())
	assert.True(t, j.Bare().Equal(MustJID("ROOM@conf.local").JID))

	_, err = ParseJID("")
	require.ErrorIs(t, err, ErrInvalidJID)
	_, err = ParseJID("user@/res")
	require.ErrorIs(t, err, ErrInvalidJID)
	_, err = ParseJID("room@conf.local/")
	require.ErrorIs(t, err, ErrInvalidJID)
	assert.True(t, JIDFrom("").IsZero())
}
