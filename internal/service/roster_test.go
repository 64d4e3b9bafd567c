package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwrk-planet/muc-session/internal/domain"
)

func newTestRoster(sizes *[]int) *Roster {
	return NewRoster(domain.Member{JID: "Alice@chat.local", Name: "Alice"}, func(n int) {
		if sizes != nil {
			*sizes = append(*sizes, n)
		}
	})
}

func TestRoster_MergeIdempotence(t *testing.T) {
	r := newTestRoster(nil)
	u := domain.MemberUpdate{
		JID:    "bob@chat.local",
		Name:   domain.Some("Bob"),
		Color:  domain.Some("#00f"),
		Status: domain.Some(domain.StatusAvailable),
	}

	once := r.Apply(u)
	twice := r.Apply(u)

	assert.Equal(t, once, twice)
	assert.Equal(t, 2, r.Len())
}

func TestRoster_LastKnownValueMerge(t *testing.T) {
	r := newTestRoster(nil)
	r.Apply(domain.MemberUpdate{
		JID:   "bob@chat.local",
		Name:  domain.Some("Bob"),
		UUID:  domain.Some("u-bob"),
		Color: domain.Some("#00f"),
		Woka:  domain.Some("woka-bob"),
	})

	got := r.Apply(domain.MemberUpdate{JID: "bob@chat.local", ChatState: domain.Some(domain.ChatComposing)})

	assert.Equal(t, domain.ChatComposing, got.ChatState)
	assert.Equal(t, "#00f", got.Color)
	assert.Equal(t, "woka-bob", got.Woka)
	assert.Equal(t, "u-bob", got.UUID)
}

func TestRoster_SelfIsSeededAndKept(t *testing.T) {
	var sizes []int
	r := newTestRoster(&sizes)

	self := r.Self()
	assert.True(t, self.IsMe)
	assert.Equal(t, "alice@chat.local", self.JID)
	assert.Equal(t, domain.StatusDisconnected, self.Status)

	assert.False(t, r.Remove("ALICE@chat.local"))
	r.Apply(domain.MemberUpdate{JID: "bob@chat.local"})
	assert.True(t, r.Remove("bob@chat.local"))
	assert.False(t, r.Remove("bob@chat.local"))

	r.Apply(domain.MemberUpdate{JID: "carol@chat.local"})
	r.Reset()
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []int{2, 1, 2, 1}, sizes)
}

func TestRoster_Lookups(t *testing.T) {
	r := newTestRoster(nil)
	r.Apply(domain.MemberUpdate{
		JID:      "bob@chat.local",
		Name:     domain.Some("Bob"),
		UUID:     domain.Some("u-bob"),
		IsAdmin:  domain.Some(true),
		IsMember: domain.Some(true),
	})

	m, ok := r.FindByName("Bob")
	require.True(t, ok)
	assert.Equal(t, "bob@chat.local", m.JID)

	_, ok = r.FindByUUID("u-bob")
	assert.True(t, ok)
	_, ok = r.FindByUUID("")
	assert.False(t, ok)

	assert.True(t, r.IsAdmin("Bob@chat.local"))
	assert.True(t, r.IsMember("bob@chat.local"))
	assert.False(t, r.IsMember("nobody@chat.local"))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Alice", list[0].Name)
	assert.Equal(t, "Bob", list[1].Name)
}
