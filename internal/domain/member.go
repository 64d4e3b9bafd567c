package domain

type MemberStatus string

const (
	StatusAvailable    MemberStatus = "available"
	StatusDisconnected MemberStatus = "disconnected"
)

// ChatState: XEP-0085.
type ChatState string

const (
	ChatActive    ChatState = "active"
	ChatComposing ChatState = "composing"
	ChatPaused    ChatState = "paused"
	ChatInactive  ChatState = "inactive"
	ChatGone      ChatState = "gone"
)

func (s ChatState) Valid() bool {
	switch s {
	case ChatActive, ChatComposing, ChatPaused, ChatInactive, ChatGone:
		return true
	}
	return false
}

// Member: участник комнаты. Ключ: bare JID в нижнем регистре.
type Member struct {
	JID          string       `json:"jid"`
	Name         string       `json:"name"`
	UUID         string       `json:"uuid"`
	PlayURI      string       `json:"playUri"`
	RoomName     string       `json:"roomName"`
	Color        string       `json:"color"`
	Woka         string       `json:"woka"`
	VisitCardURL string       `json:"visitCardUrl"`
	IsAdmin      bool         `json:"isAdmin"`
	IsMember     bool         `json:"isMember"`
	IsMe         bool         `json:"isMe"`
	Availability int          `json:"availabilityStatus"`
	ChatState    ChatState    `json:"chatState"`
	Status       MemberStatus `json:"status"`
}

func (m Member) Online() bool { return m.Status == StatusAvailable }

// MemberUpdate: одно наблюдение о присутствии. Незаданные поля не трогают
// прежние значения.
type MemberUpdate struct {
	JID          string
	Name         Opt[string]
	UUID         Opt[string]
	PlayURI      Opt[string]
	RoomName     Opt[string]
	Color        Opt[string]
	Woka         Opt[string]
	VisitCardURL Opt[string]
	IsAdmin      Opt[bool]
	IsMember     Opt[bool]
	Availability Opt[int]
	ChatState    Opt[ChatState]
	Status       Opt[MemberStatus]
}

// Merge применяет обновление поверх prev.
func (u MemberUpdate) Merge(prev Member) Member {
	return Member{
		JID:          prev.JID,
		Name:         u.Name.Or(prev.Name),
		UUID:         u.UUID.Or(prev.UUID),
		PlayURI:      u.PlayURI.Or(prev.PlayURI),
		RoomName:     u.RoomName.Or(prev.RoomName),
		Color:        u.Color.Or(prev.Color),
		Woka:         u.Woka.Or(prev.Woka),
		VisitCardURL: u.VisitCardURL.Or(prev.VisitCardURL),
		IsAdmin:      u.IsAdmin.Or(prev.IsAdmin),
		IsMember:     u.IsMember.Or(prev.IsMember),
		IsMe:         prev.IsMe,
		Availability: u.Availability.Or(prev.Availability),
		ChatState:    u.ChatState.Or(prev.ChatState),
		Status:       u.Status.Or(prev.Status),
	}
}
