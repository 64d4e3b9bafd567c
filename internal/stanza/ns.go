package stanza

const (
	NSClient        = "jabber:client"
	NSMucUser       = "http://jabber.org/protocol/muc#user"
	NSMucAdmin      = "http://jabber.org/protocol/muc#admin"
	NSMucOwner      = "http://jabber.org/protocol/muc#owner"
	NSMucSub        = "urn:xmpp:mucsub:0"
	NSMAM           = "urn:xmpp:mam:2"
	NSDataForm      = "jabber:x:data"
	NSRSM           = "http://jabber.org/protocol/rsm"
	NSChatStates    = "http://jabber.org/protocol/chatstates"
	NSCaps          = "http://jabber.org/protocol/caps"
	NSDelay         = "urn:xmpp:delay"
	NSForward       = "urn:xmpp:forward:0"
	NSReply         = "urn:xmpp:reply:0"
	NSReaction      = "urn:xmpp:reaction:0"
	NSMessageDelete = "urn:xmpp:message-delete:0"
	NSStanzas       = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSFraming       = "urn:ietf:params:xml:ns:xmpp-framing"
)

// Узлы MUC/Sub, на которые подписывается участник.
var mucSubNodes = []string{
	"urn:xmpp:mucsub:nodes:subscribers",
	"urn:xmpp:mucsub:nodes:messages",
	"urn:xmpp:mucsub:nodes:config",
	"urn:xmpp:mucsub:nodes:presence",
	"urn:xmpp:mucsub:nodes:affiliations",
	"urn:xmpp:mucsub:nodes:system",
	"urn:xmpp:mucsub:nodes:subject",
}

// Тексты ошибок сервера, на которые реагирует сессия.
const (
	TextNicknameInUse = "That nickname is already in use by another occupant"
	TextBanned        = "You have been banned from this room"
)

// Роли, которые дают права администратора в комнате.
var adminRoles = []string{"admin", "moderator", "owner"}

// HistoryPageSize: размер страницы MAM-запроса.
const HistoryPageSize = 50
