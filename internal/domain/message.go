package domain

import "time"

type MessageKind string

const (
	MessagePlain MessageKind = "message"
	MessageReply MessageKind = "reply"
)

// Attachment: непрозрачное вложение; кодирование делает AttachmentCodec.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ReplyTarget: краткая копия сообщения, на которое отвечают.
type ReplyTarget struct {
	ID         string       `json:"id"`
	To         string       `json:"to"`
	SenderName string       `json:"senderName"`
	Body       string       `json:"body"`
	Files      []Attachment `json:"files,omitempty"`
}

type Message struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	JID       string       `json:"jid"`
	From      string       `json:"from"`
	Body      string       `json:"body"`
	Time      time.Time    `json:"time"`
	Delivered bool         `json:"delivered"`
	Error     bool         `json:"error"`
	Kind      MessageKind  `json:"type"`
	Reply     *ReplyTarget `json:"targetMessageReply,omitempty"`
	Files     []Attachment `json:"files,omitempty"`
	Mentions  []Member     `json:"mentions,omitempty"`
}

type ReactionOp string

const (
	ReactionAdd    ReactionOp = "add"
	ReactionRemove ReactionOp = "remove"
)

type Reaction struct {
	ID        string     `json:"id"`
	MessageID string     `json:"message"`
	From      string     `json:"from"`
	Emoji     string     `json:"emoji"`
	Op        ReactionOp `json:"operation"`
}
