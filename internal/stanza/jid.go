package stanza

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meszmate/xmpp-go/jid"
)

var ErrInvalidJID = errors.New("stanza: invalid jid")

// JID: адрес local@domain/resource, нормализованный по RFC 7622.
// Local и домен приводятся к нижнему регистру, ресурс (ник) сохраняет регистр.
type JID struct {
	jid.JID
}

func ParseJID(s string) (JID, error) {
	j, err := jid.Parse(strings.TrimSpace(s))
	if err != nil {
		return JID{}, fmt.Errorf("%w: %w", ErrInvalidJID, err)
	}
	return JID{j}, nil
}

// MustJID: для констант и тестов.
func MustJID(s string) JID {
	j, err := ParseJID(s)
	if err != nil {
		panic(err)
	}
	return j
}

// JIDFrom: разбор без ошибки: невалидный адрес даёт нулевой JID.
func JIDFrom(s string) JID {
	j, _ := ParseJID(s)
	return j
}

func (j JID) Bare() JID { return JID{j.JID.Bare()} }

func (j JID) WithResource(r string) JID { return JID{j.JID.WithResource(r)} }

// Key: bare JID, ключ ростера.
func (j JID) Key() string {
	return j.Bare().String()
}

// FullKey: полный JID в нижнем регистре. Ключ участника, чей реальный JID
// комната не раскрывает.
func (j JID) FullKey() string {
	return strings.ToLower(j.String())
}
