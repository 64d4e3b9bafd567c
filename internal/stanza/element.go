// Package stanza описывает дерево XML-элементов станз и перевод их в события комнаты
// и обратно. Покрывает только подмножество XMPP, нужное профилю MUC-комнаты.
package stanza

import (
	"strings"
)

type Attr struct {
	Name  string
	Value string
}

// Element: один XML-элемент. Space хранит его пространство имён (xmlns).
type Element struct {
	Name     string
	Space    string
	Attrs    []Attr
	Children []*Element
	Text     string
}

// New создаёт элемент без пространства имён (наследует родительское).
func New(name string) *Element {
	return &Element{Name: name}
}

// NS создаёт элемент со своим xmlns.
func NS(name, space string) *Element {
	return &Element{Name: name, Space: space}
}

// Set задаёт атрибут. Пустое значение атрибут не добавляет.
func (e *Element) Set(name, value string) *Element {
	if value == "" {
		return e
	}
	for i := range e.Attrs {
		if e.Attrs[i].Name == name {
			e.Attrs[i].Value = value
			return e
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
	return e
}

func (e *Element) SetText(text string) *Element {
	e.Text = text
	return e
}

// Append добавляет дочерние элементы, nil пропускаются.
func (e *Element) Append(children ...*Element) *Element {
	for _, c := range children {
		if c != nil {
			e.Children = append(e.Children, c)
		}
	}
	return e
}

func (e *Element) LookupAttr(name string) (string, bool) {
	if e == nil {
		return "", false
	}
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (e *Element) Attr(name string) string {
	v, _ := e.LookupAttr(name)
	return v
}

// Child: первый дочерний элемент с именем name; если передан space,
// совпадать должно и пространство имён.
func (e *Element) Child(name string, space ...string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Name != name {
			continue
		}
		if len(space) > 0 && c.Space != space[0] {
			continue
		}
		return c
	}
	return nil
}

// ChildByNS: первый дочерний элемент из пространства имён space.
func (e *Element) ChildByNS(space string) *Element {
	if e == nil {
		return nil
	}
	for _, c := range e.Children {
		if c.Space == space {
			return c
		}
	}
	return nil
}

func (e *Element) ChildrenNamed(name string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, c := range e.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

func (e *Element) ChildText(name string, space ...string) string {
	c := e.Child(name, space...)
	if c == nil {
		return ""
	}
	return c.Text
}

func (e *Element) ID() string   { return e.Attr("id") }
func (e *Element) Type() string { return e.Attr("type") }

func (e *Element) String() string {
	var b strings.Builder
	e.write(&b, "")
	return b.String()
}

func (e *Element) write(b *strings.Builder, parentSpace string) {
	b.WriteByte('<')
	b.WriteString(e.Name)
	if e.Space != "" && e.Space != parentSpace {
		writeAttr(b, "xmlns", e.Space)
	}
	for _, a := range e.Attrs {
		writeAttr(b, a.Name, a.Value)
	}
	if e.Text == "" && len(e.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	escape(b, e.Text)

	space := e.Space
	if space == "" {
		space = parentSpace
	}
	for _, c := range e.Children {
		c.write(b, space)
	}
	b.WriteString("</")
	b.WriteString(e.Name)
	b.WriteByte('>')
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`="`)
	escape(b, value)
	b.WriteByte('"')
}

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escape(b *strings.Builder, s string) {
	_, _ = escaper.WriteString(b, s)
}
