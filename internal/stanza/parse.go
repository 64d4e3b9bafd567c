package stanza

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

var ErrEmptyStanza = errors.New("stanza: empty document")

// Parse читает один элемент верхнего уровня.
func Parse(data []byte) (*Element, error) {
	return Decode(xml.NewDecoder(bytes.NewReader(data)))
}

// Decode читает следующий элемент из d целиком.
func Decode(d *xml.Decoder) (*Element, error) {
	var stack []*Element
	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(stack) > 0 {
					return nil, fmt.Errorf("stanza: unexpected EOF inside <%s>", stack[len(stack)-1].Name)
				}
				return nil, ErrEmptyStanza
			}
			return nil, fmt.Errorf("stanza: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			el := &Element{Name: t.Name.Local, Space: t.Name.Space}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				el.Attrs = append(el.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
			}
			if n := len(stack); n > 0 {
				stack[n-1].Children = append(stack[n-1].Children, el)
			}
			stack = append(stack, el)
		case xml.EndElement:
			n := len(stack)
			if n == 0 {
				return nil, fmt.Errorf("stanza: unexpected </%s>", t.Name.Local)
			}
			el := stack[n-1]
			stack = stack[:n-1]
			if len(stack) == 0 {
				return el, nil
			}
		case xml.CharData:
			if n := len(stack); n > 0 {
				stack[n-1].Text += string(t)
			}
		}
	}
}
