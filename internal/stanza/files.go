package stanza

import (
	"strconv"

	"github.com/cwrk-planet/muc-session/internal/domain"
)

// AttachmentCodec кодирует вложения в подэлемент сообщения и обратно.
type AttachmentCodec interface {
	Encode(files []domain.Attachment) *Element
	Decode(el *Element) []domain.Attachment
}

// FilesCodec: <files><file name=".." url=".." mimeType=".." size=".."/></files>.
type FilesCodec struct{}

func (FilesCodec) Encode(files []domain.Attachment) *Element {
	if len(files) == 0 {
		return nil
	}
	el := New("files")
	for _, f := range files {
		fe := New("file").
			Set("name", f.Name).
			Set("url", f.URL).
			Set("mimeType", f.MimeType)
		if f.Size > 0 {
			fe.Set("size", strconv.FormatInt(f.Size, 10))
		}
		el.Append(fe)
	}
	return el
}

func (FilesCodec) Decode(el *Element) []domain.Attachment {
	if el == nil {
		return nil
	}
	var out []domain.Attachment
	for _, fe := range el.ChildrenNamed("file") {
		size, _ := strconv.ParseInt(fe.Attr("size"), 10, 64)
		out = append(out, domain.Attachment{
			Name:     fe.Attr("name"),
			URL:      fe.Attr("url"),
			MimeType: fe.Attr("mimeType"),
			Size:     size,
		})
	}
	return out
}
