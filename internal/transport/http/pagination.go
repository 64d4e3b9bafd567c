package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/muc-session/internal/domain"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor указывает на самое старое сообщение отданной страницы.
type Cursor struct {
	Time time.Time `json:"t"`
	ID   string    `json:"id"`
}

func EncodeCursor(c Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrInvalidCursor, err)
	}
	return &c, nil
}

// pageBefore: до limit сообщений строго старше курсора, по возрастанию
// времени. msgs уже отсортированы. Курсор следующей страницы пуст, если
// старее ничего нет.
func pageBefore(msgs []domain.Message, before *Cursor, limit int) ([]domain.Message, string, error) {
	end := len(msgs)
	if before != nil {
		end = -1
		for i, m := range msgs {
			if m.ID == before.ID {
				end = i
				break
			}
		}
		if end < 0 {
			end = 0
			for end < len(msgs) && msgs[end].Time.Before(before.Time) {
				end++
			}
		}
	}

	start := max(end-limit, 0)
	page := msgs[start:end]
	if start == 0 {
		return page, "", nil
	}
	next, err := EncodeCursor(Cursor{Time: msgs[start].Time, ID: msgs[start].ID})
	if err != nil {
		return nil, "", err
	}
	return page, next, nil
}
