package http

import (
	"errors"
	"net/http"

	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/stanza"
	"github.com/cwrk-planet/muc-session/internal/transport/ws"
)

var errInvalidInput = errors.New("invalid input")

func mapErr(err error) int {
	switch {
	case errors.Is(err, errInvalidInput),
		errors.Is(err, ErrInvalidCursor),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrInvalidChatState),
		errors.Is(err, stanza.ErrInvalidJID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrHistoryExhausted),
		errors.Is(err, domain.ErrRoomExists):
		return http.StatusConflict
	case errors.Is(err, ws.ErrClosed),
		errors.Is(err, ws.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
