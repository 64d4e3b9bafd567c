package domain

import "errors"

var (
	ErrSessionClosed            = errors.New("room session is closed")
	ErrBanned                   = errors.New("banned from the room")
	ErrNicknameRetriesExhausted = errors.New("nickname collision retries exhausted")
	ErrRoomNotFound             = errors.New("room not found")
	ErrRoomExists               = errors.New("room already registered")
	ErrMessageNotFound          = errors.New("message not found")
	ErrHistoryExhausted         = errors.New("no older history can be loaded")
	ErrEmptyMessage             = errors.New("empty message")
	ErrProfileNotFound          = errors.New("profile not found")
	ErrInvalidChatState         = errors.New("invalid chat state")
)
