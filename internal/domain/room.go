package domain

import "fmt"

// RoomType: тип комнаты из определения MUC-комнаты.
type RoomType string

const (
	RoomDefault RoomType = "default"
	RoomLive    RoomType = "live"
	RoomForum   RoomType = "forum"
)

type SessionState int

const (
	StateDisconnected SessionState = iota
	StateJoining
	StateJoined
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// HistoryCursor: состояние подгрузки архива.
type HistoryCursor struct {
	CanLoadOlder     bool   `json:"canLoadOlder"`
	DisabledByServer bool   `json:"disabledByServer"`
	Restricted       bool   `json:"restricted"`
	MaxHistoryDate   string `json:"maxHistoryDate,omitempty"`
	LastPageSize     int    `json:"lastPageSize"`
	Loading          bool   `json:"loading"`
}
