// Package clock даёт подменяемое время для таймеров сессии.
// В проде Real(), в тестах Fake() с ручным Advance.
package clock

import "time"

type Clock interface {
	Now() time.Time
	// AfterFunc вызывает f через d. Возвращённый Timer можно остановить или перезапустить.
	AfterFunc(d time.Duration, f func()) *Timer
}

type Timer struct {
	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop возвращает true, если таймер ещё не сработал и был остановлен.
func (t *Timer) Stop() bool { return t.stopFunc() }

func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }

// Real: обёртка над пакетом time.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stopFunc: t.Stop, resetFunc: t.Reset}
}
