package service

import (
	"time"

	"github.com/cwrk-planet/muc-session/internal/domain"
	"github.com/cwrk-planet/muc-session/internal/stanza"
)

// HistoryPager ведёт постраничную подгрузку архива назад во времени.
type HistoryPager struct {
	cursor domain.HistoryCursor
}

func NewHistoryPager() *HistoryPager {
	return &HistoryPager{cursor: domain.HistoryCursor{CanLoadOlder: true}}
}

func (p *HistoryPager) Cursor() domain.HistoryCursor { return p.cursor }

// RequestPage строит MAM-запрос страницы сообщений старше before.
func (p *HistoryPager) RequestPage(b stanza.Builder, id string, before time.Time) (*stanza.Element, error) {
	if !p.cursor.CanLoadOlder {
		return nil, domain.ErrHistoryExhausted
	}
	p.cursor.Loading = true
	return b.ArchiveQuery(id, before, stanza.HistoryPageSize), nil
}

// ApplyPageResult разбирает итог страницы: архив исчерпан, закрыт
// сервером или дальше есть история, но доступ к ней ограничен.
func (p *HistoryPager) ApplyPageResult(complete, maxHistoryDate string, disabled bool, count int) {
	defer func() { p.cursor.Loading = false }()
	p.cursor.LastPageSize = count

	if disabled {
		p.cursor.CanLoadOlder = false
		p.cursor.DisabledByServer = true
		return
	}
	if maxHistoryDate != "" {
		p.cursor.MaxHistoryDate = maxHistoryDate
		if !p.cursor.CanLoadOlder {
			p.cursor.Restricted = true
		}
		return
	}
	if count < stanza.HistoryPageSize {
		if complete == "false" || p.cursor.MaxHistoryDate != "" {
			p.cursor.Restricted = true
		}
		p.cursor.CanLoadOlder = false
	}
}

// Fail снимает флаг загрузки, если запрос вернулся ошибкой.
func (p *HistoryPager) Fail() { p.cursor.Loading = false }
