package postgres

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"

	"github.com/cwrk-planet/muc-session/internal/domain"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProfileRepository читает профиль пользователя, от имени которого идёт вход в комнаты.
//
//	CREATE TABLE profiles (
//	    uuid           text PRIMARY KEY,
//	    name           text NOT NULL,
//	    play_uri       text NOT NULL DEFAULT '',
//	    room_name      text NOT NULL DEFAULT '',
//	    woka           text NOT NULL DEFAULT '',
//	    color          text NOT NULL DEFAULT '',
//	    visit_card_url text NOT NULL DEFAULT '',
//	    availability   int  NOT NULL DEFAULT 1,
//	    logged_in      bool NOT NULL DEFAULT false
//	);
type ProfileRepository struct {
	db querier
}

func NewProfileRepository(db querier) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) Get(ctx context.Context, uuid string) (domain.Identity, error) {
	query := `
		SELECT uuid, name, play_uri, room_name, woka, color, visit_card_url, availability, logged_in
		FROM profiles
		WHERE uuid=$1`

	var id domain.Identity
	err := r.db.QueryRow(ctx, query, uuid).Scan(
		&id.UUID, &id.Name, &id.PlayURI, &id.RoomName, &id.Woka,
		&id.Color, &id.VisitCardURL, &id.Availability, &id.LoggedIn,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, domain.ErrProfileNotFound
		}
		return domain.Identity{}, err
	}
	return id, nil
}

// ProfileSource: снимок профиля для сессий; Identity() не ходит в базу.
type ProfileSource struct {
	repo *ProfileRepository
	uuid string
	snap atomic.Pointer[domain.Identity]
	log  *slog.Logger
}

func NewProfileSource(repo *ProfileRepository, uuid string, fallback domain.Identity, logger *slog.Logger) *ProfileSource {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ProfileSource{repo: repo, uuid: uuid, log: logger}
	s.snap.Store(&fallback)
	return s
}

func (s *ProfileSource) Identity() domain.Identity { return *s.snap.Load() }

// Refresh перечитывает профиль; при ошибке остаётся прежний снимок.
func (s *ProfileSource) Refresh(ctx context.Context) error {
	id, err := s.repo.Get(ctx, s.uuid)
	if err != nil {
		s.log.Warn("profile refresh failed", slog.String("uuid", s.uuid), slog.Any("err", err))
		return err
	}
	s.snap.Store(&id)
	return nil
}
