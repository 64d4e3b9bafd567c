package service

import (
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/cwrk-planet/muc-session/internal/domain"
)

// Roster: участники одной комнаты по ключу bare JID в нижнем регистре.
// Не потокобезопасен: доступ сериализует RoomSession.
type Roster struct {
	selfKey string
	members map[string]domain.Member
	onSize  func(int)
}

// NewRoster создаёт ростер с уже заведённой записью self.
func NewRoster(self domain.Member, onSize func(int)) *Roster {
	if onSize == nil {
		onSize = func(int) {}
	}
	self.JID = strings.ToLower(self.JID)
	self.IsMe = true
	if self.Status == "" {
		self.Status = domain.StatusDisconnected
	}
	r := &Roster{
		selfKey: self.JID,
		members: map[string]domain.Member{self.JID: self},
		onSize:  onSize,
	}
	return r
}

// Apply сливает наблюдение с последним известным состоянием участника.
func (r *Roster) Apply(u domain.MemberUpdate) domain.Member {
	key := strings.ToLower(u.JID)
	prev, ok := r.members[key]
	if !ok {
		prev = domain.Member{JID: key, Status: domain.StatusDisconnected}
	}
	m := u.Merge(prev)
	m.IsMe = key == r.selfKey
	r.members[key] = m
	r.onSize(len(r.members))
	return m
}

// Remove удаляет участника. Свою запись удалить нельзя.
func (r *Roster) Remove(key string) bool {
	key = strings.ToLower(key)
	if key == r.selfKey {
		return false
	}
	if _, ok := r.members[key]; !ok {
		return false
	}
	delete(r.members, key)
	r.onSize(len(r.members))
	return true
}

// Reset оставляет только свою запись.
func (r *Roster) Reset() {
	self := r.members[r.selfKey]
	r.members = map[string]domain.Member{r.selfKey: self}
	r.onSize(len(r.members))
}

func (r *Roster) Get(key string) (domain.Member, bool) {
	m, ok := r.members[strings.ToLower(key)]
	return m, ok
}

func (r *Roster) Self() domain.Member { return r.members[r.selfKey] }

func (r *Roster) SelfKey() string { return r.selfKey }

func (r *Roster) IsMember(key string) bool {
	m, ok := r.Get(key)
	return ok && m.IsMember
}

func (r *Roster) IsAdmin(key string) bool {
	m, ok := r.Get(key)
	return ok && m.IsAdmin
}

// FindByName: поиск по нику в комнате.
func (r *Roster) FindByName(name string) (domain.Member, bool) {
	return lo.Find(lo.Values(r.members), func(m domain.Member) bool { return m.Name == name })
}

func (r *Roster) FindByUUID(uuid string) (domain.Member, bool) {
	if uuid == "" {
		return domain.Member{}, false
	}
	return lo.Find(lo.Values(r.members), func(m domain.Member) bool { return m.UUID == uuid })
}

func (r *Roster) Len() int { return len(r.members) }

// List: копия ростера, отсортированная по нику, затем по JID.
func (r *Roster) List() []domain.Member {
	out := lo.Values(r.members)
	slices.SortFunc(out, func(a, b domain.Member) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.JID, b.JID)
	})
	return out
}
