package app

import (
	"errors"
	"fmt"

	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/domain"
)

var ErrUnknownMember = errors.New("family member is not a known user")

// Directory knows every user the relay accepts and the families they form.
type Directory struct {
	users    map[domain.UserID]domain.User
	families map[domain.FamilyID]domain.Family
}

func NewDirectory(users []domain.User, families []config.Family) (*Directory, error) {
	d := &Directory{
		users:    make(map[domain.UserID]domain.User, len(users)),
		families: make(map[domain.FamilyID]domain.Family, len(families)),
	}
	for _, u := range users {
		d.users[u.ID] = u
	}
	for _, f := range families {
		if f.ID == "" {
			return nil, errors.New("family with empty id")
		}
		fam := domain.Family{ID: domain.FamilyID(f.ID)}
		for _, m := range f.Members {
			id := domain.UserID(m)
			if _, ok := d.users[id]; !ok {
				return nil, fmt.Errorf("family %q member %q: %w", f.ID, m, ErrUnknownMember)
			}
			fam.Members = append(fam.Members, id)
		}
		d.families[fam.ID] = fam
	}
	return d, nil
}

func (d *Directory) User(id domain.UserID) (domain.User, bool) {
	u, ok := d.users[id]
	return u, ok
}

func (d *Directory) Family(id domain.FamilyID) (domain.Family, bool) {
	f, ok := d.families[id]
	return f, ok
}
