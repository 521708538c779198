package app

import (
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrNoInvitation = errors.New("no such invitation")
	ErrTaken        = errors.New("invitation already answered")
)

type inviteKey struct {
	room   domain.RoomID
	caller domain.UserID
}

// Invite is a snapshot of one open invitation.
type Invite struct {
	ID         string
	RoomID     domain.RoomID
	Caller     domain.UserID
	FamilyID   domain.FamilyID
	Pending    []domain.UserID
	AnsweredBy domain.UserID
}

type invite struct {
	id         string
	family     domain.FamilyID
	pending    map[domain.UserID]struct{}
	answeredBy domain.UserID
}

func (i *invite) snapshot(k inviteKey) Invite {
	p := slices.Sorted(maps.Keys(i.pending))
	return Invite{
		ID:         i.id,
		RoomID:     k.room,
		Caller:     k.caller,
		FamilyID:   i.family,
		Pending:    p,
		AnsweredBy: i.answeredBy,
	}
}

// Role is how a user takes part in an invitation.
type Role int

const (
	RoleCaller Role = iota
	RolePending
	RoleAnswered
)

// Drop is an invitation a departing user was part of.
type Drop struct {
	Invite
	Role Role
}

// CallBook keeps the relay's view of open invitations, keyed by room and
// caller. A caller has at most one invitation per room.
type CallBook struct {
	mu      sync.Mutex
	invites map[inviteKey]*invite
}

func NewCallBook() *CallBook {
	return &CallBook{invites: make(map[inviteKey]*invite)}
}

// Open records a new invitation and returns the one it replaced, if any.
func (b *CallBook) Open(room domain.RoomID, caller domain.UserID, family domain.FamilyID, invitees []domain.UserID) (Invite, *Invite) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := inviteKey{room, caller}
	var prev *Invite
	if old, ok := b.invites[k]; ok {
		s := old.snapshot(k)
		prev = &s
	}
	inv := &invite{id: uuid.NewString(), family: family, pending: make(map[domain.UserID]struct{}, len(invitees))}
	for _, u := range invitees {
		inv.pending[u] = struct{}{}
	}
	b.invites[k] = inv
	return inv.snapshot(k), prev
}

// Accept marks the invitation answered by invitee. The first acceptance
// wins; later ones get ErrTaken. The returned snapshot lists the invitees
// still pending, who should be told the invitation is gone.
func (b *CallBook) Accept(room domain.RoomID, caller, invitee domain.UserID) (Invite, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := inviteKey{room, caller}
	inv, ok := b.invites[k]
	if !ok {
		return Invite{}, ErrNoInvitation
	}
	if inv.answeredBy != "" {
		return Invite{}, ErrTaken
	}
	if _, ok := inv.pending[invitee]; !ok {
		return Invite{}, ErrNoInvitation
	}
	delete(inv.pending, invitee)
	inv.answeredBy = invitee
	s := inv.snapshot(k)
	inv.pending = map[domain.UserID]struct{}{}
	return s, nil
}

// Reject removes invitee from the pending set. final reports that nobody is
// left to answer, in which case the invitation is closed.
func (b *CallBook) Reject(room domain.RoomID, caller, invitee domain.UserID) (final bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := inviteKey{room, caller}
	inv, ok := b.invites[k]
	if !ok {
		return false, ErrNoInvitation
	}
	if _, ok := inv.pending[invitee]; !ok {
		return false, ErrNoInvitation
	}
	delete(inv.pending, invitee)
	if len(inv.pending) == 0 && inv.answeredBy == "" {
		delete(b.invites, k)
		return true, nil
	}
	return false, nil
}

// Cancel closes the caller's invitation in room.
func (b *CallBook) Cancel(room domain.RoomID, caller domain.UserID) (Invite, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := inviteKey{room, caller}
	inv, ok := b.invites[k]
	if !ok {
		return Invite{}, false
	}
	delete(b.invites, k)
	return inv.snapshot(k), true
}

// End closes the answered invitation between a and b in room, whichever
// of them placed it.
func (b *CallBook) End(room domain.RoomID, a, c domain.UserID) (Invite, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range []inviteKey{{room, a}, {room, c}} {
		inv, ok := b.invites[k]
		if !ok {
			continue
		}
		other := c
		if k.caller == c {
			other = a
		}
		if inv.answeredBy == other {
			delete(b.invites, k)
			return inv.snapshot(k), true
		}
	}
	return Invite{}, false
}

// Get returns the invitation placed by caller in room.
func (b *CallBook) Get(room domain.RoomID, caller domain.UserID) (Invite, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := inviteKey{room, caller}
	inv, ok := b.invites[k]
	if !ok {
		return Invite{}, false
	}
	return inv.snapshot(k), true
}

// DropUser takes user out of every invitation in room (any room when room
// is empty). Invitations the user placed or answered are closed; pending
// ones behave as a rejection. Results are ordered by room then caller.
func (b *CallBook) DropUser(user domain.UserID, room domain.RoomID) []Drop {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Drop
	for k, inv := range b.invites {
		if room != "" && k.room != room {
			continue
		}
		switch {
		case k.caller == user:
			out = append(out, Drop{Invite: inv.snapshot(k), Role: RoleCaller})
			delete(b.invites, k)
		case inv.answeredBy == user:
			out = append(out, Drop{Invite: inv.snapshot(k), Role: RoleAnswered})
			delete(b.invites, k)
		default:
			if _, ok := inv.pending[user]; !ok {
				continue
			}
			delete(inv.pending, user)
			out = append(out, Drop{Invite: inv.snapshot(k), Role: RolePending})
			if len(inv.pending) == 0 && inv.answeredBy == "" {
				delete(b.invites, k)
			}
		}
	}
	slices.SortFunc(out, func(x, y Drop) int {
		if x.RoomID != y.RoomID {
			if x.RoomID < y.RoomID {
				return -1
			}
			return 1
		}
		if x.Caller < y.Caller {
			return -1
		}
		if x.Caller > y.Caller {
			return 1
		}
		return 0
	})
	return out
}

// Final reports whether a pending drop closed the invitation.
func (d Drop) Final() bool {
	return d.Role == RolePending && len(d.Pending) == 0 && d.AnsweredBy == ""
}
