package domain

import "errors"

const MaxRoomIDLen = 36

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

type (
	RoomID   string
	FamilyID string
)

func (id RoomID) Validate() error {
	if id == "" {
		return ErrRoomIDEmpty
	}
	if len(id) > MaxRoomIDLen {
		return ErrRoomIDTooLong
	}
	return nil
}

type Room struct {
	ID RoomID
}

// Family is a named group of users that can be called at once.
type Family struct {
	ID      FamilyID
	Members []UserID
}

func (f Family) Has(id UserID) bool {
	for _, m := range f.Members {
		if m == id {
			return true
		}
	}
	return false
}
