// Package auth maps bearer tokens presented on the signaling endpoint to users.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/domain"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrDuplicateToken = errors.New("duplicate token")
)

type Authenticator interface {
	Authenticate(token string) (*domain.User, error)
}

type account struct {
	token []byte
	user  domain.User
}

// StaticTokens authenticates against a fixed account list from config.
type StaticTokens struct {
	accounts []account
}

func NewStaticTokens(accounts []config.Account) (*StaticTokens, error) {
	seen := make(map[string]struct{}, len(accounts))
	out := make([]account, 0, len(accounts))
	for _, a := range accounts {
		if a.Token == "" {
			return nil, fmt.Errorf("account %q: empty token", a.ID)
		}
		if _, dup := seen[a.Token]; dup {
			return nil, fmt.Errorf("account %q: %w", a.ID, ErrDuplicateToken)
		}
		seen[a.Token] = struct{}{}
		u, err := domain.NewUser(domain.UserID(a.ID), a.Name)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", a.ID, err)
		}
		out = append(out, account{token: []byte(a.Token), user: *u})
	}
	return &StaticTokens{accounts: out}, nil
}

func (s *StaticTokens) Authenticate(token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	t := []byte(token)
	for _, a := range s.accounts {
		if subtle.ConstantTimeCompare(a.token, t) == 1 {
			u := a.user
			return &u, nil
		}
	}
	return nil, ErrUnauthorized
}

// Users lists every known account's user.
func (s *StaticTokens) Users() []domain.User {
	out := make([]domain.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a.user)
	}
	return out
}

// TokenFromRequest takes the bearer token from the Authorization header, or
// from the token query parameter for browsers that cannot set headers on a
// WebSocket handshake.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
