package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTokens(t *testing.T) {
	a, err := NewStaticTokens([]config.Account{
		{Token: "t-alice", ID: "alice", Name: "Alice"},
		{Token: "t-bob", ID: "bob"},
	})
	require.NoError(t, err)

	u, err := a.Authenticate("t-alice")
	require.NoError(t, err)
	assert.Equal(t, domain.User{ID: "alice", Username: "Alice"}, *u)

	u, err = a.Authenticate("t-bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)

	_, err = a.Authenticate("t-ALICE")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = a.Authenticate("")
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Len(t, a.Users(), 2)
}

func TestStaticTokensValidation(t *testing.T) {
	_, err := NewStaticTokens([]config.Account{{Token: "x", ID: "a"}, {Token: "x", ID: "b"}})
	assert.ErrorIs(t, err, ErrDuplicateToken)

	_, err = NewStaticTokens([]config.Account{{Token: "x"}})
	assert.ErrorIs(t, err, domain.ErrUserIDEmpty)

	_, err = NewStaticTokens([]config.Account{{ID: "a"}})
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/ws/signal?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(r), "header wins")

	r.Header.Set("Authorization", "Basic h")
	assert.Empty(t, TokenFromRequest(r))
}
