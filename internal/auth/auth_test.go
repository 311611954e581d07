package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc123", want: "abc123"},
		{name: "padded", header: "Bearer   abc123  ", want: "abc123"},
		{name: "missing", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic abc123", wantErr: true},
		{name: "empty token", header: "Bearer    ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticateAdminKey(t *testing.T) {
	p, ok := Authenticate("admin-key", "admin-key", nil)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeChannelsRW))
	assert.True(t, HasAnyScope(p, "anything"))
}

func TestAuthenticateEmptyAdminKeyNeverMatches(t *testing.T) {
	_, ok := Authenticate("", "", nil)
	assert.False(t, ok)
}

func TestAuthenticateScopedToken(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "sender", Scopes: []string{ScopeNotifyRW, " "}},
		{Token: "viewer", Scopes: []string{ScopeChannelsRO}},
	}

	p, ok := Authenticate("sender", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeNotifyRW))
	assert.True(t, HasAnyScope(p, ScopeNotifyRO), "rw implies ro")
	assert.False(t, HasAnyScope(p, ScopeChannelsRO))
	assert.Len(t, p.Scopes, 2)

	p, ok = Authenticate("viewer", "admin", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeChannelsRO))
	assert.False(t, HasAnyScope(p, ScopeChannelsRW))

	_, ok = Authenticate("stranger", "admin", tokens)
	assert.False(t, ok)
}

func TestHasAnyScopeWithNoRequirement(t *testing.T) {
	assert.True(t, HasAnyScope(Principal{}))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
}

func TestIsKnownScope(t *testing.T) {
	assert.True(t, IsKnownScope(ScopeTemplatesRW))
	assert.False(t, IsKnownScope("plugin:rw"))
}
