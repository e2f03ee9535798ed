package session

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAuthenticator() (*Authenticator, *Context) {
	sc := NewContext(nil, nil)
	ctx := context.Background()
	sc.Store().Set(ctx, Credential{Audience: AudienceUser, AccessToken: "U1", RefreshToken: "UR"})
	sc.Store().Set(ctx, Credential{Audience: AudienceEmployee, AccessToken: "S1", RefreshToken: "SR"})
	return NewAuthenticator(sc, DefaultPublicRoutes(MatchLooseContains), DefaultResolver()), sc
}

func TestAuthenticator_ProtectedGetsBearer(t *testing.T) {
	a, _ := newTestAuthenticator()
	r := NewRequest(http.MethodGet, "/cars")
	a.Authenticate(context.Background(), r)

	require.False(t, r.Public)
	require.Equal(t, AudienceUser, r.Audience)
	require.Equal(t, "Bearer U1", r.Header.Get("Authorization"))
}

func TestAuthenticator_PublicStripsHeader(t *testing.T) {
	a, _ := newTestAuthenticator()
	r := NewRequest(http.MethodPost, "/auth/login")
	r.Header.Set("Authorization", "Bearer leftover")
	a.Authenticate(context.Background(), r)

	require.True(t, r.Public)
	require.Empty(t, r.Header.Get("Authorization"))
}

func TestAuthenticator_MissingCredentialSendsNoHeader(t *testing.T) {
	a, _ := newTestAuthenticator()
	r := NewRequest(http.MethodGet, "/admin/cars")
	r.Header.Set("Authorization", "Bearer U1")
	a.Authenticate(context.Background(), r)

	require.Equal(t, AudienceAdmin, r.Audience)
	require.Empty(t, r.Header.Get("Authorization"))
}

func TestAuthenticator_PinnedAudience(t *testing.T) {
	a, _ := newTestAuthenticator()
	r := NewRequest(http.MethodPost, "/staff/logout")
	r.Audience = AudienceEmployee
	a.Authenticate(context.Background(), r)

	require.Equal(t, "Bearer S1", r.Header.Get("Authorization"))
}

func TestAuthenticator_ContentType(t *testing.T) {
	a, _ := newTestAuthenticator()
	ctx := context.Background()

	j, err := NewJSONRequest(http.MethodPost, "/bookings", map[string]string{"carId": "car-1"})
	require.NoError(t, err)
	a.Authenticate(ctx, j)
	require.Equal(t, "application/json", j.Header.Get("Content-Type"))

	m := NewRequest(http.MethodPost, "/documents")
	m.BodyKind = BodyMultipart
	m.Body = []byte("--b--")
	m.Header.Set("Content-Type", "multipart/form-data; boundary=b")
	a.Authenticate(ctx, m)
	require.Equal(t, "multipart/form-data; boundary=b", m.Header.Get("Content-Type"))

	raw := NewRequest(http.MethodPut, "/documents/1")
	raw.BodyKind = BodyRaw
	raw.Body = []byte("bytes")
	a.Authenticate(ctx, raw)
	require.Empty(t, raw.Header.Get("Content-Type"))
}
