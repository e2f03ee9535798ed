package session

import (
	"context"
	"net/http"
)

// Authenticator agrega o suprime el header Authorization de un request.
// No hace I/O de red ni reintentos.
type Authenticator struct {
	public   PublicRoutes
	resolver Resolver
	sc       *Context
}

// NewAuthenticator arma el authenticator sobre el estado de sesión.
func NewAuthenticator(sc *Context, public PublicRoutes, resolver Resolver) *Authenticator {
	return &Authenticator{public: public, resolver: resolver, sc: sc}
}

// IsPublic indica si el path nunca debe llevar credencial.
func (a *Authenticator) IsPublic(path string) bool { return a.public.IsPublic(path) }

// Authenticate completa Audience/Public y ajusta headers:
//   - ruta pública: borra cualquier Authorization previo.
//   - protegida: resuelve audiencia y agrega el bearer si hay credencial;
//     sin credencial sigue sin header y deja que el servidor responda.
//   - JSON sin Content-Type explícito recibe application/json; multipart y
//     raw nunca se tocan.
func (a *Authenticator) Authenticate(ctx context.Context, r *PendingRequest) {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	if r.BodyKind == BodyJSON && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}

	r.Public = a.public.IsPublic(r.Path)
	if r.Public {
		r.Header.Del("Authorization")
		if !r.Audience.Valid() {
			r.Audience = a.resolver.Resolve(ctx, r.Path, a.sc.Surface(), nil)
		}
		return
	}

	// Audience explícito (logout de staff desde otra superficie) tiene prioridad.
	if !r.Audience.Valid() {
		r.Audience = a.resolver.Resolve(ctx, r.Path, a.sc.Surface(), a.sc.Store())
	}
	if cred, ok := a.sc.Credential(ctx, r.Audience); ok {
		r.setBearer(cred.AccessToken)
	} else {
		r.Header.Del("Authorization")
	}
}
