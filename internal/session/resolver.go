package session

import (
	"context"
	"strings"
)

// Presence responde si hay credencial activa para una audiencia.
type Presence interface {
	Has(ctx context.Context, a Audience) bool
}

// Resolver decide qué audiencia aplica a un request.
//
// Reglas, en orden:
//  1. prefijo admin-only            → Admin (nunca cae a User).
//  2. prefijo compartido (CRM)      → Admin si hay credencial admin; si no,
//     la credencial general activa (Employee en la app de empleados, User
//     en otro caso).
//  3. surface Employee              → Employee.
//  4. resto                         → User.
type Resolver struct {
	AdminPrefixes  []string
	SharedPrefixes []string
}

// DefaultResolver usa "/admin/" y "/crm/".
func DefaultResolver() Resolver {
	return Resolver{
		AdminPrefixes:  []string{"/admin/"},
		SharedPrefixes: []string{"/crm/"},
	}
}

// Resolve aplica las reglas. presence puede ser nil (nada presente).
func (r Resolver) Resolve(ctx context.Context, path string, surface Surface, presence Presence) Audience {
	path = normalizePath(path) + "/"
	has := func(a Audience) bool { return presence != nil && presence.Has(ctx, a) }

	if hasAnyPrefix(path, r.AdminPrefixes) {
		return AudienceAdmin
	}
	if hasAnyPrefix(path, r.SharedPrefixes) {
		if has(AudienceAdmin) {
			return AudienceAdmin
		}
		if surface == SurfaceEmployee && has(AudienceEmployee) {
			return AudienceEmployee
		}
		return AudienceUser
	}
	if surface == SurfaceEmployee {
		return AudienceEmployee
	}
	return AudienceUser
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
