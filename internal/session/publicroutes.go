package session

import (
	"fmt"
	"strings"
)

// MatchPolicy define cómo se compara un path contra las rutas públicas.
type MatchPolicy int

const (
	// MatchLooseContains: path == ruta, o path contiene la ruta.
	// Tolera prefijos de base URL distintos entre entornos. Riesgo conocido:
	// un path protegido que contenga una ruta pública como substring
	// (p.ej. "/auth/login-history") también se considera público.
	MatchLooseContains MatchPolicy = iota

	// MatchExact: el path normalizado debe ser igual a la ruta o terminar en
	// ella por segmentos completos (tolera prefijos de base URL).
	MatchExact
)

func (p MatchPolicy) String() string {
	switch p {
	case MatchExact:
		return "exact"
	default:
		return "loose"
	}
}

// ParseMatchPolicy acepta "loose" (default) o "exact".
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "loose", "contains":
		return MatchLooseContains, nil
	case "exact":
		return MatchExact, nil
	}
	return 0, fmt.Errorf("session: política de match desconocida %q", s)
}

// PublicRoutes es el conjunto inmutable de rutas que nunca llevan credencial.
type PublicRoutes struct {
	routes []string
	policy MatchPolicy
}

// NewPublicRoutes crea el conjunto con la política dada.
func NewPublicRoutes(policy MatchPolicy, routes ...string) PublicRoutes {
	out := make([]string, 0, len(routes))
	seen := map[string]bool{}
	for _, r := range routes {
		r = normalizePath(r)
		if r == "" || r == "/" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return PublicRoutes{routes: out, policy: policy}
}

// DefaultPublicRoutes: login, registro, OTP y refresh de todas las audiencias.
func DefaultPublicRoutes(policy MatchPolicy) PublicRoutes {
	routes := []string{PathRegister, PathSendLoginOTP, PathVerifyOTP, PathResendOTP, PathAdminSignup}
	for _, a := range Audiences {
		p := ProfileFor(a)
		routes = append(routes, p.LoginPath, p.RefreshPath)
	}
	return NewPublicRoutes(policy, routes...)
}

// With retorna una copia con rutas adicionales.
func (p PublicRoutes) With(routes ...string) PublicRoutes {
	all := append(append([]string{}, p.routes...), routes...)
	return NewPublicRoutes(p.policy, all...)
}

// Policy retorna la política activa.
func (p PublicRoutes) Policy() MatchPolicy { return p.policy }

// Routes retorna una copia de las rutas.
func (p PublicRoutes) Routes() []string { return append([]string(nil), p.routes...) }

// IsPublic evalúa el path contra todas las rutas.
func (p PublicRoutes) IsPublic(path string) bool {
	path = normalizePath(path)
	for _, r := range p.routes {
		if path == r {
			return true
		}
		switch p.policy {
		case MatchExact:
			// r empieza con "/": el sufijo ya respeta límites de segmento
			if strings.HasSuffix(path, r) {
				return true
			}
		default:
			if strings.Contains(path, r) {
				return true
			}
		}
	}
	return false
}

// normalizePath deja solo el path: sin query, fragment ni "/" final.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			p = rest[j:]
		} else {
			p = "/"
		}
	}
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
