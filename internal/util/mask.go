// Package util tiene helpers chicos compartidos por la CLI y los servicios.
package util

import "strings"

// MaskEmail deja la primera letra del usuario y del dominio: "a…@r….test".
func MaskEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	i := strings.IndexByte(s, '@')
	if i <= 0 {
		if s == "" {
			return ""
		}
		if len(s) <= 3 {
			return "***"
		}
		return s[:1] + "…" + s[len(s)-1:]
	}
	user, dom := s[:i], s[i+1:]
	if len(user) > 1 {
		user = user[:1] + "…"
	}
	dparts := strings.Split(dom, ".")
	if len(dparts) > 0 && len(dparts[0]) > 1 {
		dparts[0] = dparts[0][:1] + "…"
	}
	return user + "@" + strings.Join(dparts, ".")
}

// MaskToken muestra solo los últimos 4 caracteres de un token; alcanza para
// distinguir si cambió tras un refresh sin exponerlo.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return "…" + s[len(s)-4:]
}
