package session

import (
	"fmt"
	"strings"
)

// Audience es el espacio de credenciales al que pertenece un request.
type Audience string

const (
	AudienceUser     Audience = "user"
	AudienceAdmin    Audience = "admin"
	AudienceEmployee Audience = "employee"
)

// Audiences lista las audiencias conocidas en orden estable.
var Audiences = []Audience{AudienceUser, AudienceAdmin, AudienceEmployee}

func (a Audience) String() string { return string(a) }

// Valid indica si la audiencia es conocida.
func (a Audience) Valid() bool {
	switch a {
	case AudienceUser, AudienceAdmin, AudienceEmployee:
		return true
	}
	return false
}

// ParseAudience acepta también los alias "staff" y "customer".
func ParseAudience(s string) (Audience, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "customer", "":
		return AudienceUser, nil
	case "admin":
		return AudienceAdmin, nil
	case "employee", "staff":
		return AudienceEmployee, nil
	}
	return "", fmt.Errorf("session: audiencia desconocida %q", s)
}

// Surface es la app activa dentro del cliente.
type Surface string

const (
	SurfaceConsumer Surface = "consumer" // reservas del cliente final
	SurfaceCRM      Surface = "crm"      // panel admin / CRM
	SurfaceEmployee Surface = "employee" // mini-app de empleados
)

// ParseSurface convierte un string de configuración en Surface.
func ParseSurface(s string) (Surface, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "consumer", "user", "":
		return SurfaceConsumer, nil
	case "crm", "admin":
		return SurfaceCRM, nil
	case "employee", "staff":
		return SurfaceEmployee, nil
	}
	return "", fmt.Errorf("session: surface desconocida %q", s)
}

// Credential es el par de tokens activo de una audiencia.
// Los tokens son opacos: este paquete nunca los parsea.
type Credential struct {
	Audience     Audience
	AccessToken  string
	RefreshToken string
}

// HasRefresh indica si hay refresh token utilizable.
func (c Credential) HasRefresh() bool { return strings.TrimSpace(c.RefreshToken) != "" }
