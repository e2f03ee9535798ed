// Package kv provee el almacenamiento clave/valor durable donde viven las
// credenciales del cliente (equivalente al localStorage del navegador).
//
// Backends:
//   - file: un JSON por perfil, escritura atómica, opcionalmente sellado (AES-GCM)
//     y vigilado con fsnotify para detectar escrituras de otros procesos.
//   - memory: go-cache en proceso, sin expiración.
//   - redis: compartido entre procesos/hosts.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend define las operaciones mínimas de storage.
type Backend interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda (o pisa) un valor.
	Set(ctx context.Context, key, value string) error

	// Delete elimina una key. Borrar una key inexistente no es error.
	Delete(ctx context.Context, key string) error

	// Name identifica el driver ("file", "memory", "redis").
	Name() string

	// Close libera recursos.
	Close() error
}

// Watcher es implementado por backends que pueden avisar cuando otro
// proceso modificó el contenido.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// ErrNotFound indica que la key no existe.
var ErrNotFound = errors.New("kv: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Config configuración para crear un backend.
type Config struct {
	Driver string // "file" | "memory" | "redis"

	// file
	Path    string
	SealKey string // base64(32 bytes); vacío = sin sellar

	// redis
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New crea un backend según la configuración.
func New(cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "file":
		var sealer *Sealer
		if strings.TrimSpace(cfg.SealKey) != "" {
			s, err := NewSealer(cfg.SealKey)
			if err != nil {
				return nil, err
			}
			sealer = s
		}
		return OpenFile(cfg.Path, sealer)
	case "redis":
		return NewRedis(cfg)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("kv: driver desconocido %q", cfg.Driver)
	}
}
