package session

import (
	"context"
	"sync"

	"github.com/dropDatabas3/rentsession/internal/kv"
	"github.com/dropDatabas3/rentsession/internal/observability/logger"
)

// Store persiste una Credential por audiencia.
//
// Los valores se cachean en memoria y se escriben en el backend durable.
// Si el backend falla, el Store pasa a modo degradado: desde ahí opera solo
// en memoria por el resto del proceso y nunca devuelve el error al caller.
type Store struct {
	backend kv.Backend

	mu       sync.Mutex
	cache    map[string]string
	missing  map[string]bool
	degraded bool
}

// NewStore crea un Store sobre el backend dado (nil = solo memoria).
func NewStore(backend kv.Backend) *Store {
	s := &Store{
		backend: backend,
		cache:   map[string]string{},
		missing: map[string]bool{},
	}
	if backend == nil {
		s.degraded = true
	}
	return s
}

// Get retorna la credencial de la audiencia, si hay access token. Access y
// refresh se leen juntos: nunca mezcla un token nuevo con uno viejo.
func (s *Store) Get(ctx context.Context, a Audience) (Credential, bool) {
	p := ProfileFor(a)
	s.mu.Lock()
	defer s.mu.Unlock()

	access := s.readLocked(ctx, p.AccessKey)
	if access == "" {
		return Credential{}, false
	}
	return Credential{
		Audience:     p.Audience,
		AccessToken:  access,
		RefreshToken: s.readLocked(ctx, p.RefreshKey),
	}, true
}

// RefreshToken retorna el refresh token aunque no haya access token.
func (s *Store) RefreshToken(ctx context.Context, a Audience) string {
	return s.read(ctx, ProfileFor(a).RefreshKey)
}

// Has indica si existe credencial para la audiencia.
func (s *Store) Has(ctx context.Context, a Audience) bool {
	_, ok := s.Get(ctx, a)
	return ok
}

// Set guarda la credencial; un refresh token vacío borra el anterior.
func (s *Store) Set(ctx context.Context, c Credential) {
	p := ProfileFor(c.Audience)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(ctx, p.AccessKey, c.AccessToken)
	s.writeLocked(ctx, p.RefreshKey, c.RefreshToken)
}

// Clear borra la credencial de la audiencia. Reporta si había algo.
func (s *Store) Clear(ctx context.Context, a Audience) bool {
	p := ProfileFor(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	had := s.readLocked(ctx, p.AccessKey) != "" || s.readLocked(ctx, p.RefreshKey) != ""
	s.writeLocked(ctx, p.AccessKey, "")
	s.writeLocked(ctx, p.RefreshKey, "")
	return had
}

// Role retorna el rol persistido del último login.
func (s *Store) Role(ctx context.Context) string { return s.read(ctx, RoleKey) }

// SetRole persiste el rol ("" lo borra).
func (s *Store) SetRole(ctx context.Context, role string) { s.write(ctx, RoleKey, role) }

// Degraded indica si el Store opera solo en memoria.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Invalidate descarta la cache en memoria; la próxima lectura va al backend.
// No hace nada en modo degradado (la memoria es la única fuente).
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return
	}
	s.cache = map[string]string{}
	s.missing = map[string]bool{}
}

// Watch invalida la cache cada vez que otro proceso modifica el backend.
// Retorna inmediatamente si el backend no soporta watch.
func (s *Store) Watch(ctx context.Context) error {
	w, ok := s.backend.(kv.Watcher)
	if !ok {
		return nil
	}
	return w.Watch(ctx, s.Invalidate)
}

func (s *Store) read(ctx context.Context, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(ctx, key)
}

func (s *Store) readLocked(ctx context.Context, key string) string {
	if v, ok := s.cache[key]; ok {
		return v
	}
	if s.degraded || s.missing[key] {
		return ""
	}
	v, err := s.backend.Get(ctx, key)
	switch {
	case err == nil:
		s.cache[key] = v
		return v
	case kv.IsNotFound(err):
		s.missing[key] = true
		return ""
	default:
		s.degradeLocked(ctx, "get", key, err)
		return ""
	}
}

func (s *Store) write(ctx context.Context, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(ctx, key, value)
}

func (s *Store) writeLocked(ctx context.Context, key, value string) {
	if value == "" {
		delete(s.cache, key)
		s.missing[key] = true
	} else {
		s.cache[key] = value
		delete(s.missing, key)
	}
	if s.degraded {
		return
	}

	var err error
	if value == "" {
		err = s.backend.Delete(ctx, key)
	} else {
		err = s.backend.Set(ctx, key, value)
	}
	if err != nil {
		s.degradeLocked(ctx, "set", key, err)
	}
}

// degradeLocked pasa a modo memoria conservando lo que ya estaba cacheado.
func (s *Store) degradeLocked(ctx context.Context, op, key string, err error) {
	s.degraded = true
	logger.From(ctx).Warn("credential storage unavailable, continuing in memory",
		logger.Driver(s.backend.Name()),
		logger.String("op", op),
		logger.Key(key),
		logger.Err(err),
	)
}
