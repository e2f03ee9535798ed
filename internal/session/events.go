package session

import (
	"sort"
	"sync"
	"time"

	"github.com/dropDatabas3/rentsession/internal/observability/logger"
)

// EventKind es el tipo de transición de sesión.
type EventKind string

const (
	EventLoginSucceeded EventKind = "login_succeeded"
	EventLoggedOut      EventKind = "logged_out"
	EventTokenRefreshed EventKind = "token_refreshed"
)

// Motivos de logout.
const (
	ReasonUserLogout     = "user_logout"
	ReasonRefreshFailed  = "refresh_failed"
	ReasonNoRefreshToken = "no_refresh_token"
)

// Event describe una transición. Payload es opcional (p.ej. datos del usuario
// devueltos por el login). Nunca contiene tokens.
type Event struct {
	Kind     EventKind
	Audience Audience
	Reason   string
	Payload  any
	At       time.Time
}

// Handler consume eventos. Se invoca sincrónicamente en el goroutine que emite.
type Handler func(Event)

// Bus hace fan-out de eventos a los suscriptores. No tiene lógica propia.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handler
}

// NewBus crea un bus vacío.
func NewBus() *Bus { return &Bus{subs: map[int]Handler{}} }

// Subscribe registra h y retorna la función para desuscribirlo.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Emit entrega e a todos los suscriptores en orden de suscripción.
// Un handler que hace panic no impide la entrega al resto.
func (b *Bus) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	handlers := make(map[int]Handler, len(b.subs))
	for id, h := range b.subs {
		handlers[id] = h
	}
	b.mu.RUnlock()

	sort.Ints(ids)
	for _, id := range ids {
		deliver(handlers[id], e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("session event handler panicked",
				logger.String("event", string(e.Kind)),
				logger.Audience(string(e.Audience)),
				logger.Any("panic", r),
			)
		}
	}()
	h(e)
}
