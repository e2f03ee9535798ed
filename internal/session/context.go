package session

import (
	"context"
	"sync"

	"github.com/dropDatabas3/rentsession/internal/observability/logger"
	"golang.org/x/sync/singleflight"
)

// Context es el estado de sesión de la aplicación: credenciales, bus de
// eventos y superficie activa. Se crea al arrancar y se inyecta en el Client.
//
// Toda mutación de credenciales pasa por acá y emite exactamente un evento,
// así la UI nunca diverge del storage.
type Context struct {
	store *Store
	bus   *Bus

	mu      sync.RWMutex
	surface Surface

	flights refreshFlights
}

// refreshFlights es el RefreshState: a lo sumo un refresh en vuelo por
// audiencia, compartido por todos los Client sobre el mismo Context.
type refreshFlights struct {
	sf singleflight.Group

	mu       sync.Mutex
	inflight map[Audience]bool
}

func (f *refreshFlights) state(a Audience) RefreshState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight[a] {
		return StateRefreshing
	}
	return StateIdle
}

func (f *refreshFlights) mark(a Audience, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight == nil {
		f.inflight = map[Audience]bool{}
	}
	if on {
		f.inflight[a] = true
	} else {
		delete(f.inflight, a)
	}
}

// NewContext arma el estado de sesión. bus nil crea uno nuevo.
func NewContext(store *Store, bus *Bus) *Context {
	if store == nil {
		store = NewStore(nil)
	}
	if bus == nil {
		bus = NewBus()
	}
	return &Context{store: store, bus: bus, surface: SurfaceConsumer}
}

// Store retorna el store de credenciales.
func (c *Context) Store() *Store { return c.store }

// Bus retorna el bus de eventos.
func (c *Context) Bus() *Bus { return c.bus }

// Surface retorna la superficie activa.
func (c *Context) Surface() Surface {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.surface
}

// SetSurface cambia la superficie activa (p.ej. al entrar al panel CRM).
func (c *Context) SetSurface(s Surface) {
	c.mu.Lock()
	c.surface = s
	c.mu.Unlock()
}

// RefreshState retorna Refreshing si hay un refresh en vuelo para la
// audiencia en cualquier Client de este Context.
func (c *Context) RefreshState(a Audience) RefreshState { return c.flights.state(a) }

// Credential retorna la credencial activa de la audiencia.
func (c *Context) Credential(ctx context.Context, a Audience) (Credential, bool) {
	return c.store.Get(ctx, a)
}

// Establish guarda la credencial de un login/registro/OTP exitoso y emite
// LoginSucceeded. payload viaja en el evento (datos de usuario, rol...).
func (c *Context) Establish(ctx context.Context, cred Credential, payload any) {
	if !cred.Audience.Valid() {
		cred.Audience = AudienceUser
	}
	c.store.Set(ctx, cred)
	logger.From(ctx).Info("session established", logger.Audience(cred.Audience.String()))
	c.bus.Emit(Event{Kind: EventLoginSucceeded, Audience: cred.Audience, Payload: payload})
}

// Terminate borra la credencial y emite LoggedOut si había algo que borrar.
// Reporta si hubo mutación.
func (c *Context) Terminate(ctx context.Context, a Audience, reason string) bool {
	if !c.store.Clear(ctx, a) {
		return false
	}
	logger.From(ctx).Info("session terminated",
		logger.Audience(a.String()),
		logger.String("reason", reason),
	)
	c.bus.Emit(Event{Kind: EventLoggedOut, Audience: a, Reason: reason})
	return true
}

// rotate persiste el resultado de un refresh y emite TokenRefreshed.
func (c *Context) rotate(ctx context.Context, cred Credential) {
	c.store.Set(ctx, cred)
	c.bus.Emit(Event{Kind: EventTokenRefreshed, Audience: cred.Audience})
}

// RedirectOnLogout suscribe navigate a los LoggedOut con la pantalla de login
// de la audiencia. Retorna la función para desuscribirse.
func (c *Context) RedirectOnLogout(navigate func(entryPoint string, e Event)) (unsubscribe func()) {
	return c.bus.Subscribe(func(e Event) {
		if e.Kind == EventLoggedOut {
			navigate(LoginEntryPoint(e.Audience), e)
		}
	})
}
