package session

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/rentsession/internal/observability/logger"
)

// RefreshFunc canjea un refresh token en el endpoint de la audiencia.
// Debe devolver una Credential con AccessToken no vacío; RefreshToken vacío
// significa "conservar el anterior".
type RefreshFunc func(ctx context.Context, p Profile, refreshToken string) (Credential, error)

// RefreshState describe el estado del coordinador para una audiencia.
type RefreshState string

const (
	StateIdle       RefreshState = "idle"
	StateRefreshing RefreshState = "refreshing"
)

// Coordinator garantiza a lo sumo un refresh en vuelo por audiencia. Los
// requests que reciben 401 mientras hay uno en vuelo esperan y comparten
// su resultado. El vuelo vive en el Context, así varios Client sobre el
// mismo estado de sesión nunca refrescan en paralelo.
type Coordinator struct {
	sc      *Context
	refresh RefreshFunc
	timeout time.Duration
	metrics *Metrics
}

// NewCoordinator crea el coordinador. timeout acota cada refresh.
func NewCoordinator(sc *Context, fn RefreshFunc, timeout time.Duration, m *Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{sc: sc, refresh: fn, timeout: timeout, metrics: m}
}

type refreshResult struct {
	cred Credential
}

// Recover obtiene una credencial nueva para la audiencia tras un 401.
// staleAccess es el token que llevaba el request rechazado: si el store ya
// tiene otro (un refresh terminó entre medio) se devuelve ese sin llamar al
// servidor.
func (c *Coordinator) Recover(ctx context.Context, a Audience, staleAccess string) (Credential, error) {
	if cur, ok := c.sc.Credential(ctx, a); ok && staleAccess != "" && cur.AccessToken != staleAccess {
		c.metrics.countRefresh(a, "reused")
		return cur, nil
	}

	ch := c.sc.flights.sf.DoChan(string(a), func() (any, error) {
		return c.run(ctx, a, staleAccess)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.countRefresh(a, "shared")
		}
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(refreshResult).cred, nil
	case <-ctx.Done():
		// El refresh sigue en vuelo y actualiza el store igual.
		return Credential{}, ctx.Err()
	}
}

// State retorna Refreshing si hay un refresh en vuelo para la audiencia.
// Solo informativo: puede cambiar apenas retorna.
func (c *Coordinator) State(a Audience) RefreshState { return c.sc.RefreshState(a) }

// run ejecuta el refresh. Corre una vez por vuelo; el contexto se desacopla
// de la cancelación del caller porque otros requests dependen del resultado.
func (c *Coordinator) run(callerCtx context.Context, a Audience, staleAccess string) (any, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerCtx), c.timeout)
	defer cancel()
	c.sc.flights.mark(a, true)
	defer c.sc.flights.mark(a, false)
	log := logger.From(ctx).With(logger.Audience(a.String()))

	// Double-check dentro del vuelo: otro vuelo pudo terminar recién.
	cur, hasCur := c.sc.Credential(ctx, a)
	if hasCur && staleAccess != "" && cur.AccessToken != staleAccess {
		c.metrics.countRefresh(a, "reused")
		return refreshResult{cred: cur}, nil
	}

	rt := c.sc.Store().RefreshToken(ctx, a)
	if rt == "" {
		c.metrics.countRefresh(a, "no_refresh_token")
		if c.sc.Terminate(ctx, a, ReasonNoRefreshToken) {
			c.metrics.countLogout(a, ReasonNoRefreshToken)
		}
		if !hasCur {
			return nil, ErrNoCredential
		}
		return nil, ErrNoRefreshToken
	}

	p := ProfileFor(a)
	log.Debug("refreshing session")
	start := time.Now()
	cred, err := c.refresh(ctx, p, rt)
	c.metrics.observeRefresh(a, time.Since(start))
	if err == nil && cred.AccessToken == "" {
		err = errors.New("refresh response without token")
	}
	if err != nil && (IsKind(err, KindNetwork) || ctx.Err() != nil) {
		// Sin respuesta del servidor: no hay evidencia de sesión inválida.
		c.metrics.countRefresh(a, "unreachable")
		log.Warn("refresh endpoint unreachable, keeping session", logger.Err(err))
		return nil, err
	}
	if err != nil {
		c.metrics.countRefresh(a, "failed")
		log.Warn("refresh failed, terminating session", logger.Err(err))
		if c.sc.Terminate(ctx, a, ReasonRefreshFailed) {
			c.metrics.countLogout(a, ReasonRefreshFailed)
		}
		return nil, errors.Join(ErrRefreshRejected, err)
	}

	cred.Audience = a
	if cred.RefreshToken == "" {
		cred.RefreshToken = rt
	}
	c.sc.rotate(ctx, cred)
	c.metrics.countRefresh(a, "ok")
	log.Info("session refreshed", logger.DurationMs(time.Since(start)))
	return refreshResult{cred: cred}, nil
}
