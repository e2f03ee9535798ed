package session

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics agrupa las métricas Prometheus del cliente. Un *Metrics nil es
// válido y no registra nada.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	logoutsTotal    *prometheus.CounterVec
}

// NewMetrics crea y registra las métricas. reg nil usa el registry default.
// Registrar dos veces sobre el mismo registry reutiliza los collectors ya
// registrados.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rent_client_requests_total",
			Help: "Requests salientes por audiencia y status (0 = sin respuesta)",
		}, []string{"audience", "method", "status"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rent_client_refresh_total",
			Help: "Intentos de refresh por audiencia y resultado",
		}, []string{"audience", "result"}), // ok|failed|unreachable|shared|reused|no_refresh_token
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rent_client_refresh_duration_seconds",
			Help:    "Duración de las llamadas de refresh",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"audience"}),
		logoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rent_client_forced_logouts_total",
			Help: "Sesiones terminadas por el cliente por audiencia y motivo",
		}, []string{"audience", "reason"}),
	}

	var err error
	if m.requestsTotal, err = registerVec(reg, m.requestsTotal); err != nil {
		return nil, err
	}
	if m.refreshTotal, err = registerVec(reg, m.refreshTotal); err != nil {
		return nil, err
	}
	if m.refreshDuration, err = registerVec(reg, m.refreshDuration); err != nil {
		return nil, err
	}
	if m.logoutsTotal, err = registerVec(reg, m.logoutsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

// registerVec registra c; si ya existía devuelve el collector existente.
func registerVec[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) countRequest(a Audience, method string, status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(a.String(), method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) countRefresh(a Audience, result string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(a.String(), result).Inc()
}

func (m *Metrics) observeRefresh(a Audience, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshDuration.WithLabelValues(a.String()).Observe(d.Seconds())
}

func (m *Metrics) countLogout(a Audience, reason string) {
	if m == nil {
		return
	}
	m.logoutsTotal.WithLabelValues(a.String(), reason).Inc()
}
