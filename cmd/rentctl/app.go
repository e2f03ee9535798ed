package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"

	"github.com/dropDatabas3/rentsession/internal/api"
	"github.com/dropDatabas3/rentsession/internal/config"
	"github.com/dropDatabas3/rentsession/internal/kv"
	"github.com/dropDatabas3/rentsession/internal/observability/logger"
	"github.com/dropDatabas3/rentsession/internal/rate"
	"github.com/dropDatabas3/rentsession/internal/session"
	"github.com/dropDatabas3/rentsession/internal/util"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// options son los flags globales; pisan config y env.
type options struct {
	configPath  string
	envFile     string
	baseURL     string
	storeDriver string
	storePath   string
	surface     string
	out         string // json | text
	metrics     bool
}

// app es el runtime de una invocación: config, storage, sesión y servicios.
type app struct {
	opts   *options
	stdout io.Writer
	stderr io.Writer

	cfg     *config.Config
	backend kv.Backend
	sc      *session.Context
	client  *session.Client
	auth    *api.Auth
	reg     *prometheus.Registry
}

func openApp(o *options, stdout, stderr io.Writer) (*app, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("env file %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.API.BaseURL = o.baseURL
	}
	if o.storeDriver != "" {
		cfg.Store.Driver = strings.ToLower(o.storeDriver)
	}
	if o.storePath != "" {
		cfg.Store.Path = o.storePath
	}
	if o.surface != "" {
		cfg.Session.Surface = o.surface
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "rentctl"})
	log := logger.L()

	backend, err := kv.New(cfg.KV())
	if err != nil {
		// sin storage durable la sesión vive solo esta invocación
		log.Warn("credential storage unavailable, continuing in memory",
			logger.Driver(cfg.Store.Driver), logger.Err(err))
		backend = nil
	}

	sc := session.NewContext(session.NewStore(backend), nil)
	sc.SetSurface(cfg.Surface())
	sc.RedirectOnLogout(func(entry string, e session.Event) {
		fmt.Fprintf(stderr, "session %s ended (%s); sign in again (%s)\n", e.Audience, e.Reason, entry)
	})

	reg := prometheus.NewRegistry()
	metrics, err := session.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	sopts := cfg.SessionOptions()
	sopts.Metrics = metrics
	client, err := session.NewClient(sc, sopts)
	if err != nil {
		return nil, err
	}

	auth, err := api.NewAuth(api.Deps{Client: client, ResendLimiter: resendLimiter(cfg, backend)})
	if err != nil {
		return nil, err
	}

	return &app{
		opts:    o,
		stdout:  stdout,
		stderr:  stderr,
		cfg:     cfg,
		backend: backend,
		sc:      sc,
		client:  client,
		auth:    auth,
		reg:     reg,
	}, nil
}

// resendLimiter guarda el cooldown de OTP donde viven las credenciales, así
// aplica entre invocaciones. Con Redis usa INCR atómico.
func resendLimiter(cfg *config.Config, backend kv.Backend) rate.Limiter {
	switch b := backend.(type) {
	case *kv.RedisBackend:
		return rate.NewRedisLimiter(b.Client(), b.Prefix()+":rl:", cfg.OTP.ResendMax, cfg.OTP.ResendWindow)
	case nil:
		return rate.NewMemoryLimiter(cfg.OTP.ResendMax, cfg.OTP.ResendWindow)
	default:
		return rate.NewKVLimiter(b, "otpResend:", cfg.OTP.ResendMax, cfg.OTP.ResendWindow)
	}
}

func (a *app) close() {
	if a.opts.metrics {
		a.printMetrics()
	}
	if a.backend != nil {
		_ = a.backend.Close()
	}
	_ = logger.Sync()
}

// print escribe v como JSON indentado (--out json) o texto plano.
func (a *app) print(v any) {
	if a.opts.out == "json" {
		b, err := json.MarshalIndent(v, "", "  ")
		if err == nil {
			fmt.Fprintln(a.stdout, string(b))
			return
		}
	}
	switch t := v.(type) {
	case string:
		fmt.Fprintln(a.stdout, t)
	case []byte:
		fmt.Fprintln(a.stdout, string(t))
	default:
		fmt.Fprintf(a.stdout, "%+v\n", t)
	}
}

// printBody imprime la respuesta del backend tal cual o indentada.
func (a *app) printBody(resp *session.Response) {
	if a.opts.out == "json" {
		var v any
		if json.Unmarshal(resp.Body, &v) == nil {
			a.print(v)
			return
		}
	}
	if len(resp.Body) > 0 {
		fmt.Fprintln(a.stdout, string(resp.Body))
	} else {
		fmt.Fprintf(a.stdout, "status=%d\n", resp.Status)
	}
}

type audienceStatus struct {
	Audience   string `json:"audience"`
	LoggedIn   bool   `json:"loggedIn"`
	HasRefresh bool   `json:"hasRefresh"`
	TokenHint  string `json:"tokenHint,omitempty"`
	EntryPoint string `json:"entryPoint"`
}

type statusReport struct {
	Surface  string           `json:"surface"`
	Store    string           `json:"store"`
	Degraded bool             `json:"degraded"`
	Role     string           `json:"role,omitempty"`
	Sessions []audienceStatus `json:"sessions"`
}

func (a *app) status(ctx context.Context) statusReport {
	st := a.sc.Store()
	r := statusReport{
		Surface:  string(a.sc.Surface()),
		Store:    a.cfg.Store.Driver,
		Degraded: st.Degraded(),
		Role:     st.Role(ctx),
	}
	for _, aud := range session.Audiences {
		cred, ok := st.Get(ctx, aud)
		r.Sessions = append(r.Sessions, audienceStatus{
			Audience:   aud.String(),
			LoggedIn:   ok,
			HasRefresh: ok && cred.HasRefresh(),
			TokenHint:  util.MaskToken(cred.AccessToken),
			EntryPoint: session.LoginEntryPoint(aud),
		})
	}
	return r
}

func (r statusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "surface: %s  store: %s", r.Surface, r.Store)
	if r.Degraded {
		b.WriteString(" (memory only)")
	}
	if r.Role != "" {
		fmt.Fprintf(&b, "  role: %s", r.Role)
	}
	for _, s := range r.Sessions {
		state := "logged out"
		if s.LoggedIn {
			state = "logged in " + s.TokenHint
			if !s.HasRefresh {
				state += " (no refresh token)"
			}
		}
		fmt.Fprintf(&b, "\n  %-9s %s", s.Audience+":", state)
	}
	return b.String()
}

// printMetrics vuelca los contadores del cliente a stderr.
func (a *app) printMetrics() {
	families, err := a.reg.Gather()
	if err != nil {
		fmt.Fprintf(a.stderr, "metrics: %v\n", err)
		return
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName() + labelString(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				lines = append(lines, fmt.Sprintf("%s %g", name, m.GetCounter().GetValue()))
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				lines = append(lines, fmt.Sprintf("%s count=%d sum=%gs", name, h.GetSampleCount(), h.GetSampleSum()))
			}
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		fmt.Fprintln(a.stderr, l)
	}
}

func labelString(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, l := range labels {
		parts = append(parts, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
