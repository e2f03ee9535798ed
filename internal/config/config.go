package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dropDatabas3/rentsession/internal/kv"
	"github.com/dropDatabas3/rentsession/internal/session"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"` // debug | info | warn | error
	} `yaml:"log"`

	API struct {
		BaseURL        string        `yaml:"base_url"`
		Timeout        time.Duration `yaml:"timeout"`
		RefreshTimeout time.Duration `yaml:"refresh_timeout"`
		UserAgent      string        `yaml:"user_agent"`
	} `yaml:"api"`

	Session struct {
		// consumer | crm | employee
		Surface string `yaml:"surface"`
		// loose | exact
		PublicMatch    string   `yaml:"public_match"`
		ExtraPublic    []string `yaml:"extra_public_routes"`
		AdminPrefixes  []string `yaml:"admin_prefixes"`
		SharedPrefixes []string `yaml:"shared_prefixes"`
	} `yaml:"session"`

	Store struct {
		Driver  string `yaml:"driver"` // file | memory | redis
		Path    string `yaml:"path"`
		SealKey string `yaml:"seal_key"` // base64(32 bytes)
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"store"`

	OTP struct {
		ResendMax    int           `yaml:"resend_max"`
		ResendWindow time.Duration `yaml:"resend_window"`
	} `yaml:"otp"`
}

// Load lee path (vacío = sin archivo), pisa con env y completa defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:4000/api"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = session.DefaultTimeout
	}
	if c.API.RefreshTimeout == 0 {
		c.API.RefreshTimeout = c.API.Timeout
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = "rentctl"
	}
	if c.Session.Surface == "" {
		c.Session.Surface = string(session.SurfaceConsumer)
	}
	if c.Session.PublicMatch == "" {
		c.Session.PublicMatch = session.MatchLooseContains.String()
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "file"
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath()
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "rent:"
	}
	if c.OTP.ResendMax == 0 {
		c.OTP.ResendMax = 1
	}
	if c.OTP.ResendWindow == 0 {
		c.OTP.ResendWindow = 30 * time.Second
	}
}

func defaultStorePath() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "rentctl", "session.json")
	}
	return filepath.Join(".rentctl", "session.json")
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		if strings.TrimSpace(s) == "" {
			return []string{}, true
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// API
	if v, ok := getEnvStr("RENT_API_BASE_URL"); ok {
		c.API.BaseURL = v
	}
	if v, ok := getEnvDur("RENT_HTTP_TIMEOUT"); ok {
		c.API.Timeout = v
	}
	if v, ok := getEnvDur("RENT_REFRESH_TIMEOUT"); ok {
		c.API.RefreshTimeout = v
	}

	// SESSION
	if v, ok := getEnvStr("RENT_SURFACE"); ok {
		c.Session.Surface = v
	}
	if v, ok := getEnvStr("RENT_PUBLIC_MATCH"); ok {
		c.Session.PublicMatch = v
	}
	if v, ok := getEnvCSV("RENT_PUBLIC_ROUTES"); ok {
		c.Session.ExtraPublic = v
	}

	// STORE
	if v, ok := getEnvStr("RENT_STORE_DRIVER"); ok {
		c.Store.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("RENT_STORE_PATH"); ok {
		c.Store.Path = v
	}
	if v, ok := getEnvStr("RENT_STORE_KEY"); ok {
		c.Store.SealKey = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Store.Redis.Addr = v
	}
	if v, ok := getEnvStr("REDIS_PASSWORD"); ok {
		c.Store.Redis.Password = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Store.Redis.DB = v
	}
	if v, ok := getEnvStr("REDIS_PREFIX"); ok {
		c.Store.Redis.Prefix = v
	}

	// OTP
	if v, ok := getEnvInt("RENT_OTP_RESEND_MAX"); ok {
		c.OTP.ResendMax = v
	}
	if v, ok := getEnvDur("RENT_OTP_RESEND_WINDOW"); ok {
		c.OTP.ResendWindow = v
	}
}

// Validate verifica los valores críticos. Junta todos los errores.
func (c *Config) Validate() error {
	var errs []error

	switch c.App.Env {
	case "dev", "staging", "prod":
	default:
		errs = append(errs, fmt.Errorf("app_env inválido %q (dev|staging|prod)", c.App.Env))
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url inválida %q", c.API.BaseURL))
	}
	if c.API.Timeout < 0 || c.API.RefreshTimeout < 0 {
		errs = append(errs, errors.New("api timeouts no pueden ser negativos"))
	}

	if _, err := session.ParseSurface(c.Session.Surface); err != nil {
		errs = append(errs, err)
	}
	if _, err := session.ParseMatchPolicy(c.Session.PublicMatch); err != nil {
		errs = append(errs, err)
	}

	switch c.Store.Driver {
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path requerido para driver file"))
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr requerido para driver redis"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("store.driver inválido %q (file|memory|redis)", c.Store.Driver))
	}
	if c.Store.SealKey != "" {
		if _, err := kv.NewSealer(c.Store.SealKey); err != nil {
			errs = append(errs, fmt.Errorf("store.seal_key: %w", err))
		}
	}
	if c.App.Env == "prod" && c.Store.Driver == "file" && c.Store.SealKey == "" {
		errs = append(errs, errors.New("store.seal_key requerido en prod para driver file"))
	}

	if c.OTP.ResendMax < 1 || c.OTP.ResendWindow <= 0 {
		errs = append(errs, errors.New("otp.resend_max y otp.resend_window deben ser positivos"))
	}
	return errors.Join(errs...)
}

// =================================================================================
// ADAPTADORES
// =================================================================================

// KV retorna la configuración del backend de credenciales.
func (c *Config) KV() kv.Config {
	return kv.Config{
		Driver:   c.Store.Driver,
		Path:     c.Store.Path,
		SealKey:  c.Store.SealKey,
		Addr:     c.Store.Redis.Addr,
		Password: c.Store.Redis.Password,
		DB:       c.Store.Redis.DB,
		Prefix:   c.Store.Redis.Prefix,
	}
}

// Surface retorna la superficie configurada (consumer si es inválida).
func (c *Config) Surface() session.Surface {
	s, err := session.ParseSurface(c.Session.Surface)
	if err != nil {
		return session.SurfaceConsumer
	}
	return s
}

// PublicRoutes arma las rutas públicas por defecto más las extra.
func (c *Config) PublicRoutes() session.PublicRoutes {
	policy, err := session.ParseMatchPolicy(c.Session.PublicMatch)
	if err != nil {
		policy = session.MatchLooseContains
	}
	return session.DefaultPublicRoutes(policy).With(c.Session.ExtraPublic...)
}

// Resolver retorna el resolver de audiencias con los prefijos configurados.
func (c *Config) Resolver() session.Resolver {
	r := session.DefaultResolver()
	if len(c.Session.AdminPrefixes) > 0 {
		r.AdminPrefixes = c.Session.AdminPrefixes
	}
	if len(c.Session.SharedPrefixes) > 0 {
		r.SharedPrefixes = c.Session.SharedPrefixes
	}
	return r
}

// SessionOptions retorna las opciones del cliente salvo Metrics/HTTPClient.
func (c *Config) SessionOptions() session.Options {
	public := c.PublicRoutes()
	resolver := c.Resolver()
	return session.Options{
		BaseURL:        c.API.BaseURL,
		Timeout:        c.API.Timeout,
		RefreshTimeout: c.API.RefreshTimeout,
		Public:         &public,
		Resolver:       &resolver,
		UserAgent:      c.API.UserAgent,
	}
}
