// Package api contiene las operaciones de autenticación del marketplace
// (login, registro, OTP y logout por audiencia) sobre session.Client.
//
// Cada operación que crea o destruye credenciales lo hace a través de
// session.Context, así el evento correspondiente se emite una sola vez.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/rentsession/internal/observability/logger"
	"github.com/dropDatabas3/rentsession/internal/rate"
	"github.com/dropDatabas3/rentsession/internal/session"
	"github.com/dropDatabas3/rentsession/internal/util"
)

// Cooldown por defecto del reenvío de OTP.
const (
	DefaultResendMax    = 1
	DefaultResendWindow = 30 * time.Second
)

// Deps contiene las dependencias del servicio.
type Deps struct {
	Client *session.Client

	// ResendLimiter limita SendLoginOTP/ResendOTP por teléfono.
	// nil = memoria, DefaultResendMax por DefaultResendWindow.
	ResendLimiter rate.Limiter
}

// Auth agrupa las operaciones de autenticación de las tres audiencias.
type Auth struct {
	client  *session.Client
	sc      *session.Context
	limiter rate.Limiter
}

// NewAuth crea el servicio.
func NewAuth(deps Deps) (*Auth, error) {
	if deps.Client == nil {
		return nil, errors.New("api: nil client")
	}
	if deps.ResendLimiter == nil {
		deps.ResendLimiter = rate.NewMemoryLimiter(DefaultResendMax, DefaultResendWindow)
	}
	return &Auth{client: deps.Client, sc: deps.Client.Session(), limiter: deps.ResendLimiter}, nil
}

// Errores del servicio
var (
	ErrMissingFields = errors.New("missing required fields")
	ErrNoToken       = errors.New("login response without token")
	ErrCooldown      = errors.New("otp resend cooling down")
)

// CooldownError indica cuánto falta para poder reenviar el OTP.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v: retry in %s", ErrCooldown, e.RetryAfter.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool { return target == ErrCooldown }

// User son los datos del usuario que devuelve el login.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Role  string `json:"role"`
}

// LoginResult es lo que queda tras un login exitoso. Los tokens quedan en el
// store, no se exponen.
type LoginResult struct {
	Audience session.Audience
	User     *User
}

// RegisterInput datos de alta de cuenta.
type RegisterInput struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Password string `json:"password"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpBody struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp,omitempty"`
}

// =================================================================================
// USER
// =================================================================================

// Login autentica un cliente con email/password.
func (a *Auth) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	in, err := normCredentials(email, password)
	if err != nil {
		return nil, err
	}
	return a.login(ctx, session.AudienceUser, session.ProfileFor(session.AudienceUser).LoginPath, in.Email, in)
}

// Register da de alta un cliente; el backend responde con sesión iniciada.
func (a *Auth) Register(ctx context.Context, in RegisterInput) (*LoginResult, error) {
	if err := normRegister(&in); err != nil {
		return nil, err
	}
	return a.login(ctx, session.AudienceUser, session.PathRegister, in.Email, in)
}

// SendLoginOTP pide un código por SMS. Arranca la ventana de cooldown del
// reenvío pero no se bloquea por ella.
func (a *Auth) SendLoginOTP(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ErrMissingFields
	}
	if _, err := a.limiter.Allow(ctx, otpKey(phone)); err != nil {
		logger.From(ctx).Warn("otp limiter unavailable", logger.Component("api.auth"), logger.Err(err))
	}
	return a.client.JSON(ctx, http.MethodPost, session.PathSendLoginOTP, otpBody{Phone: phone}, nil)
}

// ResendOTP reenvía el código si el cooldown lo permite; si no retorna
// *CooldownError (errors.Is(err, ErrCooldown)).
func (a *Auth) ResendOTP(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ErrMissingFields
	}
	res, err := a.limiter.Allow(ctx, otpKey(phone))
	switch {
	case err != nil:
		// sin limiter disponible decide el servidor
		logger.From(ctx).Warn("otp limiter unavailable", logger.Component("api.auth"), logger.Err(err))
	case !res.Allowed:
		return &CooldownError{RetryAfter: res.RetryAfter}
	}
	return a.client.JSON(ctx, http.MethodPost, session.PathResendOTP, otpBody{Phone: phone}, nil)
}

// VerifyOTP completa el login por OTP.
func (a *Auth) VerifyOTP(ctx context.Context, phone, code string) (*LoginResult, error) {
	in := otpBody{Phone: strings.TrimSpace(phone), OTP: strings.TrimSpace(code)}
	if in.Phone == "" || in.OTP == "" {
		return nil, ErrMissingFields
	}
	return a.login(ctx, session.AudienceUser, session.PathVerifyOTP, in.Phone, in)
}

// Logout cierra la sesión de cliente.
func (a *Auth) Logout(ctx context.Context) error { return a.logout(ctx, session.AudienceUser) }

// =================================================================================
// ADMIN
// =================================================================================

// AdminLogin autentica un administrador.
func (a *Auth) AdminLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	in, err := normCredentials(email, password)
	if err != nil {
		return nil, err
	}
	return a.login(ctx, session.AudienceAdmin, session.ProfileFor(session.AudienceAdmin).LoginPath, in.Email, in)
}

// AdminSignup da de alta un administrador.
func (a *Auth) AdminSignup(ctx context.Context, in RegisterInput) (*LoginResult, error) {
	if err := normRegister(&in); err != nil {
		return nil, err
	}
	return a.login(ctx, session.AudienceAdmin, session.PathAdminSignup, in.Email, in)
}

// AdminLogout cierra la sesión de administrador.
func (a *Auth) AdminLogout(ctx context.Context) error { return a.logout(ctx, session.AudienceAdmin) }

// =================================================================================
// EMPLOYEE
// =================================================================================

// StaffLogin autentica un empleado.
func (a *Auth) StaffLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	in, err := normCredentials(email, password)
	if err != nil {
		return nil, err
	}
	return a.login(ctx, session.AudienceEmployee, session.ProfileFor(session.AudienceEmployee).LoginPath, in.Email, in)
}

// StaffLogout cierra la sesión de empleado.
func (a *Auth) StaffLogout(ctx context.Context) error { return a.logout(ctx, session.AudienceEmployee) }

// =================================================================================
// INTERNOS
// =================================================================================

// login hace el POST público y establece la sesión. who (email o teléfono)
// solo se usa enmascarado en logs.
func (a *Auth) login(ctx context.Context, aud session.Audience, path, who string, body any) (*LoginResult, error) {
	log := logger.From(ctx).With(
		logger.Component("api.auth"),
		logger.Op("login"),
		logger.Audience(aud.String()),
		logger.Path(path),
		logger.String("who", util.MaskEmail(who)),
	)

	req, err := session.NewJSONRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	req.Audience = aud
	resp, err := a.client.Do(ctx, req)
	if err != nil {
		log.Debug("login rejected", logger.Kind(string(session.KindOf(err))), logger.Err(err))
		return nil, err
	}

	tp, ok := session.ParseTokens(resp.Body)
	if !ok {
		log.Warn("login response without usable token", logger.Status(resp.Status))
		return nil, ErrNoToken
	}
	user := parseUser(resp.Body)
	if user != nil && user.Role != "" {
		a.sc.Store().SetRole(ctx, user.Role)
	}
	a.sc.Establish(ctx, session.Credential{
		Audience:     aud,
		AccessToken:  tp.AccessToken,
		RefreshToken: tp.RefreshToken,
	}, user)
	return &LoginResult{Audience: aud, User: user}, nil
}

// logout avisa al servidor y borra localmente aunque el servidor falle.
func (a *Auth) logout(ctx context.Context, aud session.Audience) error {
	log := logger.From(ctx).With(
		logger.Component("api.auth"),
		logger.Op("logout"),
		logger.Audience(aud.String()),
	)
	// Sin access token no hay nada que avisar; puede quedar un refresh huérfano.
	if a.sc.Store().Has(ctx, aud) {
		req := session.NewRequest(http.MethodPost, session.ProfileFor(aud).LogoutPath)
		req.Audience = aud
		if _, err := a.client.Do(ctx, req); err != nil {
			log.Warn("server logout failed, clearing local session anyway", logger.Err(err))
		}
	}
	a.sc.Terminate(ctx, aud, session.ReasonUserLogout)

	remaining := false
	for _, other := range session.Audiences {
		if a.sc.Store().Has(ctx, other) {
			remaining = true
			break
		}
	}
	if !remaining {
		a.sc.Store().SetRole(ctx, "")
	}
	return nil
}

func normCredentials(email, password string) (credentials, error) {
	in := credentials{Email: strings.ToLower(strings.TrimSpace(email)), Password: password}
	if in.Email == "" || in.Password == "" {
		return in, ErrMissingFields
	}
	return in, nil
}

func normRegister(in *RegisterInput) error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Email == "" || in.Password == "" {
		return ErrMissingFields
	}
	return nil
}

func otpKey(phone string) string { return "otp:" + phone }

// parseUser acepta {data:{user}} y {user}.
func parseUser(body []byte) *User {
	var env struct {
		Data struct {
			User *User `json:"user"`
		} `json:"data"`
		User *User `json:"user"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	if env.Data.User != nil {
		return env.Data.User
	}
	return env.User
}
