package fakeapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Audiencias tal como las ve el backend.
const (
	User     = "user"
	Admin    = "admin"
	Employee = "employee"
)

// Credenciales sembradas.
const (
	UserEmail      = "user@rent.test"
	UserPhone      = "+5491100000000"
	UserPassword   = "User#2024"
	AdminEmail     = "admin@rent.test"
	AdminPassword  = "Admin#2024"
	StaffEmail     = "staff@rent.test"
	StaffPassword  = "Staff#2024"
	DefaultOTPCode = "123456"
)

type account struct {
	ID       string
	Audience string
	Email    string
	Phone    string
	Name     string
	Role     string
	Hash     []byte
}

type refreshEntry struct {
	Audience string
	Subject  string
}

// Server es el backend falso. Todos los métodos son seguros para uso
// concurrente.
type Server struct {
	*httptest.Server

	secret []byte

	mu            sync.Mutex
	accounts      map[string]*account // audience:email
	refresh       map[string]refreshEntry
	epoch         map[string]int
	otps          map[string]string
	refreshCalls  map[string]int
	calls         map[string]int
	authHeaders   map[string][]string
	failRefresh   map[string]bool
	flatRefresh   bool
	rotateRefresh bool
	failLogout    bool
	delay         time.Duration

	// OnRefresh se invoca (fuera del lock) al recibir un refresh, antes de
	// responder. Permite bloquear para provocar carreras.
	OnRefresh func(audience string)
}

// New arranca el servidor con las cuentas sembradas.
func New() *Server {
	s := &Server{
		secret:       []byte("fakeapi-" + uuid.NewString()),
		accounts:     map[string]*account{},
		refresh:      map[string]refreshEntry{},
		epoch:        map[string]int{User: 1, Admin: 1, Employee: 1},
		otps:         map[string]string{},
		refreshCalls: map[string]int{},
		calls:        map[string]int{},
		authHeaders:  map[string][]string{},
		failRefresh:  map[string]bool{},
	}
	s.mustAddAccount(User, UserEmail, UserPhone, "Ana Cliente", "customer", UserPassword)
	s.mustAddAccount(Admin, AdminEmail, "", "Root Admin", "admin", AdminPassword)
	s.mustAddAccount(Employee, StaffEmail, "", "Sol Staff", "staff", StaffPassword)

	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) mustAddAccount(aud, email, phone, name, role, password string) {
	if _, err := s.addAccount(aud, email, phone, name, role, password); err != nil {
		panic(err)
	}
}

func (s *Server) addAccount(aud, email, phone, name, role, password string) (*account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	a := &account{
		ID:       uuid.NewString(),
		Audience: aud,
		Email:    strings.ToLower(email),
		Phone:    phone,
		Name:     name,
		Role:     role,
		Hash:     hash,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := aud + ":" + a.Email
	if _, dup := s.accounts[k]; dup {
		return nil, errors.New("already registered")
	}
	s.accounts[k] = a
	return a, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	// públicas
	r.Post("/auth/login", s.handleLogin(User))
	r.Post("/auth/register", s.handleRegister(User))
	r.Post("/auth/send-login-otp", s.handleSendOTP)
	r.Post("/auth/resend-otp", s.handleSendOTP)
	r.Post("/auth/verify-otp", s.handleVerifyOTP)
	r.Post("/auth/refresh-token", s.handleRefresh(User))
	r.Post("/admin/login", s.handleLogin(Admin))
	r.Post("/admin/signup", s.handleRegister(Admin))
	r.Post("/admin/refresh-token", s.handleRefresh(Admin))
	r.Post("/staff/login", s.handleLogin(Employee))
	r.Post("/staff/refresh-token", s.handleRefresh(Employee))

	// logout (requiere credencial, pero el cliente tolera fallas)
	r.With(s.require(User)).Post("/auth/logout", s.handleLogout)
	r.With(s.require(Admin)).Post("/admin/logout", s.handleLogout)
	r.With(s.require(Employee)).Post("/staff/logout", s.handleLogout)

	// protegidas
	r.With(s.require(User)).Get("/cars", s.handleJSON(map[string]any{"success": true, "data": []map[string]any{{"id": "car-1", "model": "Corolla"}}}))
	r.With(s.require(User)).Get("/bookings", s.handleJSON(map[string]any{"success": true, "data": []any{}}))
	r.With(s.require(User)).Post("/bookings", s.handleCreateBooking)
	r.With(s.require(User)).Get("/auth/login-history", s.handleJSON(map[string]any{"success": true, "data": []any{}}))
	r.With(s.require(User)).Post("/documents", s.handleUpload)
	r.With(s.require(Admin)).Get("/admin/dashboard", s.handleJSON(map[string]any{"success": true, "data": map[string]any{"bookings": 42}}))
	r.With(s.require(Admin, User, Employee)).Get("/crm/leads", s.handleJSON(map[string]any{"success": true, "data": []any{"lead-1"}}))
	r.With(s.require(Employee)).Get("/staff/attendance", s.handleJSON(map[string]any{"success": true, "data": []any{}}))
	r.With(s.require(User)).Get("/slow", s.handleSlow)
	return r
}

// =================================================================================
// CONTROLES PARA TESTS
// =================================================================================

// Issue emite un par de tokens válido para la cuenta sembrada de la audiencia.
func (s *Server) Issue(aud string) (access, refresh string) {
	var email string
	switch aud {
	case Admin:
		email = AdminEmail
	case Employee:
		email = StaffEmail
	default:
		email = UserEmail
	}
	s.mu.Lock()
	a := s.accounts[aud+":"+email]
	s.mu.Unlock()
	return s.issue(a)
}

// Expire invalida todos los access tokens vigentes de la audiencia.
func (s *Server) Expire(aud string) {
	s.mu.Lock()
	s.epoch[aud]++
	s.mu.Unlock()
}

// SetRefreshFailure hace que el refresh de la audiencia responda 401.
func (s *Server) SetRefreshFailure(aud string, fail bool) {
	s.mu.Lock()
	s.failRefresh[aud] = fail
	s.mu.Unlock()
}

// SetFlatRefresh responde el refresh con la forma plana {token, refreshToken}.
func (s *Server) SetFlatRefresh(flat bool) {
	s.mu.Lock()
	s.flatRefresh = flat
	s.mu.Unlock()
}

// SetRotateRefresh emite un refresh token nuevo en cada refresh.
func (s *Server) SetRotateRefresh(rotate bool) {
	s.mu.Lock()
	s.rotateRefresh = rotate
	s.mu.Unlock()
}

// SetLogoutFailure hace que los logout respondan 500.
func (s *Server) SetLogoutFailure(fail bool) {
	s.mu.Lock()
	s.failLogout = fail
	s.mu.Unlock()
}

// SetDelay demora las respuestas de /slow.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// RefreshCalls cuenta las llamadas al refresh de la audiencia.
func (s *Server) RefreshCalls(aud string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls[aud]
}

// TotalRefreshCalls suma los refresh de todas las audiencias.
func (s *Server) TotalRefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.refreshCalls {
		n += v
	}
	return n
}

// Calls cuenta requests recibidos para "METHOD /path".
func (s *Server) Calls(methodPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[methodPath]
}

// AuthHeaders retorna los Authorization recibidos para "METHOD /path", en orden.
func (s *Server) AuthHeaders(methodPath string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.authHeaders[methodPath]...)
}

// LastOTP retorna el último OTP enviado al teléfono.
func (s *Server) LastOTP(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otps[phone]
}

// =================================================================================
// TOKENS
// =================================================================================

type claims struct {
	Kind  string `json:"aud_kind"`
	Epoch int    `json:"ep"`
	jwtv5.RegisteredClaims
}

func (s *Server) issue(a *account) (access, refresh string) {
	s.mu.Lock()
	ep := s.epoch[a.Audience]
	s.mu.Unlock()
	access = s.sign(a, ep)
	refresh = uuid.NewString()
	s.mu.Lock()
	s.refresh[refresh] = refreshEntry{Audience: a.Audience, Subject: a.Email}
	s.mu.Unlock()
	return access, refresh
}

func (s *Server) sign(a *account, epoch int) string {
	now := time.Now()
	c := claims{
		Kind:  a.Audience,
		Epoch: epoch,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Subject:   a.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tok, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return tok
}

func (s *Server) verify(raw string) (*claims, error) {
	c := &claims{}
	_, err := jwtv5.ParseWithClaims(raw, c, func(t *jwtv5.Token) (any, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	cur := s.epoch[c.Kind]
	s.mu.Unlock()
	if c.Epoch != cur {
		return nil, errors.New("token expired")
	}
	return c, nil
}

// =================================================================================
// MIDDLEWARES
// =================================================================================

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls[k]++
		s.authHeaders[k] = append(s.authHeaders[k], r.Header.Get("Authorization"))
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) require(auds ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Authentication required"})
				return
			}
			c, err := s.verify(raw)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Token expired"})
				return
			}
			for _, a := range auds {
				if c.Kind == a {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Wrong audience"})
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
