package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind es la clase estable de un error, para ramificar sin comparar mensajes.
type Kind string

const (
	// KindDomain: error de negocio/validación devuelto por el servidor.
	KindDomain Kind = "domain"
	// KindAuthExpired: 401 en ruta protegida. Solo llega al caller si el
	// request ya había sido reintentado tras un refresh.
	KindAuthExpired Kind = "auth_expired"
	// KindSessionTerminal: no hubo refresh posible; la credencial se borró.
	KindSessionTerminal Kind = "session_terminal"
	// KindNetwork: sin respuesta (conexión, DNS, timeout).
	KindNetwork Kind = "network"
	// KindPublicAuth: 401 en ruta pública (credenciales u OTP inválidos).
	KindPublicAuth Kind = "public_auth"
)

// Errores base; se envuelven en *Error como causa.
var (
	ErrNoCredential    = errors.New("session: no credential for audience")
	ErrNoRefreshToken  = errors.New("session: no refresh token for audience")
	ErrRefreshRejected = errors.New("session: refresh rejected")
	ErrTimeout         = errors.New("session: request timed out")
)

// Error es el error que devuelve el Client.
type Error struct {
	Kind     Kind
	Code     string // código del servidor si vino uno
	Message  string // mensaje del servidor, textual
	Status   int    // 0 si no hubo respuesta
	Audience Audience
	Method   string
	Path     string
	Err      error // causa
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if e.Method != "" || e.Path != "" {
		fmt.Fprintf(&b, " %s %s", e.Method, e.Path)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is permite errors.Is(err, &Error{Kind: KindNetwork}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind != "" && t.Kind == e.Kind && t.Status == 0 && t.Err == nil
}

// Timeout indica si la causa fue un timeout.
func (e *Error) Timeout() bool { return errors.Is(e.Err, ErrTimeout) }

// KindOf retorna la clase del error ("" si no es *Error).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind verifica la clase del error.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// errorBody contempla las formas de error que devuelve el backend.
type errorBody struct {
	Success *bool  `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Msg     string `json:"msg"`
}

// parseServerError extrae code/message del body; si no es JSON usa el texto.
func parseServerError(status int, body []byte) (code, message string) {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Message != "":
			message = eb.Message
		case eb.Error != "":
			message = eb.Error
		case eb.Msg != "":
			message = eb.Msg
		}
		code = eb.Code
	} else if txt := strings.TrimSpace(string(body)); txt != "" && len(txt) <= 512 {
		message = txt
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return code, message
}
