package session

import (
	"encoding/json"
	"net/http"
	"strings"
)

// BodyKind indica cómo tratar Content-Type del body.
type BodyKind int

const (
	BodyNone BodyKind = iota
	BodyJSON
	// BodyMultipart: el Content-Type (con boundary) lo define quien arma el
	// body; el cliente nunca lo pisa.
	BodyMultipart
	BodyRaw
)

// PendingRequest es un request saliente a la espera de autenticación o
// reintento. El body se guarda en memoria para poder reenviarlo.
type PendingRequest struct {
	Method   string
	Path     string
	Query    map[string]string
	Header   http.Header
	Body     []byte
	BodyKind BodyKind

	// Audience puede fijarse de antemano; si no, lo resuelve el Client.
	Audience Audience
	// Completados por el Client
	Public  bool
	Retried bool
}

// NewRequest crea un request sin body.
func NewRequest(method, path string) *PendingRequest {
	return &PendingRequest{Method: strings.ToUpper(method), Path: path, Header: http.Header{}}
}

// NewJSONRequest serializa v como body JSON.
func NewJSONRequest(method, path string, v any) (*PendingRequest, error) {
	r := NewRequest(method, path)
	if v == nil {
		return r, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	r.Body = b
	r.BodyKind = BodyJSON
	return r, nil
}

// sentToken retorna el bearer que lleva el request ("" si ninguno).
func (r *PendingRequest) sentToken() string {
	v := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(v, "Bearer "); ok {
		return t
	}
	return ""
}

func (r *PendingRequest) setBearer(token string) {
	r.Header.Set("Authorization", "Bearer "+token)
}

// Response es la respuesta ya leída.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode deserializa el body JSON en v.
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}
