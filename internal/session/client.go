package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dropDatabas3/rentsession/internal/observability/logger"
	"github.com/google/uuid"
)

// DefaultTimeout es el timeout por request si no se configura otro.
const DefaultTimeout = 30 * time.Second

// Options configura el Client.
type Options struct {
	BaseURL string

	// HTTPClient nil usa uno propio. Su Timeout no se usa: cada request
	// lleva el timeout de Options.
	HTTPClient *http.Client

	Timeout        time.Duration // default DefaultTimeout
	RefreshTimeout time.Duration // default Timeout

	// Public nil usa DefaultPublicRoutes(MatchLooseContains).
	Public *PublicRoutes

	// Resolver nil usa DefaultResolver().
	Resolver *Resolver

	Metrics   *Metrics
	UserAgent string
}

// Client es el cliente HTTP autenticado: inyecta credenciales, refresca ante
// 401 y reintenta una sola vez.
type Client struct {
	base    string
	basePth string
	http    *http.Client
	timeout time.Duration
	ua      string

	sc      *Context
	auth    *Authenticator
	coord   *Coordinator
	metrics *Metrics
	logout  map[string]Audience
}

// NewClient crea el cliente sobre el estado de sesión sc.
func NewClient(sc *Context, opts Options) (*Client, error) {
	if sc == nil {
		return nil, errors.New("session: nil Context")
	}
	u, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("session: base URL inválida %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = opts.Timeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	public := DefaultPublicRoutes(MatchLooseContains)
	if opts.Public != nil {
		public = *opts.Public
	}
	resolver := DefaultResolver()
	if opts.Resolver != nil {
		resolver = *opts.Resolver
	}

	c := &Client{
		base:    strings.TrimRight(u.String(), "/"),
		basePth: strings.TrimRight(u.Path, "/"),
		http:    hc,
		timeout: opts.Timeout,
		ua:      opts.UserAgent,
		sc:      sc,
		auth:    NewAuthenticator(sc, public, resolver),
		metrics: opts.Metrics,
		logout:  map[string]Audience{},
	}
	for _, a := range Audiences {
		c.logout[ProfileFor(a).LogoutPath] = a
	}
	c.coord = NewCoordinator(sc, c.refreshCall, opts.RefreshTimeout, opts.Metrics)
	return c, nil
}

// Session retorna el estado de sesión del cliente.
func (c *Client) Session() *Context { return c.sc }

// Coordinator expone el coordinador de refresh (estado informativo).
func (c *Client) Coordinator() *Coordinator { return c.coord }

// Do envía el request aplicando autenticación, refresh y reintento único.
func (c *Client) Do(ctx context.Context, req *PendingRequest) (*Response, error) {
	if req == nil {
		return nil, errors.New("session: nil request")
	}
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Path = c.logicalPath(req.Path)

	c.auth.Authenticate(ctx, req)
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusUnauthorized {
		return c.finish(req, resp)
	}

	switch {
	case req.Public:
		// credenciales u OTP inválidos: error de dominio, no de sesión
		return nil, c.statusError(KindPublicAuth, req, resp, nil)
	case c.isLogout(req.Path):
		return nil, c.statusError(KindDomain, req, resp, nil)
	case req.Retried:
		return nil, c.statusError(KindAuthExpired, req, resp, nil)
	}

	cred, err := c.coord.Recover(ctx, req.Audience, req.sentToken())
	if err != nil {
		return nil, c.recoverError(req, resp, err)
	}

	req.Retried = true
	req.setBearer(cred.AccessToken)
	logger.From(ctx).Debug("retrying after refresh",
		logger.Audience(req.Audience.String()),
		logger.Method(req.Method),
		logger.Path(req.Path),
		logger.Attempt(2),
	)
	resp, err = c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		return nil, c.statusError(KindAuthExpired, req, resp, nil)
	}
	return c.finish(req, resp)
}

// JSON envía in como JSON (nil = sin body) y decodifica la respuesta en out
// (nil = descartar).
func (c *Client) JSON(ctx context.Context, method, path string, in, out any) error {
	req, err := NewJSONRequest(method, path, in)
	if err != nil {
		return err
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Get es un atajo para GET sin body.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodGet, path))
}

// UploadFile es un archivo para Upload.
type UploadFile struct {
	Field   string
	Name    string
	Content io.Reader
}

// Upload envía un multipart/form-data (documentos, fotos del vehículo).
// El Content-Type con boundary lo genera el writer; el cliente no lo pisa.
func (c *Client) Upload(ctx context.Context, path string, fields map[string]string, files ...UploadFile) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req := NewRequest(http.MethodPost, path)
	req.Body = buf.Bytes()
	req.BodyKind = BodyMultipart
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.Do(ctx, req)
}

// refreshCall implementa RefreshFunc contra el endpoint de la audiencia.
func (c *Client) refreshCall(ctx context.Context, p Profile, refreshToken string) (Credential, error) {
	req, err := NewJSONRequest(http.MethodPost, p.RefreshPath, map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Audience = p.Audience
	req.Public = true

	resp, err := c.send(ctx, req)
	if err != nil {
		return Credential{}, err
	}
	if resp.Status/100 != 2 {
		return Credential{}, c.statusError(KindSessionTerminal, req, resp, nil)
	}
	tp, ok := ParseTokens(resp.Body)
	if !ok {
		return Credential{}, c.statusError(KindSessionTerminal, req, resp, errors.New("no usable token in refresh response"))
	}
	return Credential{Audience: p.Audience, AccessToken: tp.AccessToken, RefreshToken: tp.RefreshToken}, nil
}

// send hace un único intento HTTP. Solo devuelve error si no hubo respuesta.
func (c *Client) send(ctx context.Context, req *PendingRequest) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.base + req.Path
	if len(req.Query) > 0 {
		q := url.Values{}
		for k, v := range req.Query {
			q.Set(k, v)
		}
		target += "?" + q.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Method: req.Method, Path: req.Path, Audience: req.Audience, Err: err}
	}
	hr.Header = req.Header.Clone()
	if hr.Header == nil {
		hr.Header = http.Header{}
	}
	if hr.Header.Get("Accept") == "" {
		hr.Header.Set("Accept", "application/json")
	}
	if c.ua != "" {
		hr.Header.Set("User-Agent", c.ua)
	}
	rid := hr.Header.Get("X-Request-ID")
	if rid == "" {
		rid = uuid.NewString()
		hr.Header.Set("X-Request-ID", rid)
	}

	log := logger.From(ctx).With(
		logger.RequestID(rid),
		logger.Method(req.Method),
		logger.Path(req.Path),
		logger.Audience(req.Audience.String()),
	)
	start := time.Now()
	res, err := c.http.Do(hr)
	if err != nil {
		c.metrics.countRequest(req.Audience, req.Method, 0)
		cause := err
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cause = fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, err)
		}
		log.Warn("request failed without response", logger.Err(err), logger.DurationMs(time.Since(start)))
		return nil, &Error{Kind: KindNetwork, Method: req.Method, Path: req.Path, Audience: req.Audience, Err: cause}
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		c.metrics.countRequest(req.Audience, req.Method, 0)
		return nil, &Error{Kind: KindNetwork, Method: req.Method, Path: req.Path, Audience: req.Audience, Status: res.StatusCode, Err: err}
	}
	c.metrics.countRequest(req.Audience, req.Method, res.StatusCode)
	log.Debug("request completed", logger.Status(res.StatusCode), logger.DurationMs(time.Since(start)))
	return &Response{Status: res.StatusCode, Header: res.Header, Body: b}, nil
}

func (c *Client) finish(req *PendingRequest, resp *Response) (*Response, error) {
	if resp.Status >= 400 {
		return nil, c.statusError(KindDomain, req, resp, nil)
	}
	return resp, nil
}

func (c *Client) statusError(k Kind, req *PendingRequest, resp *Response, cause error) *Error {
	code, msg := parseServerError(resp.Status, resp.Body)
	return &Error{
		Kind:     k,
		Code:     code,
		Message:  msg,
		Status:   resp.Status,
		Audience: req.Audience,
		Method:   req.Method,
		Path:     req.Path,
		Err:      cause,
	}
}

// recoverError traduce el fallo del coordinador. Un fallo de red (o el
// caller cancelado) no es terminal: la sesión queda como estaba.
func (c *Client) recoverError(req *PendingRequest, resp *Response, err error) error {
	if IsKind(err, KindNetwork) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindNetwork, Method: req.Method, Path: req.Path, Audience: req.Audience, Err: err}
	}
	return c.statusError(KindSessionTerminal, req, resp, err)
}

func (c *Client) isLogout(path string) bool {
	_, ok := c.logout[normalizePath(path)]
	return ok
}

// logicalPath quita esquema/host/base path si el caller pasó una URL absoluta.
func (c *Client) logicalPath(p string) string {
	p = strings.TrimSpace(p)
	if rest, ok := trimSegmentPrefix(p, c.base); ok {
		p = rest
	} else if strings.Contains(p, "://") {
		if u, err := url.Parse(p); err == nil {
			p = u.RequestURI()
			if rest, ok := trimSegmentPrefix(p, c.basePth); ok {
				p = rest
			}
		}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// trimSegmentPrefix quita prefix solo si corta en un límite de segmento:
// "/api" se quita de "/api/x" pero no de "/api2/x".
func trimSegmentPrefix(p, prefix string) (string, bool) {
	if prefix == "" || !strings.HasPrefix(p, prefix) {
		return p, false
	}
	rest := p[len(prefix):]
	if rest == "" || rest[0] == '/' || rest[0] == '?' {
		return rest, true
	}
	return p, false
}
