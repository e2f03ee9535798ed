package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dropDatabas3/rentsession/internal/fakeapi"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t     *testing.T
	srv   *fakeapi.Server
	store string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	srv := fakeapi.New()
	t.Cleanup(srv.Close)
	return &cli{t: t, srv: srv, store: filepath.Join(t.TempDir(), "session.json")}
}

// run ejecuta una invocación completa, como un proceso nuevo.
func (c *cli) run(args ...string) (code int, stdout, stderr string) {
	c.t.Helper()
	base := []string{
		"--base-url", c.srv.URL,
		"--store", "file",
		"--store-path", c.store,
		"--env-file", "",
	}
	var out, errb bytes.Buffer
	code = run(context.Background(), append(base, args...), &out, &errb)
	return code, out.String(), errb.String()
}

func (c *cli) ok(args ...string) string {
	c.t.Helper()
	code, out, errOut := c.run(args...)
	require.Equal(c.t, exitOK, code, "stderr: %s", errOut)
	return out
}

func (c *cli) status() statusReport {
	c.t.Helper()
	var r statusReport
	require.NoError(c.t, json.Unmarshal([]byte(c.ok("--out", "json", "status")), &r))
	return r
}

func loggedIn(r statusReport, aud string) bool {
	for _, s := range r.Sessions {
		if s.Audience == aud {
			return s.LoggedIn
		}
	}
	return false
}

func TestCLI_SessionSurvivesInvocations(t *testing.T) {
	c := newCLI(t)

	out := c.ok("login", "--email", fakeapi.UserEmail, "--password", fakeapi.UserPassword)
	require.Contains(t, out, "logged in as user")

	st := c.status()
	require.True(t, loggedIn(st, "user"))
	require.Equal(t, "customer", st.Role)
	require.False(t, st.Degraded)

	c.ok("call", "GET", "/bookings")
	require.Equal(t, 1, c.srv.Calls("GET /bookings"))

	// token vencido: la próxima invocación refresca, reintenta y persiste
	c.srv.Expire(fakeapi.User)
	c.ok("call", "GET", "/cars")
	require.Equal(t, 1, c.srv.RefreshCalls(fakeapi.User))

	c.ok("call", "GET", "/cars")
	require.Equal(t, 1, c.srv.RefreshCalls(fakeapi.User), "refreshed token was persisted")
	require.Equal(t, 3, c.srv.Calls("GET /cars"))
}

func TestCLI_WrongAdminPassword(t *testing.T) {
	c := newCLI(t)
	c.ok("login", "--email", fakeapi.UserEmail, "--password", fakeapi.UserPassword)

	code, _, errOut := c.run("admin", "login", "--email", fakeapi.AdminEmail, "--password", "bad")
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "Invalid credentials")
	require.Zero(t, c.srv.TotalRefreshCalls())

	st := c.status()
	require.False(t, loggedIn(st, "admin"))
	require.True(t, loggedIn(st, "user"))
}

func TestCLI_RefreshFailureSignsOut(t *testing.T) {
	c := newCLI(t)
	c.ok("admin", "login", "--email", fakeapi.AdminEmail, "--password", fakeapi.AdminPassword)

	c.srv.Expire(fakeapi.Admin)
	c.srv.SetRefreshFailure(fakeapi.Admin, true)

	code, _, errOut := c.run("call", "GET", "/admin/dashboard")
	require.Equal(t, exitSignedOut, code)
	require.Contains(t, errOut, "sign in again (/admin/login)")
	require.False(t, loggedIn(c.status(), "admin"))
}

func TestCLI_StaffSurfaceAndLogoutAll(t *testing.T) {
	c := newCLI(t)
	c.ok("login", "--email", fakeapi.UserEmail, "--password", fakeapi.UserPassword)
	c.ok("staff", "login", "--email", fakeapi.StaffEmail, "--password", fakeapi.StaffPassword)

	c.ok("--surface", "employee", "call", "GET", "/staff/attendance")

	c.ok("logout", "--audience", "all")
	st := c.status()
	for _, s := range st.Sessions {
		require.False(t, s.LoggedIn, s.Audience)
	}
	require.Empty(t, st.Role)
	require.Equal(t, 1, c.srv.Calls("POST /auth/logout"))
	require.Equal(t, 1, c.srv.Calls("POST /staff/logout"))
	require.Zero(t, c.srv.Calls("POST /admin/logout"))
}

func TestCLI_OTPLogin(t *testing.T) {
	c := newCLI(t)
	c.ok("otp", "send", fakeapi.UserPhone)

	code, _, errOut := c.run("otp", "verify", fakeapi.UserPhone, "999999")
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "Invalid OTP")

	out := c.ok("otp", "verify", fakeapi.UserPhone, fakeapi.DefaultOTPCode)
	require.Contains(t, out, "logged in as user")
}

func TestCLI_OTPResendCooldownSpansInvocations(t *testing.T) {
	c := newCLI(t)
	c.ok("otp", "send", fakeapi.UserPhone)

	for i := 0; i < 2; i++ {
		code, out, errOut := c.run("otp", "resend", fakeapi.UserPhone)
		require.Equal(t, exitError, code, out)
		require.Contains(t, errOut, "otp resend cooling down")
	}
	require.Zero(t, c.srv.Calls("POST /auth/resend-otp"))
	require.Equal(t, 1, c.srv.Calls("POST /auth/send-login-otp"))
}

func TestCLI_Upload(t *testing.T) {
	c := newCLI(t)
	c.ok("login", "--email", fakeapi.UserEmail, "--password", fakeapi.UserPassword)

	doc := filepath.Join(t.TempDir(), "licence.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("%PDF-1.4"), 0o600))

	out := c.ok("--out", "json", "upload", "/documents", "--field", "kind=driving_licence", "--file", "file="+doc)
	var body struct {
		Data struct {
			Kind  string `json:"kind"`
			Files int    `json:"files"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, "driving_licence", body.Data.Kind)
	require.Equal(t, 1, body.Data.Files)
}

func TestCLI_DomainErrorAndMetrics(t *testing.T) {
	c := newCLI(t)
	c.ok("login", "--email", fakeapi.UserEmail, "--password", fakeapi.UserPassword)

	code, _, errOut := c.run("--metrics", "call", "POST", "/bookings", `{}`)
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "carId is required")
	require.Contains(t, errOut, `rent_client_requests_total{audience="user",method="POST",status="422"} 1`)
}

func TestCLI_BadFlags(t *testing.T) {
	c := newCLI(t)
	code, _, errOut := c.run("--out", "yaml", "status")
	require.Equal(t, exitError, code)
	require.Contains(t, errOut, "--out")

	code, _, _ = c.run("call", "GET")
	require.Equal(t, exitError, code)

	code, _, _ = c.run("--store", "sqlite", "status")
	require.Equal(t, exitError, code)
}
