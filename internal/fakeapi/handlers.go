package fakeapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type loginBody struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Name     string `json:"name"`
	OTP      string `json:"otp"`
}

func decode(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func (s *Server) tokenResponse(a *account) map[string]any {
	access, refresh := s.issue(a)
	return map[string]any{
		"success": true,
		"data": map[string]any{
			"token":        access,
			"refreshToken": refresh,
			"user": map[string]any{
				"id":    a.ID,
				"name":  a.Name,
				"email": a.Email,
				"role":  a.Role,
			},
		},
	}
}

func (s *Server) handleLogin(aud string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in loginBody
		if err := decode(r, &in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid JSON"})
			return
		}
		a := s.lookup(aud, in.Email, in.Phone)
		if a == nil || bcrypt.CompareHashAndPassword(a.Hash, []byte(in.Password)) != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, s.tokenResponse(a))
	}
}

func (s *Server) handleRegister(aud string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in loginBody
		if err := decode(r, &in); err != nil || in.Email == "" || len(in.Password) < 6 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "email and password (6+ chars) are required"})
			return
		}
		role := "customer"
		if aud == Admin {
			role = "admin"
		}
		a, err := s.addAccount(aud, in.Email, in.Phone, in.Name, role, in.Password)
		if err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{"success": false, "message": "User already exists"})
			return
		}
		writeJSON(w, http.StatusCreated, s.tokenResponse(a))
	}
}

func (s *Server) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var in loginBody
	if err := decode(r, &in); err != nil || in.Phone == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "phone is required"})
		return
	}
	if s.lookup(User, "", in.Phone) == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "No account for this phone"})
		return
	}
	s.mu.Lock()
	s.otps[in.Phone] = DefaultOTPCode
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "OTP sent"})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var in loginBody
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid JSON"})
		return
	}
	s.mu.Lock()
	want, ok := s.otps[in.Phone]
	if ok && want == in.OTP {
		delete(s.otps, in.Phone)
	}
	s.mu.Unlock()
	if !ok || want != in.OTP {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid OTP"})
		return
	}
	writeJSON(w, http.StatusOK, s.tokenResponse(s.lookup(User, "", in.Phone)))
}

func (s *Server) handleRefresh(aud string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decode(r, &in)

		s.mu.Lock()
		s.refreshCalls[aud]++
		hook := s.OnRefresh
		fail := s.failRefresh[aud]
		s.mu.Unlock()

		if hook != nil {
			hook(aud)
		}

		s.mu.Lock()
		entry, ok := s.refresh[in.RefreshToken]
		if fail || !ok || entry.Audience != aud {
			s.mu.Unlock()
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid refresh token"})
			return
		}
		a := s.accounts[aud+":"+entry.Subject]
		flat, rotate := s.flatRefresh, s.rotateRefresh
		s.mu.Unlock()

		access := s.sign(a, s.currentEpoch(aud))
		var newRefresh string
		if rotate {
			_, newRefresh = s.issue(a)
			s.mu.Lock()
			delete(s.refresh, in.RefreshToken)
			s.mu.Unlock()
		}

		if flat {
			out := map[string]any{"token": access}
			if newRefresh != "" {
				out["refreshToken"] = newRefresh
			}
			writeJSON(w, http.StatusOK, out)
			return
		}
		data := map[string]any{"token": access}
		if newRefresh != "" {
			data["refreshToken"] = newRefresh
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failLogout
	s.mu.Unlock()
	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "logout unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var in struct {
		CarID string `json:"carId"`
		From  string `json:"from"`
		To    string `json:"to"`
	}
	if err := decode(r, &in); err != nil || in.CarID == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"success": false, "code": "VALIDATION", "message": "carId is required"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": map[string]any{"id": "bk-1", "carId": in.CarID}})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data; boundary=") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "expected multipart body, got " + ct})
		return
	}
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return
	}
	files := 0
	for _, fh := range r.MultipartForm.File {
		files += len(fh)
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data":    map[string]any{"kind": r.FormValue("kind"), "files": files},
	})
}

func (s *Server) handleSlow(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	d := s.delay
	s.mu.Unlock()
	select {
	case <-time.After(d):
	case <-r.Context().Done():
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": fmt.Sprintf("slept %s", d)})
}

func (s *Server) handleJSON(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { writeJSON(w, http.StatusOK, v) }
}

func (s *Server) lookup(aud, email, phone string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if email != "" {
		return s.accounts[aud+":"+strings.ToLower(email)]
	}
	if phone == "" {
		return nil
	}
	for _, a := range s.accounts {
		if a.Audience == aud && a.Phone == phone {
			return a
		}
	}
	return nil
}

func (s *Server) currentEpoch(aud string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch[aud]
}
