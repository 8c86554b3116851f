package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"keepsake/api/internal/session"
	"keepsake/api/internal/store"
)

const (
	sessionCookieName = "keepsake_session"
	maxUploadBytes    = 32 << 20
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/healthz" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/readyz" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.service.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"ok":     false,
				"status": "not_ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "ready"})
		return
	}

	// Auth entry points (no session required)
	if r.Method == http.MethodGet && r.URL.Path == "/auth/google" {
		http.Redirect(w, r, s.service.BeginGoogleAuth(), http.StatusFound)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/auth/token" {
		s.handleAuthToken(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/logout" {
		s.handleLogout(w, r)
		return
	}

	// Everything below is behind the session gate.
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/user-profile" {
		user, err := s.service.Profile(r.Context(), sess)
		if err != nil {
			status, message := mapError(err)
			writeError(w, status, message, nil)
			return
		}
		writeJSON(w, http.StatusOK, user)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 1 && parts[0] == "people" {
		switch r.Method {
		case http.MethodGet:
			people, err := s.service.ListPeople(r.Context(), sess)
			if err != nil {
				status, message := mapError(err)
				writeError(w, status, message, nil)
				return
			}
			writeJSON(w, http.StatusOK, people)
		case http.MethodPost:
			s.handleCreatePerson(w, r, sess)
		case http.MethodDelete:
			count, err := s.service.DeleteAllPeople(r.Context(), sess)
			if err != nil {
				status, message := mapError(err)
				writeError(w, status, message, nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"message":      fmt.Sprintf("%d people deleted", count),
				"deletedCount": count,
			})
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 2 && parts[0] == "people" {
		if r.Method == http.MethodDelete {
			person, err := s.service.DeletePerson(r.Context(), sess, parts[1])
			if err != nil {
				status, message := mapError(err)
				writeError(w, status, message, nil)
				return
			}
			writeJSON(w, http.StatusOK, person)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if len(parts) == 3 && parts[0] == "people" && parts[2] == "photo" {
		if r.Method == http.MethodPut {
			s.handleUpdatePhoto(w, r, sess, parts[1])
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if len(parts) == 3 && parts[0] == "people" && parts[2] == "memories" {
		if r.Method == http.MethodPost {
			s.handleAddMemory(w, r, sess, parts[1])
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	if len(parts) == 4 && parts[0] == "people" && parts[2] == "memories" {
		switch r.Method {
		case http.MethodPut:
			s.handleUpdateMemory(w, r, sess, parts[1], parts[3])
		case http.MethodDelete:
			person, err := s.service.DeleteMemory(r.Context(), sess, parts[1], parts[3])
			if err != nil {
				status, message := mapError(err)
				writeError(w, status, message, nil)
				return
			}
			writeJSON(w, http.StatusOK, person)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 5 && parts[0] == "people" && parts[2] == "memories" && parts[4] == "comments" {
		if r.Method == http.MethodPost {
			s.handleAddComment(w, r, sess, parts[1], parts[3])
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	writeError(w, http.StatusNotFound, "Not found", nil)
}

// ── Auth handlers ──

func (s *HTTPServer) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}

	sess, user, err := s.service.ExchangeCode(r.Context(), body.Code)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message, nil)
		return
	}

	s.setSessionCookie(w, sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	sid := ""
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sid = cookie.Value
	}
	s.service.Logout(r.Context(), sid)
	s.clearSessionCookie(w)
	http.Redirect(w, r, s.service.cfg.FrontendURL, http.StatusFound)
}

// ── People handlers ──

func (s *HTTPServer) handleCreatePerson(w http.ResponseWriter, r *http.Request, sess Session) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body", err)
		return
	}
	photo, err := formUpload(r, "photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid photo upload", err)
		return
	}
	defer closeUpload(photo)

	person, err := s.service.CreatePerson(r.Context(), sess, r.FormValue("name"), photo)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message, nil)
		return
	}
	writeJSON(w, http.StatusCreated, person)
}

func (s *HTTPServer) handleUpdatePhoto(w http.ResponseWriter, r *http.Request, sess Session, personID string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body", err)
		return
	}
	photo, err := formUpload(r, "photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid photo upload", err)
		return
	}
	if photo == nil {
		writeError(w, http.StatusBadRequest, "Photo is required", nil)
		return
	}
	defer closeUpload(photo)

	person, err := s.service.UpdatePersonPhoto(r.Context(), sess, personID, *photo)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message, nil)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

// ── Memory & comment handlers ──

func (s *HTTPServer) handleAddMemory(w http.ResponseWriter, r *http.Request, sess Session, personID string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body", err)
		return
	}
	photo, err := formUpload(r, "photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid photo upload", err)
		return
	}
	defer closeUpload(photo)

	person, err := s.service.AddMemory(r.Context(), sess, personID, r.FormValue("title"), r.FormValue("comment"), photo)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message, nil)
		return
	}
	writeJSON(w, http.StatusCreated, person)
}

func (s *HTTPServer) handleUpdateMemory(w http.ResponseWriter, r *http.Request, sess Session, personID, memoryID string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart body", err)
		return
	}
	photo, err := formUpload(r, "photo")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid photo upload", err)
		return
	}
	defer closeUpload(photo)

	person, err := s.service.UpdateMemory(r.Context(), sess, personID, memoryID, r.FormValue("title"), photo)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message, nil)
		return
	}
	writeJSON(w, http.StatusOK, person)
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request, sess Session, personID, memoryID string) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return
	}

	memory, err := s.service.AddComment(r.Context(), sess, personID, memoryID, body.Text)
	if err != nil {
		status, message := mapError(err)
		writeError(w, status, message, nil)
		return
	}
	writeJSON(w, http.StatusCreated, memory)
}

// ── Session gate ──

// requireSession is the blanket filter in front of every protected route.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		s.unauthorized(w)
		return Session{}, false
	}
	sess, err := s.service.SessionFromCookie(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) || errors.Is(err, store.ErrNotFound) {
			s.unauthorized(w)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"message":    "Authentication required",
		"redirectTo": "/auth/google",
	})
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, sid string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(s.service.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.service.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ── Middleware & helpers ──

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the {message, error?} body shared by every failure path.
func writeError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{"message": message}
	if err != nil {
		response["error"] = err.Error()
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// formUpload returns nil when the field is simply absent; any other failure is
// a malformed request.
func formUpload(r *http.Request, field string) (*Upload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	return &Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	}, nil
}

func closeUpload(u *Upload) {
	if u == nil {
		return
	}
	if closer, ok := u.Content.(io.Closer); ok {
		_ = closer.Close()
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
