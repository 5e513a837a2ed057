package server

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/config"
)

// Chain wraps h so that the first middleware listed sees requests first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// CORSMiddleware answers preflights and sets CORS headers for the allowed
// origins. "*" allows any origin. With no origins it does nothing.
func CORSMiddleware(origins []string, authHeaderName string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	headers := []string{"Content-Type", "Authorization", "X-API-Key"}
	if authHeaderName != "" && !strings.EqualFold(authHeaderName, "Authorization") && !strings.EqualFold(authHeaderName, "X-API-Key") {
		headers = append(headers, authHeaderName)
	}
	allowHeaders := strings.Join(headers, ", ")

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowed["*"] || allowed[origin]) {
				h := w.Header()
				if allowed["*"] {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Max-Age", "86400")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// previewCSP lets rendered pages use their inline styles and be framed by
// the editor, and nothing else.
const previewCSP = "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; " +
	"font-src 'self' data:; connect-src 'self'; frame-ancestors 'self'"

// SecurityHeadersMiddleware sets the headers every response carries.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("X-Frame-Options", "SAMEORIGIN")
			h.Set("Content-Security-Policy", previewCSP)
			next.ServeHTTP(w, r)
		})
	}
}

// apiKey extracts the presented key from header, unwrapping a Bearer token
// when the header is Authorization.
func apiKey(r *http.Request, header string) (string, string) {
	token := r.Header.Get(header)
	if token == "" {
		return "", "authentication required"
	}
	if strings.EqualFold(header, "Authorization") {
		bearer, ok := strings.CutPrefix(token, "Bearer ")
		if !ok || bearer == "" {
			return "", "invalid authorization format, expected Bearer token"
		}
		return bearer, ""
	}
	return token, ""
}

// AuthMiddleware requires the configured API key. Preflights pass so CORS
// can answer them. Without a key every request passes.
func AuthMiddleware(authCfg *config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		want := authCfg.GetAPIKey()
		if want == "" {
			return next
		}
		header := authCfg.GetHeaderName()
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			got, problem := apiKey(r, header)
			if problem != "" {
				writeError(w, http.StatusUnauthorized, problem)
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status a handler wrote. It hijacks through
// to the underlying writer so editor websockets still upgrade.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot hijack")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// RequestLogMiddleware logs each request at debug level, and server errors
// at error level.
func RequestLogMiddleware(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			took := time.Since(start)
			if rec.status >= 500 {
				logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", took)
				return
			}
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", took)
		})
	}
}
