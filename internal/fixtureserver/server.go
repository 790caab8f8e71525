// Package fixtureserver serves a small local site that shows the headers a
// browser context sends, so e2e runs can check their own configuration.
package fixtureserver

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Title is the <title> of the index page.
const Title = "browserenv fixture"

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<dl>
<dt>User-Agent</dt><dd id="user-agent">{{.UserAgent}}</dd>
<dt>Accept-Language</dt><dd id="accept-language">{{.AcceptLanguage}}</dd>
<dt>Request ID</dt><dd id="request-id">{{.RequestID}}</dd>
</dl>
<p id="viewport"></p>
<script>
document.getElementById("viewport").textContent = window.innerWidth + "x" + window.innerHeight;
</script>
</body>
</html>
`))

type indexData struct {
	Title          string
	UserAgent      string
	AcceptLanguage string
	RequestID      string
}

// EchoResponse is the body of /api/v1/echo.
type EchoResponse struct {
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	RequestID string            `json:"request_id"`
	Headers   map[string]string `json:"headers"`
}

type handlers struct {
	logger *slog.Logger
}

// NewRouter returns the fixture site.
func NewRouter(logger *slog.Logger) http.Handler {
	h := &handlers{logger: logger.With("component", "fixtureserver")}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.health)
	r.Get("/", h.index)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/echo", h.echo)
	})

	return r
}

// NewServer wraps handler in an http.Server with the usual timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Request-Id", requestID)

	err := indexTemplate.Execute(w, indexData{
		Title:          Title,
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		RequestID:      requestID,
	})
	if err != nil {
		h.logger.Error("failed to render index", "error", err)
	}
}

func (h *handlers) echo(w http.ResponseWriter, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	h.respondJSON(w, http.StatusOK, EchoResponse{
		Method:    r.Method,
		Path:      r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
		Headers:   headers,
	})
}

func (h *handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (h *handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
