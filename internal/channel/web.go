package channel

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"faqbot/internal/bus"
	"faqbot/internal/chat"
	"faqbot/internal/domain"
	"faqbot/internal/faq"
	"faqbot/internal/metrics"
)

const (
	maxBodySize          = 1 << 20 // 1MB
	defaultMaxUploadSize = 16 << 20
	defaultEventsLimit   = 100
)

//go:embed web_templates/*.html
var templateFS embed.FS

//go:embed web_assets/*
var assetsFS embed.FS

// Web serves the chat page and the JSON API. It answers requests directly
// through the chat service instead of the bus.
type Web struct {
	host    string
	port    int
	service *chat.Service
	index   *faq.Holder
	events  *bus.EventBus
	ws      *WebSocket
	logger  *slog.Logger
	server  *http.Server
	tmpl    *htmltemplate.Template
	version string

	maxUpload   int64
	metricsPath string

	authEnabled  bool
	authUser     string
	authPassHash string
}

type WebAuth struct {
	Enabled      bool
	Username     string
	PasswordHash string // hex SHA-256
}

type WebConfig struct {
	Host           string
	Port           int
	Service        *chat.Service
	Index          *faq.Holder
	Events         *bus.EventBus // optional; enables GET /events
	WebSocket      *WebSocket    // optional; mounted at /ws
	MaxUploadBytes int64         // default 16 MiB
	MetricsPath    string        // empty disables the Prometheus endpoint
	Auth           WebAuth       // guards /upload and /events
	Version        string
	Logger         *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Web{
		host:         cfg.Host,
		port:         cfg.Port,
		service:      cfg.Service,
		index:        cfg.Index,
		events:       cfg.Events,
		ws:           cfg.WebSocket,
		logger:       cfg.Logger,
		tmpl:         htmltemplate.Must(htmltemplate.ParseFS(templateFS, "web_templates/*.html")),
		version:      cfg.Version,
		maxUpload:    cfg.MaxUploadBytes,
		metricsPath:  cfg.MetricsPath,
		authEnabled:  cfg.Auth.Enabled,
		authUser:     cfg.Auth.Username,
		authPassHash: cfg.Auth.PasswordHash,
	}
}

func (w *Web) Name() string { return "web" }

// Handler returns the HTTP routes.
func (w *Web) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(w.observe)

	assets := http.FileServer(http.FS(assetsFS))
	r.Get("/assets/*", func(rw http.ResponseWriter, req *http.Request) {
		req.URL.Path = "/web_assets/" + chi.URLParam(req, "*")
		rw.Header().Set("Cache-Control", "public, max-age=86400")
		assets.ServeHTTP(rw, req)
	})

	r.Get("/", w.handleIndex)
	r.Get("/status", w.handleStatus)
	r.Post("/chat", w.handleChat)
	r.Post("/conversations", w.handleCreateConversation)
	r.Get("/conversations/{id}", w.handleGetConversation)
	r.Get("/conversation/{id}", w.handleGetConversation)
	r.Delete("/conversations/{id}", w.handleDeleteConversation)
	r.Post("/upload", w.requireAuth(w.handleUpload))
	if w.events != nil {
		r.Get("/events", w.requireAuth(w.handleEvents))
	}
	if w.ws != nil {
		r.Get("/ws", w.ws.ServeHTTP)
	}
	if w.metricsPath != "" {
		r.Handle(w.metricsPath, metrics.Handler())
	}
	return r
}

// Start serves until ctx is cancelled. HTTP requests are answered
// synchronously; only the WebSocket endpoint goes through the bus.
func (w *Web) Start(ctx context.Context, messageBus domain.MessageBus) error {
	if w.ws != nil {
		w.ws.Attach(messageBus)
	}
	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web channel started", "addr", "http://"+addr, "auth", w.authEnabled)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if w.ws != nil {
			w.ws.CloseAll()
		}
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

// Send is unsupported: web clients receive replies in the HTTP response.
func (w *Web) Send(ctx context.Context, chatID string, content string) error {
	return errors.New("web channel cannot push messages")
}

// observe records request metrics under the matched route pattern.
func (w *Web) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(rw, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		w.logger.Debug("http request", "method", r.Method, "route", route, "status", status,
			"duration", time.Since(started), "request_id", chimiddleware.GetReqID(r.Context()))
	})
}

// requireAuth wraps a handler with HTTP Basic Auth when auth is enabled.
func (w *Web) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !w.authEnabled {
			next(rw, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !w.checkCredentials(user, pass) {
			rw.Header().Set("WWW-Authenticate", `Basic realm="faqbot"`)
			writeError(rw, http.StatusUnauthorized, "Unauthorized", "Valid credentials are required.")
			return
		}
		next(rw, r)
	}
}

// checkCredentials verifies username and password against the stored hash.
func (w *Web) checkCredentials(user, pass string) bool {
	if subtle.ConstantTimeCompare([]byte(user), []byte(w.authUser)) != 1 {
		return false
	}
	hash := sha256.Sum256([]byte(pass))
	got := hex.EncodeToString(hash[:])
	return subtle.ConstantTimeCompare([]byte(got), []byte(w.authPassHash)) == 1
}

func (w *Web) handleIndex(rw http.ResponseWriter, r *http.Request) {
	// A failed store still renders the page; /chat assigns an ID later.
	convID, err := w.service.StartConversation(r.Context())
	if err != nil {
		w.logger.Warn("could not start conversation for page view", "err", err)
	}
	entries := 0
	if idx := w.index.Load(); idx != nil {
		entries = idx.Len()
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := w.tmpl.ExecuteTemplate(rw, "index.html", map[string]any{
		"Title":          "FAQ Chatbot",
		"ConversationID": convID,
		"Entries":        entries,
	}); err != nil {
		w.logger.Error("template error", "template", "index", "err", err)
	}
}

func (w *Web) handleStatus(rw http.ResponseWriter, r *http.Request) {
	var entries int
	var generation uint64
	if idx := w.index.Load(); idx != nil {
		entries, generation = idx.Len(), idx.Generation()
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    w.version,
		"faqEntries": entries,
		"generation": generation,
		"time":       time.Now().Format(time.RFC3339),
	})
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "Invalid input", "Request body must be a JSON object.")
		return
	}

	reply, err := w.service.Reply(r.Context(), req.ConversationID, req.Message)
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(rw, http.StatusBadRequest, "Invalid input", "Message is required.")
		return
	case err != nil:
		w.storeError(rw, "chat", err)
		return
	}
	writeJSON(rw, http.StatusOK, reply)
}

func (w *Web) handleCreateConversation(rw http.ResponseWriter, r *http.Request) {
	id, err := w.service.StartConversation(r.Context())
	if err != nil {
		w.storeError(rw, "create conversation", err)
		return
	}
	writeJSON(rw, http.StatusCreated, map[string]string{"conversation_id": id})
}

func (w *Web) handleGetConversation(rw http.ResponseWriter, r *http.Request) {
	conv, err := w.service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		w.storeError(rw, "get conversation", err)
		return
	}
	writeJSON(rw, http.StatusOK, conv)
}

func (w *Web) handleDeleteConversation(rw http.ResponseWriter, r *http.Request) {
	if err := w.service.EndConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		w.storeError(rw, "delete conversation", err)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (w *Web) handleUpload(rw http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(rw, r.Body, w.maxUpload)
	if err := r.ParseMultipartForm(w.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(rw, http.StatusRequestEntityTooLarge, "File too large",
				fmt.Sprintf("Uploads are limited to %d MB.", w.maxUpload>>20))
			return
		}
		writeError(rw, http.StatusBadRequest, "Invalid upload", "Expected a multipart form with a file field.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil || header.Filename == "" {
		writeError(rw, http.StatusBadRequest, "Invalid upload", "No file selected.")
		return
	}
	defer file.Close()

	format, err := faq.FormatForFile(header.Filename)
	if err != nil {
		writeError(rw, http.StatusBadRequest, "Invalid upload", "Invalid file type. Please upload a JSON, TXT or YAML file.")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(rw, http.StatusBadRequest, "Invalid upload", "Could not read the uploaded file.")
		return
	}
	if !utf8.Valid(data) {
		writeError(rw, http.StatusBadRequest, "Invalid upload", "The file must be UTF-8 text.")
		return
	}

	items, err := faq.DecodeDataset(data, format)
	var idx *faq.Index
	if err == nil {
		idx, err = w.index.Rebuild(items)
	}
	if err != nil {
		w.emit(bus.EventIndexRejected, map[string]any{"file": header.Filename, "error": err.Error()})
		writeError(rw, http.StatusBadRequest, "Invalid FAQ data", err.Error())
		return
	}

	w.emit(bus.EventIndexPublished, map[string]any{
		"file": header.Filename, "entries": idx.Len(), "generation": idx.Generation(),
	})
	w.logger.Info("FAQ dataset uploaded", "file", header.Filename, "entries", idx.Len(), "dropped", idx.Dropped())
	writeJSON(rw, http.StatusOK, map[string]any{
		"entries":    idx.Len(),
		"dropped":    idx.Dropped(),
		"generation": idx.Generation(),
	})
}

func (w *Web) handleEvents(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventType := q.Get("type")
	if eventType == "" {
		eventType = "*"
	}
	var since time.Time
	if s := q.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(rw, http.StatusBadRequest, "Invalid input", "since must be an RFC 3339 timestamp.")
			return
		}
		since = t
	}
	limit := defaultEventsLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(rw, http.StatusBadRequest, "Invalid input", "limit must be a positive integer.")
			return
		}
		limit = n
	}
	writeJSON(rw, http.StatusOK, map[string]any{"events": w.events.Replay(eventType, since, limit)})
}

// storeError maps service errors to HTTP responses.
func (w *Web) storeError(rw http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(rw, http.StatusNotFound, "Conversation not found", "No conversation exists with this ID.")
	case errors.Is(err, domain.ErrStoreUnavailable):
		w.logger.Error(op+" failed", "err", err)
		writeError(rw, http.StatusServiceUnavailable, "Service unavailable", "Conversation storage is unavailable. Please try again.")
	default:
		w.logger.Error(op+" failed", "err", err)
		writeError(rw, http.StatusInternalServerError, "Internal error", "The request could not be completed.")
	}
}

func (w *Web) emit(eventType string, payload map[string]any) {
	if w.events != nil {
		w.events.Emit(bus.Event{Type: eventType, Source: "web", Payload: payload})
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, short, message string) {
	writeJSON(rw, status, map[string]string{"error": short, "message": message})
}
