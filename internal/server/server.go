package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"statusmon/internal/health"
	"statusmon/internal/ingest"
	"statusmon/internal/storage"
)

// Error types reported in the error_type field of failure responses.
const (
	errTypeMalformed   = "malformed_input"
	errTypeUnavailable = "store_unavailable"
	errTypeNotFound    = "not_found"
	errTypeAuth        = "unauthorized"
	errTypeMethod      = "method_not_allowed"
	errTypeInternal    = "internal"
)

// remoteWriteExpansion bounds the decoded size of a remote-write body
// relative to the request body limit.
const remoteWriteExpansion = 16

// Options tunes the HTTP surface.
type Options struct {
	// APIKey, when set, is required on ingestion routes as a bearer token or
	// X-API-Key header.
	APIKey       string
	MaxBodyBytes int64
	PushInterval time.Duration
	Logger       *slog.Logger
}

// Server wraps HTTP serving of the ingestion and health API.
type Server struct {
	httpServer   *http.Server
	ingestor     *ingest.Ingestor
	aggregator   *health.Aggregator
	apiKey       string
	maxBodyBytes int64
	pushInterval time.Duration
	logger       *slog.Logger
}

// New creates a configured HTTP server.
func New(addr string, ingestor *ingest.Ingestor, aggregator *health.Aggregator, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.PushInterval <= 0 {
		opts.PushInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		ingestor:     ingestor,
		aggregator:   aggregator,
		apiKey:       opts.APIKey,
		maxBodyBytes: opts.MaxBodyBytes,
		pushInterval: opts.PushInterval,
		logger:       opts.Logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed API with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s.logRequests(mux)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errTypeNotFound, "no route for "+r.URL.Path)
	})
	mux.HandleFunc("/add", s.handleAdd)
	mux.HandleFunc("/healthcheck", s.handleOverall)
	mux.HandleFunc("/healthcheck/{service_name}", s.handleService)
	mux.HandleFunc("/api/services", s.handleServices)
	mux.HandleFunc("/ws/healthcheck", s.handleHealthWS)
	mux.HandleFunc("/prometheus/write", s.handleRemoteWrite)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !s.authorize(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	payload, err := decodeAddBody(r)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	res, err := s.ingestor.Ingest(r.Context(), payload)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Data added successfully",
		"key":     res.Key,
	})
}

// decodeAddBody accepts either a raw JSON document or a multipart upload
// carrying the document in the "file" field.
func decodeAddBody(r *http.Request) (ingest.Payload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return ingest.Decode(r.Body)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ingest.Payload{}, err
		}
		return ingest.Payload{}, &ingest.MalformedInputError{Field: "file", Reason: "multipart field is required"}
	}
	defer file.Close()
	return ingest.Decode(file)
}

func (s *Server) handleOverall(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	report := s.aggregator.Overall(r.Context())
	if report.Err != nil {
		s.logger.Error("overall health: store unavailable", "err", report.Err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"application_status": report.Status,
			"error":              report.Err.Error(),
			"error_type":         errTypeUnavailable,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	name := r.PathValue("service_name")
	host := strings.TrimSpace(r.URL.Query().Get("host"))

	report, err := s.aggregator.Service(r.Context(), name, host)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case errors.Is(err, health.ErrNotFound):
		writeError(w, http.StatusNotFound, errTypeNotFound, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		s.logger.Error("service health: store unavailable", "service", name, "err", err)
		writeError(w, http.StatusServiceUnavailable, errTypeUnavailable, err.Error())
	default:
		s.logger.Error("service health", "service", name, "err", err)
		writeError(w, http.StatusInternalServerError, errTypeInternal, err.Error())
	}
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	records, err := s.aggregator.Records(r.Context())
	if err != nil {
		s.logger.Error("list services", "err", err)
		writeError(w, http.StatusServiceUnavailable, errTypeUnavailable, err.Error())
		return
	}
	if records == nil {
		records = []health.ServiceReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generated_at": time.Now().UTC(),
		"services":     records,
	})
}

func (s *Server) handleRemoteWrite(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !s.authorize(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	req, err := ingest.DecodeRemoteWrite(r.Body, int(s.maxBodyBytes)*remoteWriteExpansion)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	res, err := s.ingestor.IngestBatch(r.Context(), ingest.FromRemoteWrite(req))
	if err != nil {
		s.writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, errTypeMalformed, err.Error())
	case errors.Is(err, ingest.ErrMalformedInput):
		s.logger.Warn("rejected status payload", "err", err)
		writeError(w, http.StatusBadRequest, errTypeMalformed, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		s.logger.Error("ingest: store unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, errTypeUnavailable, err.Error())
	default:
		s.logger.Error("ingest failed", "err", err)
		writeError(w, http.StatusInternalServerError, errTypeInternal, err.Error())
	}
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	token := r.Header.Get("X-API-Key")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) == 1 {
		return true
	}
	writeError(w, http.StatusUnauthorized, errTypeAuth, "missing or invalid API key")
	return false
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, http.StatusMethodNotAllowed, errTypeMethod, r.Method+" not allowed")
	return false
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, errorResponse{Error: message, ErrorType: errType})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
