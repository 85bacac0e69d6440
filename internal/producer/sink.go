package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"statusmon/internal/models"
)

const requestTimeout = 10 * time.Second

// Sink delivers a record produced by a probe run.
type Sink interface {
	Emit(ctx context.Context, rec models.StatusRecord) error
}

// HTTPSink pushes records to the ingestion endpoint of a statusmon server.
type HTTPSink struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPSink configures a sink posting to <baseURL>/add.
func NewHTTPSink(baseURL, apiKey string) *HTTPSink {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &HTTPSink{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Transport: transport, Timeout: requestTimeout},
	}
}

// Emit posts rec as a JSON document.
func (s *HTTPSink) Emit(ctx context.Context, rec models.StatusRecord) error {
	if s.baseURL == "" {
		return errors.New("ingest url is not configured")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/add", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload)
		if payload.Error != "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, payload.Error)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	return nil
}

// FileSink writes each record as <service>-status-<timestamp>.json into a
// spool directory that a server watches.
type FileSink struct {
	dir string
}

// NewFileSink returns a sink writing into dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Emit writes rec atomically and returns once the file is in place.
func (s *FileSink) Emit(_ context.Context, rec models.StatusRecord) error {
	_, err := s.Write(rec)
	return err
}

// Write stores rec and returns the path of the new file.
func (s *FileSink) Write(rec models.StatusRecord) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure spool directory: %w", err)
	}
	bytes, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	path := filepath.Join(s.dir, models.StatusFileName(rec.ServiceName, rec.ObservedAt.Local()))
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return "", fmt.Errorf("write temp status file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("replace status file: %w", err)
	}
	return path, nil
}

// FallbackSink emits to Primary and, when that fails, to Secondary.
type FallbackSink struct {
	Primary   Sink
	Secondary Sink
	Logger    *slog.Logger
}

// Emit returns an error only when both sinks fail.
func (s FallbackSink) Emit(ctx context.Context, rec models.StatusRecord) error {
	err := s.Primary.Emit(ctx, rec)
	if err == nil {
		return nil
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("push failed, spooling locally", "service", rec.ServiceName, "err", err)
	if spoolErr := s.Secondary.Emit(ctx, rec); spoolErr != nil {
		return errors.Join(err, spoolErr)
	}
	return nil
}
