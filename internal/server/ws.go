package server

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"statusmon/internal/health"
)

const healthWriteTimeout = 5 * time.Second

var healthUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// healthSnapshot is pushed to websocket subscribers: the overall verdict plus
// the per-service records it was computed from.
type healthSnapshot struct {
	health.Report
	Error    string                 `json:"error,omitempty"`
	Services []health.ServiceReport `json:"services"`
}

func (s *Server) buildHealthSnapshot(ctx context.Context) healthSnapshot {
	snap := healthSnapshot{Report: s.aggregator.Overall(ctx)}
	if snap.Err != nil {
		snap.Error = snap.Err.Error()
		snap.Services = []health.ServiceReport{}
		return snap
	}
	services, err := s.aggregator.Records(ctx)
	if err != nil {
		snap.Error = err.Error()
	}
	if services == nil {
		services = []health.ServiceReport{}
	}
	snap.Services = services
	return snap
}

func (s *Server) handleHealthWS(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	conn, err := healthUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.serveHealthConnection(r.Context(), conn)
}

func (s *Server) serveHealthConnection(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	if err := writeHealthPayload(conn, s.buildHealthSnapshot(ctx)); err != nil {
		return
	}

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ticker.C:
			if err := writeHealthPayload(conn, s.buildHealthSnapshot(ctx)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeHealthPayload(conn *websocket.Conn, payload healthSnapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(healthWriteTimeout))
	return conn.WriteJSON(payload)
}
