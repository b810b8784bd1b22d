// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Loop is anything that beats periodically. heartbeat.Heartbeater
// satisfies it.
type Loop interface {
	Name() string
	Interval() time.Duration
	LastBeat() time.Time
}

// LoopStatus is reported per registered loop on /livez.
type LoopStatus struct {
	Name     string    `json:"name"`
	LastBeat time.Time `json:"lastBeat"`
	Stale    bool      `json:"stale"`
}

type Response struct {
	Healthy bool         `json:"healthy"`
	Loops   []LoopStatus `json:"loops,omitempty"`
}

type registeredLoop struct {
	loop      Loop
	staleness time.Duration
}

type Server struct {
	port       int
	status     atomic.Int32
	ready      atomic.Bool
	conditions sync.Map // named readiness conditions

	loopsMu sync.RWMutex
	loops   []registeredLoop

	now    func() time.Time
	server *http.Server
}

type Config struct {
	Port int
}

const DefaultPort = 8090

// GetConfigFromEnv reads RECORDFLOW_HEALTH_PORT, falling back to
// DefaultPort on a missing or bad value.
func GetConfigFromEnv() Config {
	port := DefaultPort
	if portStr := os.Getenv("RECORDFLOW_HEALTH_PORT"); portStr != "" {
		if p, err := strconv.Atoi(portStr); err == nil && p > 0 && p < 65536 {
			port = p
		}
	}
	return Config{Port: port}
}

func NewServer(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	return &Server{port: config.Port, now: time.Now}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	slog.Debug("Ready status updated", slog.Bool("ready", ready))
}

// SetReadyCondition sets a named readiness condition. All conditions must
// be true, along with the base ready flag, for IsReady to report true.
func (s *Server) SetReadyCondition(name string, ready bool) {
	s.conditions.Store(name, ready)
	slog.Debug("Ready condition updated", slog.String("condition", name), slog.Bool("ready", ready))
}

func (s *Server) ClearReadyCondition(name string) {
	s.conditions.Delete(name)
}

func (s *Server) IsReady() bool {
	if !s.ready.Load() {
		return false
	}
	ready := true
	s.conditions.Range(func(_, value any) bool {
		if !value.(bool) {
			ready = false
			return false
		}
		return true
	})
	return ready
}

// Register adds a loop to the liveness check. A loop is stale once it has
// not beaten for longer than staleness; zero means three intervals.
func (s *Server) Register(loop Loop, staleness time.Duration) {
	if staleness <= 0 {
		staleness = 3 * loop.Interval()
	}
	s.loopsMu.Lock()
	defer s.loopsMu.Unlock()
	s.loops = append(s.loops, registeredLoop{loop: loop, staleness: staleness})
}

// Loops reports every registered loop, sorted by name.
func (s *Server) Loops() []LoopStatus {
	s.loopsMu.RLock()
	defer s.loopsMu.RUnlock()
	now := s.now()
	out := make([]LoopStatus, 0, len(s.loops))
	for _, rl := range s.loops {
		last := rl.loop.LastBeat()
		out = append(out, LoopStatus{
			Name:     rl.loop.Name(),
			LastBeat: last,
			Stale:    last.IsZero() || now.Sub(last) > rl.staleness,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsAlive is false when the server is unhealthy or any loop is stale.
func (s *Server) IsAlive() (bool, []LoopStatus) {
	loops := s.Loops()
	alive := s.GetStatus() != StatusUnhealthy
	for _, l := range loops {
		if l.Stale {
			alive = false
		}
	}
	return alive, loops
}

// Handler serves /healthz, /readyz and /livez.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/livez", s.livezHandler)
	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Starting health check server", slog.Int("port", s.port))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health check server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	slog.Info("Stopping health check server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, Response{Healthy: s.GetStatus() == StatusHealthy})
}

func (s *Server) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, Response{Healthy: s.IsReady()})
}

func (s *Server) livezHandler(w http.ResponseWriter, _ *http.Request) {
	alive, loops := s.IsAlive()
	writeResponse(w, Response{Healthy: alive, Loops: loops})
}
