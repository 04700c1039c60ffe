// Package statusapi serves playback status over HTTP: point-in-time
// snapshots, a long-poll for the next event, and a websocket event stream.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/keshon/melodeck/internal/music/status"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	defaultPollTimeout = 25 * time.Second
	maxPollTimeout     = 60 * time.Second
	writeTimeout       = 5 * time.Second
)

// Source is where status comes from; the player registry satisfies it.
type Source interface {
	Snapshot(tenantID string) (snap status.Snapshot, ok bool)
	Subscribe(tenantID string) *status.Subscription
}

type Server struct {
	src    Source
	log    zerolog.Logger
	router chi.Router
}

func New(src Source, log zerolog.Logger) *Server {
	s := &Server{src: src, log: log, router: chi.NewRouter()}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.health)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Route("/tenants/{id}", func(r chi.Router) {
		r.Get("/snapshot", s.snapshot)
		r.Get("/events/poll", s.poll)
		r.Get("/events/ws", s.stream)
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("status API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, active := s.src.Snapshot(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"active": active, "snapshot": snap})
}

// poll waits for the tenant's next event. It answers 204 when none arrives
// within the timeout query (seconds).
func (s *Server) poll(w http.ResponseWriter, r *http.Request) {
	timeout := defaultPollTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "invalid_timeout")
			return
		}
		timeout = min(time.Duration(secs)*time.Second, maxPollTimeout)
	}

	sub := s.src.Subscribe(chi.URLParam(r, "id"))
	defer sub.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev, ok := <-sub.Events():
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
	case <-r.Context().Done():
	}
}

// stream pushes every event of the tenant as a JSON text message until the
// client goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	sub := s.src.Subscribe(tenantID)
	defer sub.Close()

	conn, err := ws.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := s.log.With().Str("tenant", tenantID).Logger()
	log.Debug().Msg("status stream opened")

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("status stream write failed")
				return
			}
		case <-ctx.Done():
			log.Debug().Msg("status stream closed")
			return
		}
	}
}
