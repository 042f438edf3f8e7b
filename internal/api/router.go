// Package api serves the refresh coordinator over HTTP and pushes state
// changes to websocket clients.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pricewatch/internal/model"
	"pricewatch/internal/refresh"
)

// Coordinator is the part of refresh.Coordinator the API drives.
type Coordinator interface {
	State() refresh.State
	Load(ctx context.Context, view refresh.View) error
	ToggleOverlay(kind model.OverlayKind) model.Selection
	Subscribe(fn func(refresh.State)) (unsubscribe func())
}

var _ Coordinator = (*refresh.Coordinator)(nil)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

type errorBody struct {
	Error string `json:"error"`
}

// loadResponse is returned by POST /api/v1/load.
type loadResponse struct {
	State StateDTO `json:"state"`
	Error string   `json:"error,omitempty"`
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// NewRouter sets up the HTTP routes.
func NewRouter(coord Coordinator, hub *Hub, log *slog.Logger) *http.ServeMux {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "api")
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"clients": hub.ClientCount(),
		})
	})

	mux.HandleFunc("GET /api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, NewStateDTO(coord.State()))
	})

	mux.HandleFunc("GET /api/v1/overlays", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, overlayInfo(coord.State()))
	})

	// POST /api/v1/load?range=1Y&overlays=ma-200w,band
	mux.HandleFunc("POST /api/v1/load", func(w http.ResponseWriter, r *http.Request) {
		view, err := parseView(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}

		start := time.Now()
		err = coord.Load(r.Context(), view)
		resp := loadResponse{State: NewStateDTO(coord.State())}
		if err != nil {
			log.Warn("load failed", "range", string(view.Window), "error", err, "elapsed", time.Since(start))
			resp.Error = err.Error()
		}
		writeJSON(w, statusFor(err), resp)
	})

	mux.HandleFunc("POST /api/v1/overlays/{kind}/toggle", func(w http.ResponseWriter, r *http.Request) {
		kind, err := model.ParseOverlayKind(r.PathValue("kind"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
			return
		}
		coord.ToggleOverlay(kind)
		writeJSON(w, http.StatusOK, NewStateDTO(coord.State()))
	})

	mux.HandleFunc("OPTIONS /api/v1/", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/v1/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade error", "error", err)
			return
		}
		hub.Serve(conn)
	})

	return mux
}

// parseView reads the optional range and overlays query parameters. An
// absent parameter keeps the coordinator's current value.
func parseView(r *http.Request) (refresh.View, error) {
	var view refresh.View
	q := r.URL.Query()
	if s := q.Get("range"); s != "" {
		window, err := model.ParseTimeRange(s)
		if err != nil {
			return view, err
		}
		view.Window = window
	}
	if q.Has("overlays") {
		sel, err := model.ParseSelection(q.Get("overlays"))
		if err != nil {
			return view, err
		}
		view.Selection = sel
	}
	return view, nil
}

// statusFor maps a refresh error to an HTTP status. The body always carries
// the state, which still holds the cached data.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case model.IsTransport(err), model.IsDecode(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Server runs the API HTTP server.
type Server struct {
	addr string
	srv  *http.Server
	log  *slog.Logger
}

// NewServer creates an API server on addr.
func NewServer(addr string, handler http.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr: addr,
		log:  log.With("component", "api"),
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server. Hijacked websocket connections are
// closed by the hub when its context ends.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
