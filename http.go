package rfbserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DebugRouter returns the operational HTTP surface: Prometheus
// metrics, a health probe and a session listing.
func DebugRouter(srv *Server) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		type sessionInfo struct {
			Remote string `json:"remote"`
			State  string `json:"state"`
		}
		var out []sessionInfo
		for _, sess := range srv.Sessions() {
			out = append(out, sessionInfo{Remote: sess.Remote(), State: sess.State().String()})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	return r
}

// ListenDebug serves the debug router until the context is cancelled.
func ListenDebug(ctx context.Context, srv *Server, addr string) error {
	hs := &http.Server{Addr: addr, Handler: DebugRouter(srv)}
	go func() {
		<-ctx.Done()
		hs.Close()
	}()
	return hs.ListenAndServe()
}
