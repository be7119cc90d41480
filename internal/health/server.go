package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Checker probes the ledger and every configured chain endpoint.
type Checker struct {
	DBPing func(ctx context.Context) error
	Chains func(ctx context.Context) map[string]error
}

type report struct {
	Status string            `json:"status"`
	DB     string            `json:"db,omitempty"`
	Chains map[string]string `json:"chains,omitempty"`
}

// Serve starts a minimal /healthz handler. The payload carries one
// entry per chain so a single dead RPC endpoint is identifiable.
func Serve(addr string, checker Checker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		rep := report{Status: "ok"}
		code := http.StatusOK

		if checker.DBPing != nil {
			rep.DB = "ok"
			if err := checker.DBPing(ctx); err != nil {
				rep.DB = "fail"
				code = http.StatusServiceUnavailable
			}
		}
		if checker.Chains != nil {
			rep.Chains = map[string]string{}
			for id, err := range checker.Chains(ctx) {
				if err != nil {
					rep.Chains[id] = "fail"
					code = http.StatusServiceUnavailable
				} else {
					rep.Chains[id] = "ok"
				}
			}
		}
		if code != http.StatusOK {
			rep.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
