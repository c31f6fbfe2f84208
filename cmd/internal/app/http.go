package app

import (
	"encoding/json"
	"net/http"

	"learnhub/cmd/internal/auth/api"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	checks []HealthCheck,
	auth *api.Handler,
	metrics http.Handler,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", readyHandler(log, checks))

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	if auth != nil {
		auth.Register(mux)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
