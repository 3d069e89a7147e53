package rproxy

import (
	"encoding/json"
	"net/http"

	"github.com/zalando/rproxy/circuit"
	"github.com/zalando/rproxy/healthcheck"
)

// backendsHandler exposes the health verdicts and breaker states of
// the watched backends on the internal listener.
func backendsHandler(checker *healthcheck.Checker, breakers *circuit.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc := struct {
			Health   map[string]healthcheck.Status `json:"health"`
			Breakers []circuit.Stats               `json:"breakers"`
		}{
			Health:   checker.Snapshot(),
			Breakers: breakers.Stats(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	})
}
