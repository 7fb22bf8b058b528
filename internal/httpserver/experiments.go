package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/duskrow/perpbacktest/internal/experiment"
)

// ExperimentStatusLookup resolves a sweep's run ID to its current
// summary. The serve command implements it by rebuilding the summary
// from the JSONL results file named after the id; ResultStore itself
// has no read method.
type ExperimentStatusLookup interface {
	Status(id string) (*experiment.Result, bool)
}

// ExperimentStatusLookupFunc adapts a plain function to ExperimentStatusLookup.
type ExperimentStatusLookupFunc func(id string) (*experiment.Result, bool)

func (f ExperimentStatusLookupFunc) Status(id string) (*experiment.Result, bool) { return f(id) }

func newExperimentStatusHandler(lookup ExperimentStatusLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		w.Header().Set("Content-Type", "application/json")

		if lookup == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "experiment status lookup is not configured"})
			return
		}

		result, ok := lookup.Status(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "unknown experiment run id", "id": id})
			return
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(result)
	}
}
