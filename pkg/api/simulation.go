package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pulseworks/readycheck/pkg/simulation"
)

// handleSimulation runs a scenario synchronously and returns the graded
// result. A run is self-contained: it builds its own world, engine stack,
// and throwaway journal, and never touches the daemon's live state.
func (s *Server) handleSimulation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var scenario simulation.Scenario
	if err := json.NewDecoder(r.Body).Decode(&scenario); err != nil {
		http.Error(w, `{"error":"invalid_request_body"}`, http.StatusBadRequest)
		return
	}
	if scenario.Duration <= 0 && scenario.DurationSeconds <= 0 {
		http.Error(w, `{"error":"missing_duration"}`, http.StatusBadRequest)
		return
	}

	fmt.Printf(`{"level":"info","msg":"starting_simulation","trace_id":"%s","scenario":"%s"}`+"\n",
		getTraceID(r.Context()), scenario.Name)

	result, err := simulation.RunScenario(r.Context(), scenario)
	if err != nil {
		fmt.Printf(`{"level":"error","msg":"simulation_rejected","trace_id":"%s","error":"%v"}`+"\n",
			getTraceID(r.Context()), err)
		http.Error(w, `{"error":"invalid_scenario"}`, http.StatusBadRequest)
		return
	}

	fmt.Printf(`{"level":"info","msg":"simulation_finished","trace_id":"%s","scenario":"%s","success":%t}`+"\n",
		getTraceID(r.Context()), scenario.Name, result.Success)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		fmt.Printf(`{"level":"error","msg":"failed_to_encode_response","trace_id":"%s","error":"%v"}`+"\n", getTraceID(r.Context()), err)
	}
}
