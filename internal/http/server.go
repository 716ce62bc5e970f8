package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/chainward/chainward/internal/log"
	"github.com/chainward/chainward/pkg/engine"
)

// StartServer exposes the engine's command/query API over HTTP.
func StartServer(port string, eng *engine.Engine) error {
	mux := NewMux(eng)
	log.GetLogger().Infof("Starting chainward server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

// NewMux wires all engine routes onto a fresh ServeMux.
func NewMux(eng *engine.Engine) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/nodes", NodesHandler(eng))
	mux.HandleFunc("/nodes/", NodeActionHandler(eng))
	mux.HandleFunc("/tasks", TasksHandler(eng))
	mux.HandleFunc("/tick", TickHandler(eng))
	mux.HandleFunc("/events", EventsHandler(eng))
	mux.HandleFunc("/metrics", MetricsHandler(eng))
	mux.HandleFunc("/verify", VerifyHandler(eng))
	mux.HandleFunc("/export/", ExportHandler(eng))
	return mux
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "chainward server is running")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

// NodesHandler lists nodes on GET and registers one on POST.
func NodesHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, eng.Nodes())
		case http.MethodPost:
			id := r.FormValue("id")
			if id == "" {
				log.GetLogger().Error("Missing 'id' parameter in POST /nodes")
				http.Error(w, "Missing 'id' parameter", http.StatusBadRequest)
				return
			}
			eng.RegisterNode(id)
			fmt.Fprintf(w, "Registered node '%s'\n", id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// NodeActionHandler handles POST /nodes/{id}/fail and /nodes/{id}/recover.
func NodeActionHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/nodes/"), "/"), "/")
		if len(parts) != 2 {
			http.Error(w, "Expected /nodes/{id}/fail or /nodes/{id}/recover", http.StatusBadRequest)
			return
		}
		id, action := parts[0], parts[1]
		var ok bool
		switch action {
		case "fail":
			ok = eng.InjectNodeFailure(id)
		case "recover":
			ok = eng.RecoverNode(id)
		default:
			http.Error(w, fmt.Sprintf("Unknown action '%s'", action), http.StatusBadRequest)
			return
		}
		if !ok {
			http.Error(w, fmt.Sprintf("Unknown node '%s'", id), http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "Node '%s': %s applied\n", id, action)
	}
}

// TasksHandler lists tasks on GET and submits one on POST. The optional
// intent_id parameter carries the caller's deduplication ID.
func TasksHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, eng.Tasks())
		case http.MethodPost:
			id, ok := eng.SubmitTask(r.FormValue("intent_id"))
			if !ok {
				// Rejection is an expected outcome, recorded in the event
				// log; 409 distinguishes it from malformed requests.
				http.Error(w, "Submission rejected", http.StatusConflict)
				return
			}
			fmt.Fprintf(w, "Submitted task '%s'\n", id)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// TickHandler runs n heartbeats (default 1) on POST.
func TickHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		n := 1
		if raw := r.FormValue("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				http.Error(w, "Invalid 'n' parameter", http.StatusBadRequest)
				return
			}
			n = parsed
		}
		for i := 0; i < n; i++ {
			eng.ProcessTick()
		}
		fmt.Fprintf(w, "Processed %d tick(s)\n", n)
	}
}

// EventsHandler returns the event log; ?recent=n bounds the window.
func EventsHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if raw := r.FormValue("recent"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				http.Error(w, "Invalid 'recent' parameter", http.StatusBadRequest)
				return
			}
			writeJSON(w, eng.RecentEvents(n))
			return
		}
		writeJSON(w, eng.Events())
	}
}

func MetricsHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, eng.Metrics())
	}
}

func VerifyHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, eng.VerifyIntegrity())
	}
}

// ExportHandler serves the flat-file audit exports: /export/tasks.csv,
// /export/nodes.csv, /export/events.csv and /export/chain.csv.
func ExportHandler(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := strings.TrimPrefix(r.URL.Path, "/export/")
		var err error
		switch name {
		case "tasks.csv":
			w.Header().Set("Content-Type", "text/csv")
			err = eng.WriteTasksCSV(w)
		case "nodes.csv":
			w.Header().Set("Content-Type", "text/csv")
			err = eng.WriteNodesCSV(w)
		case "events.csv":
			w.Header().Set("Content-Type", "text/csv")
			err = eng.WriteEventsCSV(w)
		case "chain.csv":
			w.Header().Set("Content-Type", "text/csv")
			err = eng.WriteChainCSV(w)
		default:
			http.Error(w, fmt.Sprintf("Unknown export '%s'", name), http.StatusNotFound)
			return
		}
		if err != nil {
			log.GetLogger().Errorf("Failed to export %s: %v", name, err)
		}
	}
}
