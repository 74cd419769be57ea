package oracled

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alkahest/journal"
)

const defaultDecisionLimit = 100

// StatusReporter exposes the latest run summary.
type StatusReporter interface {
	Status() (RunStatus, bool)
}

// AdminServer serves health, metrics and the decision journal.
type AdminServer struct {
	store  *journal.Store
	runner StatusReporter
	oracle common.Address
	router chi.Router
}

// NewAdminServer builds the admin router.
func NewAdminServer(store *journal.Store, runner StatusReporter, oracle common.Address) *AdminServer {
	s := &AdminServer{store: store, runner: runner, oracle: oracle}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/status", s.handleStatus)
	r.Route("/decisions", func(d chi.Router) {
		d.Get("/", s.handleListDecisions)
		d.Get("/{uid}", s.handleGetDecision)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once a run has completed without a fatal error.
func (s *AdminServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, healthy := s.runner.Status()
	if !healthy {
		body := map[string]string{"status": "not_ready"}
		if status.Error != "" {
			body["error"] = status.Error
		}
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "run_id": status.RunID})
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status, _ := s.runner.Status()
	checkpoint, ok, err := s.store.Checkpoint()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body := map[string]any{
		"oracle":   s.oracle.Hex(),
		"last_run": status,
	}
	if ok {
		body["checkpoint_block"] = checkpoint
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *AdminServer) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	limit := defaultDecisionLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	entries, err := s.store.List(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": entries})
}

func (s *AdminServer) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "uid")
	if !isHash(raw) {
		http.Error(w, "uid must be a 32-byte hex string", http.StatusBadRequest)
		return
	}
	oracle := s.oracle
	if value := strings.TrimSpace(r.URL.Query().Get("oracle")); value != "" {
		if !common.IsHexAddress(value) {
			http.Error(w, "oracle must be a hex address", http.StatusBadRequest)
			return
		}
		oracle = common.HexToAddress(value)
	}
	entry, err := s.store.Get(common.HexToHash(raw), oracle)
	if errors.Is(err, journal.ErrNotFound) {
		http.Error(w, "decision not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func isHash(raw string) bool {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(trimmed) != 2*common.HashLength {
		return false
	}
	for _, c := range trimmed {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
