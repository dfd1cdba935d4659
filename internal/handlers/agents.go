package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/maldo/backend/internal/agents"
	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/discovery"
	"github.com/maldo/backend/internal/reputation"
)

// RegisterService adds an agent to the directory.
// POST /api/v1/services/register
func RegisterService(svc *agents.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req agents.RegisterRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		agent, err := svc.Register(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, agent)
	}
}

// Discover ranks agents for a capability.
// GET /api/v1/services/discover?capability=translation&minRep=450&limit=5
//
// minRep is fixed-point with two implied decimals and filters on the
// Bayesian score.
func Discover(ranker *discovery.Ranker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := discovery.Query{Capability: q.Get("capability")}

		if v := q.Get("minRep"); v != "" {
			fixed, err := strconv.ParseInt(v, 10, 64)
			if err != nil || fixed < 0 || fixed > 500 {
				writeError(w, r, core.WithDetail(core.ErrInvalidInput, "minRep must be an integer between 0 and 500"))
				return
			}
			floor := reputation.FromFixedPoint(fixed)
			query.MinReputation = &floor
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, r, core.WithDetail(core.ErrInvalidInput, "limit must be a non-negative integer"))
				return
			}
			query.Limit = n
		}

		results, err := ranker.Discover(r.Context(), query)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"agents": results,
			"count":  len(results),
		})
	}
}

// ListAgents returns every registered agent.
// GET /api/v1/agents
func ListAgents(svc *agents.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GetAgent returns a single agent by ID.
// GET /api/v1/agents/{id}
func GetAgent(svc *agents.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agent, err := svc.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, agent)
	}
}
