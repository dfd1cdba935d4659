package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/maldo/backend/internal/agents"
	"github.com/maldo/backend/internal/rating"
	"github.com/maldo/backend/internal/reputation"
	"github.com/maldo/backend/internal/vouching"
)

// reputationView is the public reputation of one agent.
type reputationView struct {
	AgentID string `json:"agentId"`
	reputation.Snapshot
	VouchBonus float64 `json:"vouchBonus"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// HandleAgentReputation returns the Bayesian reputation and vouch bonus of an agent.
// GET /api/v1/agents/{id}/reputation
func HandleAgentReputation(dir *agents.Service, rep reputation.Source, ledger *vouching.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["id"]
		if _, err := dir.Get(r.Context(), agentID); err != nil {
			writeError(w, r, err)
			return
		}

		view := reputationView{AgentID: agentID}
		snap, err := rep.Snapshot(r.Context(), agentID)
		if err != nil {
			// Serve the zero reputation rather than fail the read.
			slog.Warn("reputation unavailable", "agent_id", agentID, "error", err)
			snap = reputation.Snapshot{Badges: []string{}}
			view.Degraded = true
		}
		view.Snapshot = snap

		bonus, err := ledger.Bonus(r.Context(), agentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		view.VouchBonus = reputation.Round2(bonus)

		writeJSON(w, http.StatusOK, view)
	}
}

// HandleRate records a participant's rating of a completed deal.
// POST /api/v1/agents/{id}/rate
func HandleRate(svc *rating.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rating.SubmitRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.AgentID = mux.Vars(r)["id"]

		rt, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rt)
	}
}
