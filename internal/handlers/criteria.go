package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/criteria"
)

// criteriaUpdate is the body of PUT /criteria. A preset other than Custom
// replaces the thresholds wholesale; otherwise the supplied fields are merged.
type criteriaUpdate struct {
	Preset string `json:"preset,omitempty"`
	criteria.Overrides
}

// GetCriteria returns a principal's criteria, or the default preset.
// GET /api/v1/principals/{principal}/criteria
func GetCriteria(svc *criteria.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := svc.Get(r.Context(), mux.Vars(r)["principal"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

// PutCriteria applies a preset or custom thresholds.
// PUT /api/v1/principals/{principal}/criteria
func PutCriteria(svc *criteria.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := mux.Vars(r)["principal"]

		var req criteriaUpdate
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		var (
			cfg core.CriteriaConfig
			err error
		)
		switch {
		case req.Preset != "" && req.Preset != criteria.PresetCustom:
			if req.MinReputation != nil || req.MinReviewCount != nil || req.MaxPrice != nil {
				writeError(w, r, core.WithDetail(core.ErrInvalidInput, "a named preset cannot be combined with custom thresholds"))
				return
			}
			cfg, err = svc.ApplyPreset(r.Context(), principal, req.Preset)
			if err == nil && req.RequireHumanApproval != nil {
				cfg, err = svc.SetHumanApproval(r.Context(), principal, *req.RequireHumanApproval)
			}
		default:
			cfg, err = svc.Update(r.Context(), principal, req.Overrides)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	}
}

// EvaluateCriteria dry-runs a deal request through the criteria gate.
// POST /api/v1/criteria/evaluate
func EvaluateCriteria(svc *criteria.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Principal string `json:"principal"`
			AgentID   string `json:"agentId"`
			Price     *int64 `json:"price"`
			PriceUSDC *int64 `json:"priceUSDC"` // alias of price
		}
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		price := req.Price
		if price == nil {
			price = req.PriceUSDC
		}
		if price == nil {
			writeError(w, r, core.WithDetail(core.ErrInvalidInput, "price is required"))
			return
		}

		decision, err := svc.Evaluate(r.Context(), req.Principal, req.AgentID, *price)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, decision)
	}
}
