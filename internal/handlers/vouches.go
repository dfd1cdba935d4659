package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/vouching"
)

// HandleVouch records a signed vouch for the agent in the path.
// POST /api/v1/agents/{id}/vouch
func HandleVouch(ledger *vouching.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req vouching.SubmitRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		req.VoucheeAgentID = mux.Vars(r)["id"]

		v, err := ledger.Submit(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

// HandleWithdrawVouch removes a vouch.
// DELETE /api/v1/agents/{id}/vouch?voucherAgentId=...
func HandleWithdrawVouch(ledger *vouching.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		voucher := r.URL.Query().Get("voucherAgentId")
		if voucher == "" {
			writeError(w, r, core.WithDetail(core.ErrInvalidInput, "voucherAgentId is required"))
			return
		}

		if err := ledger.Withdraw(r.Context(), voucher, mux.Vars(r)["id"]); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleVouches lists the vouches an agent has received.
// GET /api/v1/agents/{id}/vouches
func HandleVouches(ledger *vouching.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		received, err := ledger.VouchesFor(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, received)
	}
}
