package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/deals"
)

// CreateDeal runs a deal request through the criteria gate.
// POST /api/v1/deals/create
//
// 201 with the funded deal, or 202 when a human has to decide.
func CreateDeal(svc *deals.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deals.CreateRequest
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		res, err := svc.Create(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusCreated
		if res.RequiresHumanApproval {
			status = http.StatusAccepted
		}
		writeJSON(w, status, res)
	}
}

// ListDeals returns every deal in creation order.
// GET /api/v1/deals
func ListDeals(svc *deals.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// DealStatus returns one deal.
// GET /api/v1/deals/{nonce}/status
func DealStatus(svc *deals.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Status(r.Context(), mux.Vars(r)["nonce"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// UpdateDealStatus applies a lifecycle transition reported by the chain sync.
// POST /api/v1/deals/{nonce}/status
func UpdateDealStatus(svc *deals.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status core.DealStatus `json:"status"`
		}
		if err := decode(r, &req); err != nil {
			writeError(w, r, err)
			return
		}

		d, err := svc.Transition(r.Context(), mux.Vars(r)["nonce"], req.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// PendingDeals lists the requests waiting on a principal's decision.
// GET /api/v1/deals/pending/{principal}
func PendingDeals(svc *deals.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := svc.Pending(r.Context(), mux.Vars(r)["principal"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

// ApproveDeal funds a pending request.
// POST /api/v1/deals/approve/{id}
func ApproveDeal(svc *deals.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Approve(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, d)
	}
}

// RejectDeal closes a pending request.
// POST /api/v1/deals/reject/{id}
func RejectDeal(svc *deals.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := svc.Reject(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(core.ApprovalRejected)})
	}
}
