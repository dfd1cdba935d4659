package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/maldo/backend/internal/core"
	"github.com/maldo/backend/internal/x402"
)

// serviceIDHeader pins the provider for a quote or a paid request.
const serviceIDHeader = "X-Maldo-Service-Id"

type paymentRequired struct {
	Version      int                `json:"x402Version"`
	Error        string             `json:"error"`
	Requirements *x402.Requirements `json:"requirements"`
}

type paidRequest struct {
	TaskDescription string `json:"taskDescription"`
	Task            string `json:"task"` // alias of taskDescription
	ClientAddress   string `json:"clientAddress"`
	Principal       string `json:"principal"`
	MaxPriceUSDC    *int64 `json:"maxPriceUsdc"`
	AgentID         string `json:"agentId"`
	ServiceID       string `json:"serviceId"` // alias of agentId
}

// QuoteService answers every unpaid request with 402 and the requirements,
// both in the body and base64 encoded in the Payment-Required header.
// GET /x402/services/{capability}
func QuoteService(svc *x402.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := svc.Quote(r.Context(), mux.Vars(r)["capability"], r.Header.Get(serviceIDHeader))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writePaymentRequired(w, req)
	}
}

// PayForService opens a deal against a signed payment. Without payment
// headers it returns 402 like the quote endpoint.
// POST /x402/services/{capability}
//
// 200 with the funded deal, or 202 when a human has to decide.
func PayForService(svc *x402.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body paidRequest
		if err := decode(r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		capability := mux.Vars(r)["capability"]
		agentID := firstNonEmpty(body.AgentID, body.ServiceID, r.Header.Get(serviceIDHeader))

		auth := x402.Authorization{
			Signature: r.Header.Get("Payment-Signature"),
			Nonce:     r.Header.Get("Payment-Nonce"),
			Amount:    r.Header.Get("Payment-Amount"),
			PayTo:     r.Header.Get("Payment-To"),
		}
		if strings.TrimSpace(auth.Signature) == "" || strings.TrimSpace(auth.Nonce) == "" {
			req, err := svc.Quote(r.Context(), capability, agentID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			writePaymentRequired(w, req)
			return
		}

		res, err := svc.Pay(r.Context(), x402.PayRequest{
			Capability: capability,
			AgentID:    agentID,
			Task:       firstNonEmpty(body.TaskDescription, body.Task),
			Client:     body.ClientAddress,
			Principal:  body.Principal,
			MaxPrice:   body.MaxPriceUSDC,
			Payment:    auth,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		status := http.StatusOK
		if res.RequiresHumanApproval {
			status = http.StatusAccepted
		}
		writeJSON(w, status, res)
	}
}

// PaidResult reports the delivery status of a deal opened over x402.
// GET /x402/deals/{nonce}/result
func PaidResult(svc *x402.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Result(r.Context(), mux.Vars(r)["nonce"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writePaymentRequired(w http.ResponseWriter, req *x402.Requirements) {
	raw, err := json.Marshal(req)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: core.CodeOf(err)})
		return
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	w.Header().Set("Payment-Required", encoded)
	w.Header().Set("X-Payment-Required", encoded)
	writeJSON(w, http.StatusPaymentRequired, paymentRequired{
		Version:      x402.Version,
		Error:        "payment required",
		Requirements: req,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
