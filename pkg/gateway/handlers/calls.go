package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/mw"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

// CallsHandler places outbound calls.
type CallsHandler struct {
	Coordinator *Coordinator
	Dialer      twilio.Dialer
	Logger      *slog.Logger
}

type placeCallRequest struct {
	LeadID      string `json:"lead_id"`
	PhoneNumber string `json:"phone_number"`
}

type placeCallResponse struct {
	LeadID  string `json:"lead_id"`
	CallSid string `json:"call_sid"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, &mw.APIError{
			Code: "method_not_allowed", Message: "use POST", RequestID: reqID,
		})
		return
	}

	var req placeCallRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, &mw.APIError{
			Code: "bad_request", Message: "invalid json body", RequestID: reqID,
		})
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		mw.WriteJSONError(w, http.StatusBadRequest, &mw.APIError{
			Code: "bad_request", Message: "phone_number is required", Param: "phone_number", RequestID: reqID,
		})
		return
	}
	if strings.TrimSpace(req.LeadID) == "" {
		req.LeadID = "lead_" + uuid.NewString()
	}

	callSid, err := h.Dialer.PlaceCall(r.Context(), twilio.CallRequest{
		To:     req.PhoneNumber,
		LeadID: req.LeadID,
	})
	if err != nil {
		h.Logger.Error("call placement failed", "lead_id", req.LeadID, "error", err, "request_id", reqID)
		mw.WriteJSONError(w, http.StatusBadGateway, &mw.APIError{
			Code: "upstream_error", Message: "call placement failed", RequestID: reqID,
		})
		return
	}
	h.Coordinator.CallPlaced(req.LeadID, callSid, req.PhoneNumber)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(placeCallResponse{LeadID: req.LeadID, CallSid: callSid})
}
