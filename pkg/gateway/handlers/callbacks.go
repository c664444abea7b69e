package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/mw"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

// StatusHandler receives the vendor's call-status callbacks. Malformed
// requests get a typed 400; an unknown call sid is logged and ignored with
// a 200 so the vendor stops retrying.
type StatusHandler struct {
	Coordinator *Coordinator
	Logger      *slog.Logger
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, &mw.APIError{
			Code: "method_not_allowed", Message: "use POST", RequestID: reqID,
		})
		return
	}
	if err := r.ParseForm(); err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, &mw.APIError{
			Code: "bad_request", Message: "invalid form body", RequestID: reqID,
		})
		return
	}
	cb := twilio.StatusCallback{
		CallSid:         strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus:      strings.TrimSpace(r.PostFormValue("CallStatus")),
		SipResponseCode: strings.TrimSpace(r.PostFormValue("SipResponseCode")),
	}
	if cb.CallSid == "" || cb.CallStatus == "" {
		mw.WriteJSONError(w, http.StatusBadRequest, &mw.APIError{
			Code: "bad_request", Message: "CallSid and CallStatus are required", RequestID: reqID,
		})
		return
	}

	if !h.Coordinator.StatusReceived(cb) {
		h.Logger.Warn("status callback ignored",
			"call_sid", cb.CallSid, "call_status", cb.CallStatus, "request_id", reqID)
	}
	w.WriteHeader(http.StatusOK)
}

// AMDHandler receives the vendor's answering-detection callbacks.
type AMDHandler struct {
	Coordinator *Coordinator
	Logger      *slog.Logger
}

func (h AMDHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		mw.WriteJSONError(w, http.StatusMethodNotAllowed, &mw.APIError{
			Code: "method_not_allowed", Message: "use POST", RequestID: reqID,
		})
		return
	}
	if err := r.ParseForm(); err != nil {
		mw.WriteJSONError(w, http.StatusBadRequest, &mw.APIError{
			Code: "bad_request", Message: "invalid form body", RequestID: reqID,
		})
		return
	}
	cb := twilio.AMDCallback{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		AnsweredBy: strings.TrimSpace(r.PostFormValue("AnsweredBy")),
	}
	if cb.CallSid == "" || cb.AnsweredBy == "" {
		mw.WriteJSONError(w, http.StatusBadRequest, &mw.APIError{
			Code: "bad_request", Message: "CallSid and AnsweredBy are required", RequestID: reqID,
		})
		return
	}

	if !h.Coordinator.AMDReceived(cb) {
		h.Logger.Warn("amd callback ignored",
			"call_sid", cb.CallSid, "answered_by", cb.AnsweredBy, "request_id", reqID)
	}
	w.WriteHeader(http.StatusOK)
}
