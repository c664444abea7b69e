package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Terminal and transient call dispositions reported by the vendor.
const (
	StatusQueued     = "queued"
	StatusInitiating = "initiated"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

// Answering-machine detection classifications.
const (
	AnsweredByHuman          = "human"
	AnsweredByMachineStart   = "machine_start"
	AnsweredByMachineEndBeep = "machine_end_beep"
	AnsweredByMachineEndSil  = "machine_end_silence"
	AnsweredByMachineEndOth  = "machine_end_other"
	AnsweredByFax            = "fax"
	AnsweredByUnknown        = "unknown"
)

// IsMachine reports whether an AMD classification is any answering-machine
// variant.
func IsMachine(answeredBy string) bool {
	return strings.HasPrefix(answeredBy, "machine_") || answeredBy == "fax"
}

// StatusCallback is a call-status event posted by the vendor.
type StatusCallback struct {
	CallSid         string
	CallStatus      string
	SipResponseCode string
}

// AMDCallback is an answering-detection event posted by the vendor.
type AMDCallback struct {
	CallSid    string
	AnsweredBy string
}

// CallRequest describes one outbound call placement.
type CallRequest struct {
	To     string
	From   string
	LeadID string
}

// Dialer places outbound calls through the telephony vendor. The retry
// scheduler uses it for direct redials when the scheduling channel is down.
type Dialer interface {
	PlaceCall(ctx context.Context, req CallRequest) (callSid string, err error)
}

// RESTDialer is the thin HTTP client behind Dialer.
type RESTDialer struct {
	AccountSid string
	AuthToken  string
	CallerID   string
	BaseURL    string
	// TwiMLURL answers the call webhook; StatusCallbackURL and AMD callbacks
	// point back at this service's handlers.
	TwiMLURL          string
	StatusCallbackURL string
	AMDCallbackURL    string
	HTTPClient        *http.Client
}

func (d *RESTDialer) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	if d.AccountSid == "" || d.AuthToken == "" {
		return "", fmt.Errorf("twilio credentials are required")
	}
	base := d.BaseURL
	if base == "" {
		base = "https://api.twilio.com/2010-04-01"
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", strings.TrimRight(base, "/"), d.AccountSid)

	from := req.From
	if from == "" {
		from = d.CallerID
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", from)
	form.Set("Url", appendLeadParam(d.TwiMLURL, req.LeadID))
	form.Set("StatusCallback", d.StatusCallbackURL)
	form.Set("StatusCallbackEvent", "initiated ringing answered completed")
	form.Set("MachineDetection", "DetectMessageEnd")
	if d.AMDCallbackURL != "" {
		form.Set("AsyncAmd", "true")
		form.Set("AsyncAmdStatusCallback", d.AMDCallbackURL)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build call request: %w", err)
	}
	httpReq.SetBasicAuth(d.AccountSid, d.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := d.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("place call: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("place call: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var created struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("place call: decode response: %w", err)
	}
	if created.Sid == "" {
		return "", fmt.Errorf("place call: response missing sid")
	}
	return created.Sid, nil
}

func appendLeadParam(rawURL, leadID string) string {
	if leadID == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("lead_id", leadID)
	u.RawQuery = q.Encode()
	return u.String()
}
