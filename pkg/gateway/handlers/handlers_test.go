package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/report"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/retry"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/call/session"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/gateway/lifecycle"
	"github.com/pranitl/elevenlabs-twilio-ai-caller-sub002/pkg/twilio"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDialer struct {
	mu    sync.Mutex
	calls []twilio.CallRequest
	err   error
	sid   string
}

func (f *fakeDialer) PlaceCall(_ context.Context, req twilio.CallRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, req)
	if f.sid == "" {
		return "CA-test", nil
	}
	return f.sid, nil
}

// webhookSink captures report payloads delivered during a test.
type webhookSink struct {
	mu       sync.Mutex
	payloads []report.Payload
	srv      *httptest.Server
}

func newWebhookSink(t *testing.T) *webhookSink {
	t.Helper()
	s := &webhookSink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p report.Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		s.mu.Lock()
		s.payloads = append(s.payloads, p)
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *webhookSink) delivered() []report.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]report.Payload(nil), s.payloads...)
}

type coordFixture struct {
	store   *session.Store
	channel *retry.MockChannel
	sink    *webhookSink
	coord   *Coordinator
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	store := session.NewStore(2, nil)
	channel := retry.NewMockChannel()
	sink := newWebhookSink(t)
	sched := retry.NewScheduler(store, channel, nil, retry.SchedulerConfig{}, discardLogger())
	reporter := report.NewReporter(report.ReporterConfig{
		URL: sink.srv.URL, MaxAttempts: 1, BaseDelay: time.Millisecond,
	}, sink.srv.Client(), discardLogger())
	return &coordFixture{
		store:   store,
		channel: channel,
		sink:    sink,
		coord: &Coordinator{
			Store:     store,
			Scheduler: sched,
			Reporter:  reporter,
			Log:       discardLogger(),
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func postForm(h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusHandlerRejectsNonPost(t *testing.T) {
	fx := newCoordFixture(t)
	h := StatusHandler{Coordinator: fx.coord, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodGet, "/call-status", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusHandlerRequiresFields(t *testing.T) {
	fx := newCoordFixture(t)
	h := StatusHandler{Coordinator: fx.coord, Logger: discardLogger()}

	rec := postForm(h, "/call-status", url.Values{"CallSid": {"CA1"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "bad_request" {
		t.Fatalf("error code = %q", body.Error.Code)
	}
}

func TestStatusHandlerIgnoresUnknownCallSid(t *testing.T) {
	fx := newCoordFixture(t)
	h := StatusHandler{Coordinator: fx.coord, Logger: discardLogger()}

	rec := postForm(h, "/call-status", url.Values{
		"CallSid": {"CA-unknown"}, "CallStatus": {"completed"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTerminalFailureSchedulesRetryAndReports(t *testing.T) {
	fx := newCoordFixture(t)
	fx.coord.CallPlaced("lead-1", "CA1", "+15550100")

	h := StatusHandler{Coordinator: fx.coord, Logger: discardLogger()}
	rec := postForm(h, "/call-status", url.Values{
		"CallSid": {"CA1"}, "CallStatus": {"no-answer"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	waitFor(t, "retry request", func() bool { return len(fx.channel.Requests()) == 1 })
	reqs := fx.channel.Requests()
	if reqs[0].LeadID != "lead-1" || reqs[0].PhoneNumber != "+15550100" || reqs[0].Reason != "no-answer" {
		t.Fatalf("unexpected retry request: %+v", reqs[0])
	}

	waitFor(t, "report delivery", func() bool { return len(fx.sink.delivered()) == 1 })
	p := fx.sink.delivered()[0]
	if p.LeadID != "lead-1" || p.CallSid != "CA1" || p.Status != session.StatusNoAnswer {
		t.Fatalf("unexpected payload: lead=%q sid=%q status=%q", p.LeadID, p.CallSid, p.Status)
	}
	if p.Summary.Outcome != "no_answer" {
		t.Fatalf("outcome = %q", p.Summary.Outcome)
	}

	// The session is released after reporting.
	waitFor(t, "session release", func() bool {
		_, ok := fx.store.Lookup("CA1")
		return !ok
	})
}

func TestCompletedCallWaitsForStreamState(t *testing.T) {
	fx := newCoordFixture(t)
	fx.coord.CallPlaced("lead-1", "CA1", "+15550100")

	h := StatusHandler{Coordinator: fx.coord, Logger: discardLogger()}
	postForm(h, "/call-status", url.Values{
		"CallSid": {"CA1"}, "CallStatus": {"completed"},
	})

	// No stream state yet, so the report is held back.
	time.Sleep(50 * time.Millisecond)
	if n := len(fx.sink.delivered()); n != 0 {
		t.Fatalf("report fired early, got %d deliveries", n)
	}

	fx.coord.StreamEnded("CA1", report.Inputs{})
	waitFor(t, "report delivery", func() bool { return len(fx.sink.delivered()) == 1 })
	if p := fx.sink.delivered()[0]; p.Summary.Outcome != "completed" {
		t.Fatalf("outcome = %q", p.Summary.Outcome)
	}
	if len(fx.channel.Requests()) != 0 {
		t.Fatalf("unexpected retry for completed call: %+v", fx.channel.Requests())
	}
}

func TestGraceTimerAfterStreamReportStaysQuiet(t *testing.T) {
	fx := newCoordFixture(t)
	fx.coord.CallPlaced("lead-1", "CA1", "+15550100")

	h := StatusHandler{Coordinator: fx.coord, Logger: discardLogger()}
	postForm(h, "/call-status", url.Values{
		"CallSid": {"CA1"}, "CallStatus": {"completed"},
	})

	// Stream ends inside the grace window and reports first.
	fx.coord.StreamEnded("CA1", report.Inputs{})
	waitFor(t, "report delivery", func() bool { return len(fx.sink.delivered()) == 1 })

	// A grace timer losing the race and firing after the report consumed
	// the pending entry must not resurrect it as a second, empty report.
	fx.coord.graceExpired("CA1")
	time.Sleep(50 * time.Millisecond)
	if n := len(fx.sink.delivered()); n != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", n)
	}
}

func TestAMDMachineVerdictAfterTerminalStatus(t *testing.T) {
	fx := newCoordFixture(t)
	fx.coord.CallPlaced("lead-1", "CA1", "+15550100")

	status := StatusHandler{Coordinator: fx.coord, Logger: discardLogger()}
	postForm(status, "/call-status", url.Values{
		"CallSid": {"CA1"}, "CallStatus": {"completed"},
	})
	time.Sleep(20 * time.Millisecond)
	if len(fx.channel.Requests()) != 0 {
		t.Fatal("completed call should not retry before AMD")
	}

	amd := AMDHandler{Coordinator: fx.coord, Logger: discardLogger()}
	rec := postForm(amd, "/amd-status", url.Values{
		"CallSid": {"CA1"}, "AnsweredBy": {"machine_end_beep"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	waitFor(t, "voicemail retry", func() bool { return len(fx.channel.Requests()) == 1 })
	if reqs := fx.channel.Requests(); reqs[0].Reason != "voicemail" {
		t.Fatalf("retry reason = %q", reqs[0].Reason)
	}
}

func TestAMDHandlerRequiresFields(t *testing.T) {
	fx := newCoordFixture(t)
	h := AMDHandler{Coordinator: fx.coord, Logger: discardLogger()}

	rec := postForm(h, "/amd-status", url.Values{"CallSid": {"CA1"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCallsHandlerPlacesCall(t *testing.T) {
	fx := newCoordFixture(t)
	dialer := &fakeDialer{sid: "CA9"}
	h := CallsHandler{Coordinator: fx.coord, Dialer: dialer, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodPost, "/calls",
		strings.NewReader(`{"lead_id":"lead-7","phone_number":"+15550100"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp placeCallResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LeadID != "lead-7" || resp.CallSid != "CA9" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	sess, ok := fx.store.Lookup("CA9")
	if !ok || sess.PhoneNumber != "+15550100" {
		t.Fatalf("unexpected session: %+v ok=%v", sess, ok)
	}
}

func TestCallsHandlerGeneratesLeadID(t *testing.T) {
	fx := newCoordFixture(t)
	h := CallsHandler{Coordinator: fx.coord, Dialer: &fakeDialer{}, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodPost, "/calls",
		strings.NewReader(`{"phone_number":"+15550100"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp placeCallResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.LeadID, "lead_") {
		t.Fatalf("lead id = %q", resp.LeadID)
	}
}

func TestCallsHandlerRequiresPhoneNumber(t *testing.T) {
	fx := newCoordFixture(t)
	h := CallsHandler{Coordinator: fx.coord, Dialer: &fakeDialer{}, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader(`{"lead_id":"x"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCallsHandlerUpstreamFailure(t *testing.T) {
	fx := newCoordFixture(t)
	h := CallsHandler{Coordinator: fx.coord, Dialer: &fakeDialer{err: context.DeadlineExceeded}, Logger: discardLogger()}

	req := httptest.NewRequest(http.MethodPost, "/calls",
		strings.NewReader(`{"phone_number":"+15550100"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTwiMLHandlerConnectsStream(t *testing.T) {
	h := TwiMLHandler{StreamURL: "wss://example.test/media-stream"}
	req := httptest.NewRequest(http.MethodPost, "/twiml?lead_id=lead-3", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `url="wss://example.test/media-stream"`) {
		t.Fatalf("missing stream url: %s", body)
	}
	if !strings.Contains(body, `name="lead_id"`) || !strings.Contains(body, `value="lead-3"`) {
		t.Fatalf("missing lead parameter: %s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("content type = %q", ct)
	}
}

func TestReadyHandlerReportsDraining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	h := ReadyHandler{Lifecycle: lc, Store: session.NewStore(2, nil)}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	lc.SetDraining(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status while draining = %d", rec.Code)
	}
	var body struct {
		OK       bool `json:"ok"`
		Draining bool `json:"draining"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.OK || !body.Draining {
		t.Fatalf("unexpected body: %+v", body)
	}
}
