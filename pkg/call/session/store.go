package session

import (
	"context"
	"sync"
	"time"
)

const maxCallHistory = 32

// Handle lets the store tear down a live call during process drain.
type Handle struct {
	Cancel func()
}

type trackedCall struct {
	handle Handle
	once   sync.Once
}

// Store is the in-memory registry of call sessions (keyed by call sid) and
// retry state (keyed by lead id). All cross-component access goes through
// its synchronized accessors; nothing else holds the maps.
type Store struct {
	maxRetries int
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*CallSession
	retries  map[string]*RetryState
	tracked  map[string]*trackedCall
	wg       sync.WaitGroup
}

func NewStore(maxRetries int, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		maxRetries: maxRetries,
		now:        now,
		sessions:   make(map[string]*CallSession),
		retries:    make(map[string]*RetryState),
		tracked:    make(map[string]*trackedCall),
	}
}

// Create registers a new call session, initializing the lead's retry state
// on first contact.
func (s *Store) Create(leadID, callSid string) *CallSession {
	now := s.now()
	sess := &CallSession{
		LeadID:    leadID,
		CallSid:   callSid,
		Status:    StatusInitiating,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[callSid] = sess
	if _, ok := s.retries[leadID]; !ok {
		s.retries[leadID] = &RetryState{
			LeadID:     leadID,
			Phase:      PhaseNoHistory,
			MaxRetries: s.maxRetries,
		}
	}
	return sess
}

// Lookup returns a snapshot of the session for a call sid.
func (s *Store) Lookup(callSid string) (CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return CallSession{}, false
	}
	return snapshotSession(sess), true
}

// LeadForCall resolves the stable lead id behind a transient call sid.
func (s *Store) LeadForCall(callSid string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return "", false
	}
	return sess.LeadID, true
}

// SetPhone records the dialed number so a redial can reuse it.
func (s *Store) SetPhone(callSid, phone string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return false
	}
	sess.PhoneNumber = phone
	sess.UpdatedAt = s.now()
	return true
}

// SetStatus records a lifecycle transition. Unknown call sids report false.
func (s *Store) SetStatus(callSid string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return false
	}
	sess.Status = status
	sess.UpdatedAt = s.now()
	return true
}

// SetAnsweredBy records the answering-detection classification.
func (s *Store) SetAnsweredBy(callSid, answeredBy string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return false
	}
	sess.AnsweredBy = answeredBy
	sess.UpdatedAt = s.now()
	return true
}

// SetStream attaches the media stream identifier once the stream starts.
func (s *Store) SetStream(callSid, streamSid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return false
	}
	sess.StreamSid = streamSid
	sess.UpdatedAt = s.now()
	return true
}

// SetConversation records the AI-leg conversation identifier.
func (s *Store) SetConversation(callSid, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return false
	}
	sess.ConversationID = conversationID
	sess.UpdatedAt = s.now()
	return true
}

// AppendTranscript adds one line to the ordered transcript log.
func (s *Store) AppendTranscript(callSid, role, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[callSid]
	if !ok {
		return false
	}
	sess.Transcript = append(sess.Transcript, TranscriptLine{Role: role, Text: text, At: s.now()})
	sess.UpdatedAt = s.now()
	return true
}

// Release destroys a session after the reporter has consumed it.
func (s *Store) Release(callSid string) {
	s.mu.Lock()
	delete(s.sessions, callSid)
	entry := s.tracked[callSid]
	s.mu.Unlock()
	if entry != nil {
		s.untrack(callSid, entry)
	}
}

// RetrySnapshot returns a copy of the lead's retry state.
func (s *Store) RetrySnapshot(leadID string) (RetryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.retries[leadID]
	if !ok {
		return RetryState{}, false
	}
	return snapshotRetry(rs), true
}

// RecordAttempt appends a finished attempt to the lead's call history and
// moves a fresh lead into tracking.
func (s *Store) RecordAttempt(leadID string, attempt Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.retryLocked(leadID)
	if rs.Phase == PhaseNoHistory {
		rs.Phase = PhaseTracking
	}
	rs.CallHistory = append(rs.CallHistory, attempt)
	if len(rs.CallHistory) > maxCallHistory {
		rs.CallHistory = rs.CallHistory[len(rs.CallHistory)-maxCallHistory:]
	}
	// A fresh attempt supersedes the guard from the previous scheduling
	// round once that attempt has reached a terminal state.
	if attempt.Status.Terminal() {
		rs.RetryScheduled = false
	}
}

// SetRetryVerdict stores the outcome classifier's decision for a lead.
func (s *Store) SetRetryVerdict(leadID string, needed bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.retryLocked(leadID)
	rs.RetryNeeded = needed
	rs.RetryReason = reason
	if needed {
		rs.Phase = PhaseRetryNeeded
	} else if rs.Phase != PhaseRetryExhausted {
		rs.Phase = PhaseRetrySucceeded
	}
}

// RetryMark is the guard state captured when a retry is marked scheduled,
// so the caller can build its request from the same atomic step that took
// the guard.
type RetryMark struct {
	Attempt int
	Reason  string
}

// TryMarkRetryScheduled performs the read-modify-write of the scheduling
// guard as one atomic step. It reports false when a retry is already
// outstanding or the budget is spent, in which case exhausted tells the two
// apart.
func (s *Store) TryMarkRetryScheduled(leadID string) (mark RetryMark, ok, exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.retryLocked(leadID)
	if rs.RetryScheduled {
		return RetryMark{}, false, false
	}
	if rs.RetryCount >= rs.MaxRetries {
		rs.Phase = PhaseRetryExhausted
		return RetryMark{}, false, true
	}
	rs.RetryCount++
	rs.RetryScheduled = true
	rs.Phase = PhaseRetryScheduled
	return RetryMark{Attempt: rs.RetryCount, Reason: rs.RetryReason}, true, false
}

// UnmarkRetryScheduled rolls the guard back after a scheduling attempt that
// never produced a new call.
func (s *Store) UnmarkRetryScheduled(leadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs := s.retryLocked(leadID)
	if rs.RetryScheduled {
		rs.RetryScheduled = false
		rs.RetryCount--
		rs.Phase = PhaseRetryNeeded
	}
}

// ClearRetry resets a lead's retry state by explicit operator action.
func (s *Store) ClearRetry(leadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retries, leadID)
}

func (s *Store) retryLocked(leadID string) *RetryState {
	rs, ok := s.retries[leadID]
	if !ok {
		rs = &RetryState{LeadID: leadID, Phase: PhaseNoHistory, MaxRetries: s.maxRetries}
		s.retries[leadID] = rs
	}
	return rs
}

// Track registers a live call's teardown handle for process drain. The
// returned func unregisters it.
func (s *Store) Track(callSid string, h Handle) (untrack func()) {
	entry := &trackedCall{handle: h}
	s.mu.Lock()
	old := s.tracked[callSid]
	s.tracked[callSid] = entry
	s.wg.Add(1)
	s.mu.Unlock()
	if old != nil {
		s.untrack(callSid, old)
	}
	return func() { s.untrack(callSid, entry) }
}

func (s *Store) untrack(callSid string, entry *trackedCall) {
	if entry == nil {
		return
	}
	entry.once.Do(func() {
		s.mu.Lock()
		if s.tracked[callSid] == entry {
			delete(s.tracked, callSid)
		}
		s.mu.Unlock()
		s.wg.Done()
	})
}

// ActiveCalls reports how many live calls are tracked.
func (s *Store) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// CancelAll tears down every tracked call.
func (s *Store) CancelAll() (canceled int) {
	var cancels []func()
	s.mu.Lock()
	for _, entry := range s.tracked {
		if entry != nil && entry.handle.Cancel != nil {
			cancels = append(cancels, entry.handle.Cancel)
		}
	}
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until all tracked calls finish or ctx expires.
func (s *Store) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	if ctx == nil {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func snapshotSession(sess *CallSession) CallSession {
	out := *sess
	out.Transcript = append([]TranscriptLine(nil), sess.Transcript...)
	return out
}

func snapshotRetry(rs *RetryState) RetryState {
	out := *rs
	out.CallHistory = append([]Attempt(nil), rs.CallHistory...)
	return out
}
