// Package dispatch delivers classifier directives into the AI leg with
// at-most-once semantics per directive key.
package dispatch

import (
	"log/slog"
	"time"
)

// Sender is the AI-leg write surface the dispatcher needs.
type Sender interface {
	SendInstruction(text string) error
}

// Record is one delivered directive, kept for reporting.
type Record struct {
	Key  string
	Text string
	At   time.Time
}

// Dispatcher deduplicates instruction sends per key. A new primary intent
// carries a new key, so updated instructions go out again while repeats of
// the same detection stay suppressed. Single-writer: owned by one call's
// relay task.
type Dispatcher struct {
	sender  Sender
	log     *slog.Logger
	now     func() time.Time
	sent    map[string]bool
	sendLog []Record
}

func New(sender Sender, log *slog.Logger, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		sender: sender,
		log:    log,
		now:    now,
		sent:   make(map[string]bool),
	}
}

// Dispatch sends text once per key. Send failures are logged and reported
// false; the key stays unsent so a later attempt can retry.
func (d *Dispatcher) Dispatch(key, text string) bool {
	if key == "" || text == "" {
		return false
	}
	if d.sent[key] {
		return false
	}
	if err := d.sender.SendInstruction(text); err != nil {
		d.log.Warn("instruction send failed", "key", key, "error", err)
		return false
	}
	d.sent[key] = true
	d.sendLog = append(d.sendLog, Record{Key: key, Text: text, At: d.now()})
	return true
}

// Reset clears the sent flag for a key, allowing a replacement directive.
func (d *Dispatcher) Reset(key string) {
	delete(d.sent, key)
}

// Sent reports all delivered directives in order.
func (d *Dispatcher) Sent() []Record {
	return append([]Record(nil), d.sendLog...)
}
