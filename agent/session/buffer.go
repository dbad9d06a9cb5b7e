package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// window is one open debounce buffer. A generation number distinguishes
// successive windows for the same customer, so a claim against a window
// that was already flushed and reopened cannot succeed by accident.
type window struct {
	gen      int64
	openedAt time.Time
	texts    []string
}

// Admission is the verdict on one inbound message. When ShouldWait is
// false the caller owns the flush and CombinedText carries the whole
// window. When ShouldWait is true the caller sleeps RecheckDelay and
// then calls ClaimFlush with this admission.
type Admission struct {
	ShouldWait   bool
	CombinedText string
	Position     int
	gen          int64
}

// AdmitMessage buffers one inbound message. The window closes
// immediately when it reaches MaxBuffered messages or has been open for
// at least Window; the admitting caller then gets the combined text and
// owns the turn.
func (a *Arbiter) AdmitMessage(customerID, text string) Admission {
	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()

	now := a.now()
	w := a.windows[customerID]
	if w == nil {
		a.genSeq++
		w = &window{gen: a.genSeq, openedAt: now}
		a.windows[customerID] = w
	}
	w.texts = append(w.texts, text)

	if len(w.texts) >= a.cfg.MaxBuffered || now.Sub(w.openedAt) >= a.cfg.Window {
		combined := strings.Join(w.texts, " ")
		delete(a.windows, customerID)
		log.Debug().
			Str("customer", customerID).
			Int("buffered", len(w.texts)).
			Msg("debounce window closed on admit")
		return Admission{CombinedText: combined, Position: len(w.texts), gen: w.gen}
	}

	return Admission{ShouldWait: true, Position: len(w.texts), gen: w.gen}
}

// ClaimFlush is called after the recheck delay by a caller that was
// told to wait. It wins only if the window is the same one it was
// admitted into and nothing arrived after it; otherwise a later message
// owns (or already owned) the flush and this caller must abandon its
// turn. Last writer wins, everyone else folds into the combined text.
func (a *Arbiter) ClaimFlush(customerID string, adm Admission) (string, bool) {
	mu := a.lockFor(customerID)
	mu.Lock()
	defer mu.Unlock()

	w := a.windows[customerID]
	if w == nil || w.gen != adm.gen || len(w.texts) != adm.Position {
		return "", false
	}
	combined := strings.Join(w.texts, " ")
	delete(a.windows, customerID)
	return combined, true
}

// Wait sleeps for the recheck delay, honoring cancellation.
func (a *Arbiter) Wait(ctx context.Context) error {
	t := time.NewTimer(a.cfg.RecheckDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
