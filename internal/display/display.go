// Package display holds the single page's display state: the city query, the last
// snapshot, the loading flag and the error message.
//
// Every submit starts a new generation and hands back a Ticket. Completions carrying
// an older ticket are discarded, so only the most recently issued fetch can change
// what is shown regardless of the order in which fetches finish.
package display

import (
	"strings"
	"sync"

	"github.com/kjstillabower/weather-lookup/internal/models"
)

// DefaultErrorMessage is shown when a failure arrives without a message.
const DefaultErrorMessage = "Failed to fetch weather data."

// Phase is the display phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseSuccess
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseSuccess:
		return "success"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Ticket identifies one submission. Pass it back to Resolve or Reject.
type Ticket struct {
	Generation uint64
	City       string
}

// State is a point-in-time copy of the holder. Snapshot is nil when nothing is to be shown.
type State struct {
	Phase      Phase            `json:"phase"`
	Query      string           `json:"query"`
	Snapshot   *models.Snapshot `json:"snapshot,omitempty"`
	Error      string           `json:"error,omitempty"`
	Loading    bool             `json:"loading"`
	Generation uint64           `json:"generation"`
}

// Holder owns the display state. Safe for concurrent use.
type Holder struct {
	mu          sync.Mutex
	phase       Phase
	query       string
	snapshot    models.Snapshot
	hasSnapshot bool
	errMsg      string
	generation  uint64
	listeners   []func(State)
}

// NewHolder returns a Holder in the Idle phase.
func NewHolder() *Holder {
	return &Holder{phase: PhaseIdle}
}

// OnChange registers fn to be called with the new state after every transition.
// Listeners run outside the lock, in registration order.
func (h *Holder) OnChange(fn func(State)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Submit moves to Loading for city and returns the ticket for the new generation.
// Blank input is a no-op: no transition, ok is false. The previous snapshot stays
// visible while loading; the previous error is cleared.
func (h *Holder) Submit(city string) (t Ticket, ok bool) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Ticket{}, false
	}

	h.mu.Lock()
	h.generation++
	h.phase = PhaseLoading
	h.query = city
	h.errMsg = ""
	t = Ticket{Generation: h.generation, City: city}
	st, listeners := h.stateLocked(), h.listeners
	h.mu.Unlock()

	notify(listeners, st)
	return t, true
}

// Resolve moves Loading to Success with snap if t is the current generation.
// It reports false, changing nothing, for a stale or already completed ticket.
func (h *Holder) Resolve(t Ticket, snap models.Snapshot) bool {
	h.mu.Lock()
	if !h.currentLocked(t) {
		h.mu.Unlock()
		return false
	}
	h.phase = PhaseSuccess
	h.snapshot = snap
	h.hasSnapshot = true
	st, listeners := h.stateLocked(), h.listeners
	h.mu.Unlock()

	notify(listeners, st)
	return true
}

// Reject moves Loading to Error with message if t is the current generation.
// The held snapshot is dropped; the message becomes the only visible content.
func (h *Holder) Reject(t Ticket, message string) bool {
	if strings.TrimSpace(message) == "" {
		message = DefaultErrorMessage
	}

	h.mu.Lock()
	if !h.currentLocked(t) {
		h.mu.Unlock()
		return false
	}
	h.phase = PhaseError
	h.errMsg = message
	h.snapshot = models.Snapshot{}
	h.hasSnapshot = false
	st, listeners := h.stateLocked(), h.listeners
	h.mu.Unlock()

	notify(listeners, st)
	return true
}

// State returns a copy of the current state.
func (h *Holder) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

func (h *Holder) currentLocked(t Ticket) bool {
	return t.Generation != 0 && t.Generation == h.generation && h.phase == PhaseLoading
}

func (h *Holder) stateLocked() State {
	st := State{
		Phase:      h.phase,
		Query:      h.query,
		Error:      h.errMsg,
		Loading:    h.phase == PhaseLoading,
		Generation: h.generation,
	}
	if h.hasSnapshot {
		snap := h.snapshot
		st.Snapshot = &snap
	}
	return st
}

func notify(listeners []func(State), st State) {
	for _, fn := range listeners {
		fn(st)
	}
}
