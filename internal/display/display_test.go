package display

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/kjstillabower/weather-lookup/internal/models"
)

func snapshotFor(city string, tempC float64) models.Snapshot {
	return models.Snapshot{
		TemperatureCelsius:       tempC,
		HumidityPercent:          50,
		WindSpeedMetersPerSecond: 3,
		Description:              "clear sky",
		CityName:                 city,
	}
}

func TestHolder_StartsIdle(t *testing.T) {
	st := NewHolder().State()
	if st.Phase != PhaseIdle || st.Loading || st.Snapshot != nil || st.Error != "" || st.Generation != 0 {
		t.Errorf("initial state = %+v, want idle and empty", st)
	}
}

func TestHolder_SubmitBlankIsNoop(t *testing.T) {
	h := NewHolder()
	tk, _ := h.Submit("Paris")
	h.Resolve(tk, snapshotFor("Paris", 18))
	before := h.State()

	calls := 0
	h.OnChange(func(State) { calls++ })
	for _, in := range []string{"", "   ", "\t\n"} {
		if _, ok := h.Submit(in); ok {
			t.Errorf("Submit(%q) ok = true, want false", in)
		}
	}

	after := h.State()
	if after.Phase != before.Phase || after.Generation != before.Generation || after.Query != before.Query {
		t.Errorf("state changed on blank submit: before %+v, after %+v", before, after)
	}
	if calls != 0 {
		t.Errorf("listener calls = %d, want 0", calls)
	}
}

func TestHolder_SubmitThenResolve(t *testing.T) {
	h := NewHolder()
	tk, ok := h.Submit("  London ")
	if !ok {
		t.Fatal("Submit() ok = false")
	}
	if tk.City != "London" || tk.Generation != 1 {
		t.Errorf("ticket = %+v, want London gen 1", tk)
	}

	st := h.State()
	if st.Phase != PhaseLoading || !st.Loading || st.Query != "London" {
		t.Errorf("after submit = %+v, want loading London", st)
	}

	if !h.Resolve(tk, snapshotFor("London", 20)) {
		t.Fatal("Resolve() = false, want true")
	}
	st = h.State()
	if st.Phase != PhaseSuccess || st.Loading {
		t.Errorf("after resolve phase = %v loading = %v", st.Phase, st.Loading)
	}
	if st.Snapshot == nil || st.Snapshot.TemperatureCelsius != 20 {
		t.Errorf("snapshot = %+v, want 20C", st.Snapshot)
	}
}

func TestHolder_RejectClearsSnapshot(t *testing.T) {
	h := NewHolder()
	tk, _ := h.Submit("London")
	h.Resolve(tk, snapshotFor("London", 20))

	tk2, _ := h.Submit("Atlantis")
	if st := h.State(); st.Snapshot == nil {
		t.Error("previous snapshot should stay visible while loading")
	}
	if !h.Reject(tk2, "City not found.") {
		t.Fatal("Reject() = false, want true")
	}

	st := h.State()
	if st.Phase != PhaseError || st.Loading {
		t.Errorf("after reject = %+v, want error and not loading", st)
	}
	if st.Snapshot != nil {
		t.Error("snapshot should be cleared on error")
	}
	if st.Error != "City not found." {
		t.Errorf("Error = %q", st.Error)
	}
}

func TestHolder_RejectEmptyMessageUsesDefault(t *testing.T) {
	h := NewHolder()
	tk, _ := h.Submit("London")
	h.Reject(tk, "  ")
	if got := h.State().Error; got != DefaultErrorMessage {
		t.Errorf("Error = %q, want default message", got)
	}
}

func TestHolder_SubmitClearsError(t *testing.T) {
	h := NewHolder()
	tk, _ := h.Submit("London")
	h.Reject(tk, "boom")
	h.Submit("Paris")
	if st := h.State(); st.Error != "" || st.Phase != PhaseLoading {
		t.Errorf("after resubmit = %+v, want loading without error", st)
	}
}

// Two searches finishing out of order: only the later-issued one is shown.
func TestHolder_StaleCompletionDiscarded(t *testing.T) {
	h := NewHolder()
	first, _ := h.Submit("London")
	second, _ := h.Submit("Paris")

	if !h.Resolve(second, snapshotFor("Paris", 18)) {
		t.Fatal("Resolve(second) = false, want true")
	}
	if h.Resolve(first, snapshotFor("London", 12)) {
		t.Error("Resolve(first) = true, stale ticket must be discarded")
	}
	if h.Reject(first, "late failure") {
		t.Error("Reject(first) = true, stale ticket must be discarded")
	}

	st := h.State()
	if st.Phase != PhaseSuccess || st.Snapshot == nil || st.Snapshot.CityName != "Paris" {
		t.Errorf("final state = %+v, want Paris success", st)
	}
}

func TestHolder_StaleCompletionWhileLoadingDoesNotEndLoading(t *testing.T) {
	h := NewHolder()
	first, _ := h.Submit("London")
	h.Submit("Paris")

	h.Resolve(first, snapshotFor("London", 12))
	st := h.State()
	if !st.Loading || st.Snapshot != nil {
		t.Errorf("state = %+v, stale result must not land while newer fetch is loading", st)
	}
}

func TestHolder_TicketUsableOnce(t *testing.T) {
	h := NewHolder()
	tk, _ := h.Submit("London")
	h.Resolve(tk, snapshotFor("London", 20))
	if h.Reject(tk, "again") {
		t.Error("second completion of same ticket should be ignored")
	}
	if h.Resolve(Ticket{}, snapshotFor("x", 0)) {
		t.Error("zero ticket should never resolve")
	}
}

func TestHolder_StateIsCopy(t *testing.T) {
	h := NewHolder()
	tk, _ := h.Submit("London")
	h.Resolve(tk, snapshotFor("London", 20))

	st := h.State()
	st.Snapshot.TemperatureCelsius = -100
	if got := h.State().Snapshot.TemperatureCelsius; got != 20 {
		t.Errorf("held snapshot mutated through State(): %v", got)
	}
}

func TestHolder_OnChangeSeesEveryTransition(t *testing.T) {
	h := NewHolder()
	var phases []string
	h.OnChange(func(st State) { phases = append(phases, st.Phase.String()) })

	tk, _ := h.Submit("London")
	h.Resolve(tk, snapshotFor("London", 20))
	tk, _ = h.Submit("Atlantis")
	h.Reject(tk, "not found")

	want := "loading,success,loading,error"
	if got := strings.Join(phases, ","); got != want {
		t.Errorf("phases = %s, want %s", got, want)
	}
}

func TestHolder_LoadingFalseAfterAnyCompletion(t *testing.T) {
	h := NewHolder()
	var wg sync.WaitGroup
	tickets := make([]Ticket, 0, 20)
	for i := 0; i < 20; i++ {
		tk, _ := h.Submit("City")
		tickets = append(tickets, tk)
	}
	for i, tk := range tickets {
		wg.Add(1)
		go func(i int, tk Ticket) {
			defer wg.Done()
			if i%2 == 0 {
				h.Resolve(tk, snapshotFor("City", float64(i)))
			} else {
				h.Reject(tk, "failed")
			}
		}(i, tk)
	}
	wg.Wait()

	st := h.State()
	if st.Loading {
		t.Error("Loading = true after the current ticket completed")
	}
	// Last ticket (index 19) is odd, so it rejects.
	if st.Phase != PhaseError {
		t.Errorf("Phase = %v, want error from the latest ticket", st.Phase)
	}
}

func TestState_JSON(t *testing.T) {
	h := NewHolder()
	tk, _ := h.Submit("London")
	h.Resolve(tk, snapshotFor("London", 20))

	raw, err := json.Marshal(h.State())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	s := string(raw)
	for _, want := range []string{`"phase":"success"`, `"query":"London"`, `"temperatureCelsius":20`, `"loading":false`} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}
}
