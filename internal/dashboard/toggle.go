package dashboard

// TogglePhase tracks an optimistic viewed-flag toggle through its
// lifecycle. The client flips the marker immediately (Applied), then the
// server either confirms the authoritative value (Confirmed) or the
// request fails and the marker is rolled back (Reverted).
type TogglePhase string

const (
	ToggleApplied   TogglePhase = "applied"
	ToggleConfirmed TogglePhase = "confirmed"
	ToggleReverted  TogglePhase = "reverted"
)

// ToggleFlow is one viewed-flag toggle in flight. Shown is what the UI
// displays at each phase; Before is the pre-toggle value needed for
// rollback. The server is authoritative: Confirm takes the actual stored
// value, which under concurrent toggles may differ from the optimistic
// one (last writer wins).
type ToggleFlow struct {
	Root   string
	Before bool
	Shown  bool
	Phase  TogglePhase
}

// NewToggleFlow starts a toggle for a file root currently showing the
// given viewed value. The flow begins in the optimistic Applied phase
// with the marker already flipped.
func NewToggleFlow(root string, current bool) *ToggleFlow {
	return &ToggleFlow{
		Root:   root,
		Before: current,
		Shown:  !current,
		Phase:  ToggleApplied,
	}
}

// Confirm settles the flow on the server's authoritative value.
func (f *ToggleFlow) Confirm(actual bool) {
	f.Shown = actual
	f.Phase = ToggleConfirmed
}

// Revert rolls the marker back to its pre-toggle value after a failed
// request. The flag change is lost, which is the correct outcome: the
// server never recorded it.
func (f *ToggleFlow) Revert() {
	f.Shown = f.Before
	f.Phase = ToggleReverted
}
