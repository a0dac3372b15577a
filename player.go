package rollback

import "github.com/tznak/rollback-core/ringbuf"

// player is the per-participant input history and confirmation state
// described in spec.md §3/§4.2. It's owned exclusively by a Session's
// player set; external code only ever holds the corresponding
// PlayerHandle and must re-resolve through the session.
type player[I comparable] struct {
	handle PlayerHandle

	inputs *ringbuf.Buffer[I]
	window int

	lastAddedStep     int64
	lastConfirmedStep int64

	pingMS int64

	updateIntervalMS int64
}

func newPlayer[I comparable](handle PlayerHandle, window int, updateIntervalMS int64) *player[I] {
	return &player[I]{
		handle:            handle,
		inputs:            ringbuf.New[I](window),
		window:            window,
		lastAddedStep:     NullStep,
		lastConfirmedStep: NullStep,
		updateIntervalMS:  updateIntervalMS,
	}
}

// addInput records input for step, per spec.md §4.2. Returns false for a
// duplicate or stale step (silent no-op); panics via the violation sink for
// a gap in the sequence.
func (p *player[I]) addInput(step int64, input I) bool {
	if step <= p.lastAddedStep {
		return false
	}

	if step != p.lastAddedStep+1 {
		violate(ViolationNonSequentialInput, "player %d: expected step %d, got %d", p.handle.ID, p.lastAddedStep+1, step)
	}

	// Until this input arrives, getInput(step) clamps to lastAddedStep ==
	// step-1, so the input recorded for step-1 is the prediction any earlier
	// simulation of this step used (for step 0, the slot at -1 has never
	// been written and holds the type's zero value, which is what getInput
	// returned before any input existed). A misprediction is this input
	// differing from that prediction.
	if p.handle.Type == Remote && p.lastConfirmedStep == NullStep {
		predicted := p.inputs.At(step - 1)
		if predicted != input {
			p.lastConfirmedStep = step
		}
	}

	p.lastAddedStep = step
	p.inputs.Set(step, input)

	return true
}

// getInput returns the input recorded for step, clamping into
// [0, lastAddedStep]. Panics via the violation sink if the clamped step has
// aged out of the ring (i.e. the slot no longer holds what was recorded for
// it, because the ring has wrapped past it).
//
// Inputs are appended strictly sequentially with no gaps (invariant 2), so
// "the slot's recorded step differs from clamped" reduces to an arithmetic
// check against lastAddedStep and the window size — no need to store the
// step alongside each input value the way the snapshot ring does.
func (p *player[I]) getInput(step int64) I {
	clamped := step
	if clamped < 0 {
		clamped = 0
	}
	if clamped > p.lastAddedStep {
		clamped = p.lastAddedStep
	}

	if p.lastAddedStep-clamped >= int64(p.window) {
		violate(ViolationAgedInput, "player %d: step %d has aged out of the input ring (window %d)", p.handle.ID, clamped, p.window)
	}

	return p.inputs.At(clamped)
}

// estimatedLocalStep estimates the step the remote endpoint has itself
// reached locally, per spec.md §3.
func (p *player[I]) estimatedLocalStep() int64 {
	if p.updateIntervalMS <= 0 {
		return p.lastAddedStep
	}

	return p.lastAddedStep + p.pingMS/p.updateIntervalMS
}

