package rollback

import (
	"fmt"
	"sync"

	"github.com/tznak/rollback-core/ringbuf"
)

// SessionSettings configures a Session at construction time. The rollback
// window is derived from these, not configured directly, and cannot change
// afterward (spec.md §1 non-goals: no dynamic resize of the rollback
// window).
type SessionSettings struct {
	// UpdateIntervalMS is the fixed simulation tick length, in
	// milliseconds. Must be > 0.
	UpdateIntervalMS int64
	// MaxRemotePingMS is the worst round-trip time this session will
	// tolerate from a remote peer before SetPing rejects it. Must be > 0,
	// and should typically be at least 2x UpdateIntervalMS.
	MaxRemotePingMS int64
}

// snapshot is a (step, state) pair in the snapshot ring. A step of NullStep
// marks a slot that has never been written — it can never equal a real
// sync target, so rolling back to an empty slot is correctly rejected by
// the step-tag comparison in rollback().
type snapshot[S any] struct {
	step  int64
	state S
}

// Session owns the step counter, the snapshot ring, the player set, and the
// throttle accumulator; it orchestrates rollback, step advance, and the
// catch-up throttle described in spec.md §4.3.
//
// All methods except Update and AddRemoteInput are assumed called from a
// single "game thread" and are unsynchronized with each other, per spec.md
// §5. Update and AddRemoteInput synchronize via a single rollback mutex.
type Session[S any, I comparable] struct {
	host Host[S, I]

	updateIntervalMS int64
	maxRemotePingMS  int64
	window           int

	mu sync.Mutex // guards currentStep's rollback-relevant view, the snapshot ring, and every player's lastConfirmedStep / inputs ring.

	currentStep   int64
	updateTimerMS float64

	snapshots *ringbuf.Buffer[snapshot[S]]

	players []*player[I]
	scratch []I
}

// NewSession constructs a Session. Returns an error if the settings are
// invalid; this is ordinary constructor validation, not a runtime contract
// violation, since no session exists yet to enforce contracts on.
func NewSession[S any, I comparable](settings SessionSettings, host Host[S, I]) (*Session[S, I], error) {
	if settings.UpdateIntervalMS <= 0 {
		return nil, fmt.Errorf("rollback: UpdateIntervalMS must be > 0, got %d", settings.UpdateIntervalMS)
	}
	if settings.MaxRemotePingMS <= 0 {
		return nil, fmt.Errorf("rollback: MaxRemotePingMS must be > 0, got %d", settings.MaxRemotePingMS)
	}
	if host.Save == nil || host.Load == nil || host.Simulate == nil {
		return nil, fmt.Errorf("rollback: Host.Save, Host.Load, and Host.Simulate are required")
	}

	// Rollback window = ceil(max_remote_ping / update_interval) + 2, per
	// spec.md §3 invariant 5.
	window := int((settings.MaxRemotePingMS+settings.UpdateIntervalMS-1)/settings.UpdateIntervalMS) + 2

	snapshots := ringbuf.New[snapshot[S]](window)
	for i := int64(0); i < int64(window); i++ {
		snapshots.Set(i, snapshot[S]{step: NullStep})
	}

	return &Session[S, I]{
		host:             host,
		updateIntervalMS: settings.UpdateIntervalMS,
		maxRemotePingMS:  settings.MaxRemotePingMS,
		window:           window,
		snapshots:        snapshots,
	}, nil
}

// RollbackWindow returns the fixed number of past steps this session can
// roll back to.
func (s *Session[S, I]) RollbackWindow() int {
	return s.window
}

// CurrentStep returns the session's monotonically non-decreasing step
// counter.
func (s *Session[S, I]) CurrentStep() int64 {
	return s.currentStep
}

// Players returns a snapshot copy of every handle added so far, in
// insertion order.
func (s *Session[S, I]) Players() []PlayerHandle {
	out := make([]PlayerHandle, len(s.players))
	for i, p := range s.players {
		out[i] = p.handle
	}
	return out
}

// PlayerCount returns the number of players added so far.
func (s *Session[S, I]) PlayerCount() int {
	return len(s.players)
}

// AddPlayer appends a new player record and returns its handle. The input
// scratch sequence is resized to match the new player count, per spec.md
// §4.3.
func (s *Session[S, I]) AddPlayer(playerType PlayerType) PlayerHandle {
	handle := PlayerHandle{ID: len(s.players), Type: playerType}
	s.players = append(s.players, newPlayer[I](handle, s.window, s.updateIntervalMS))
	s.scratch = make([]I, len(s.players))
	return handle
}

// resolve validates a handle against the recorded player set and the
// expected PlayerType for the calling API (e.g. AddLocalInput requires
// Local). Unknown IDs and type mismatches are both contract violations —
// spec.md §7 groups "bad handle" and "input type/player-type mismatch"
// together, and there's no useful distinction a caller could act on.
func (s *Session[S, I]) resolve(handle PlayerHandle, want PlayerType) *player[I] {
	p := s.resolveAny(handle)
	if p.handle.Type != want {
		violate(ViolationBadHandle, "handle %d: expected %s, got %s", handle.ID, want, p.handle.Type)
	}
	return p
}

// resolveAny validates only that the handle refers to a known player,
// without restricting its PlayerType. Used by GetPing, which is harmless
// to call for any player type.
func (s *Session[S, I]) resolveAny(handle PlayerHandle) *player[I] {
	if handle.ID < 0 || handle.ID >= len(s.players) {
		violate(ViolationBadHandle, "unknown player handle %d", handle.ID)
	}

	p := s.players[handle.ID]
	if p.handle.Type != handle.Type {
		violate(ViolationBadHandle, "handle %d: stale type %s (now %s)", handle.ID, handle.Type, p.handle.Type)
	}

	return p
}

// AddLocalInput records input for the local player at the current step and
// broadcasts it to remote peers, per spec.md §4.3.
func (s *Session[S, I]) AddLocalInput(handle PlayerHandle, input I) {
	p := s.resolve(handle, Local)

	if p.addInput(s.currentStep, input) && s.host.Broadcast != nil {
		s.host.Broadcast(handle, s.currentStep, input)
	}
}

// AddRemoteInput records input from a remote player under the rollback
// mutex. The step must be the next one in that player's sequence
// (lastAddedStep+1), which may lie in the session's past, present, or
// future; stale or duplicate steps are silently ignored, and a step that
// skips ahead is a contract violation, per spec.md §4.2.
func (s *Session[S, I]) AddRemoteInput(handle PlayerHandle, step int64, input I) {
	p := s.resolve(handle, Remote)

	s.mu.Lock()
	defer s.mu.Unlock()

	p.addInput(step, input)
}

// SetPing records a remote player's round-trip estimate. Values above
// MaxRemotePingMS are a contract violation.
func (s *Session[S, I]) SetPing(handle PlayerHandle, pingMS int64) {
	p := s.resolve(handle, Remote)

	if pingMS > s.maxRemotePingMS {
		violate(ViolationPingOverCap, "ping %dms exceeds cap %dms for player %d", pingMS, s.maxRemotePingMS, handle.ID)
	}

	p.pingMS = pingMS
}

// GetPing returns the most recently recorded ping for handle (0 for Local
// and Spectator players, which never have one set).
func (s *Session[S, I]) GetPing(handle PlayerHandle) int64 {
	return s.resolveAny(handle).pingMS
}

// gatherInputs fills and returns the reused scratch sequence with each
// player's input for step, in player-insertion order.
func (s *Session[S, I]) gatherInputs(step int64) []I {
	for i, p := range s.players {
		s.scratch[i] = p.getInput(step)
	}
	return s.scratch
}

// determineSync finds the earliest step any player still has a pending,
// unresolved correction for, consuming that signal as it goes. Must be
// called with mu held. See spec.md §4.3 step 1 and §GLOSSARY
// "synchronized step".
func (s *Session[S, I]) determineSync() int64 {
	sync := s.currentStep

	for _, p := range s.players {
		if c := p.lastConfirmedStep; c != NullStep && c < sync {
			sync = c
			p.lastConfirmedStep = NullStep
		}
	}

	return sync
}

// rollback loads the snapshot at sync and re-simulates forward to
// currentStep, re-snapshotting every intermediate step so a future rollback
// can target it. Must be called with mu held. See spec.md §4.3 step 2.
func (s *Session[S, I]) rollback(sync int64) {
	slot := s.snapshots.At(sync)
	if slot.step != sync {
		violate(ViolationEvictedSnapshot, "cannot roll back to step %d: discarded from the %d-step window", sync, s.window)
	}

	s.host.Load(slot.state)

	stepsToResimulate := s.currentStep - sync
	for i := int64(0); i < stepsToResimulate; i++ {
		step := sync + i

		if step != sync {
			s.snapshots.Set(step, snapshot[S]{step: step, state: s.host.Save()})
		}

		s.host.Simulate(s.gatherInputs(step))
	}
}

// Update advances the session by one frame. It checks for a pending
// rollback, resimulates under the rollback mutex if one is needed, then
// (outside the lock) applies the catch-up throttle and advances at most
// one new simulation step. See spec.md §4.3.
//
// Only one step is ever advanced per call: the throttle is computed before
// advancement, and spending an entire accumulated delta in one call would
// let a single tick deliver many steps, defeating the throttle. This is
// intentional and frame-rate dependent; see spec.md §4.3 "Why one step per
// update call".
func (s *Session[S, I]) Update(deltaTimeMS float64) {
	s.mu.Lock()
	sync := s.determineSync()
	if sync != s.currentStep {
		s.rollback(sync)
	}
	s.mu.Unlock()

	s.throttleAndAdvance(deltaTimeMS)
}

// throttleAndAdvance computes the catch-up delay from the slowest remote
// player, updates the timer accumulator, and advances at most one step if
// the accumulator has reached a full update interval. Runs outside the
// rollback mutex: the ring and player inputs it touches here are only ever
// mutated by the game thread, per spec.md §5.
//
// The accumulator is kept in floating point rather than truncated to whole
// milliseconds: the delay term is often sub-millisecond for a small
// advantage, and truncating it away per call would silently cancel the
// throttle instead of letting it accumulate.
func (s *Session[S, I]) throttleAndAdvance(deltaTimeMS float64) {
	var advantage int64

	for _, p := range s.players {
		d := s.currentStep - p.estimatedLocalStep()
		if d < 0 {
			d = 0
		}
		if d > advantage {
			advantage = d
		}
	}

	// delay_factor = update_interval / (1000 / update_interval)
	//              = update_interval^2 / 1000
	delayFactor := float64(s.updateIntervalMS) * float64(s.updateIntervalMS) / 1000.0
	delay := float64(advantage) * delayFactor

	s.updateTimerMS += deltaTimeMS - delay
	if s.updateTimerMS < 0 {
		s.updateTimerMS = 0
	}

	intervalMS := float64(s.updateIntervalMS)
	if s.updateTimerMS < intervalMS {
		return
	}

	s.updateTimerMS -= intervalMS

	s.snapshots.Set(s.currentStep, snapshot[S]{step: s.currentStep, state: s.host.Save()})
	s.host.Simulate(s.gatherInputs(s.currentStep))
	s.currentStep++
}
