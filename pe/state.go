package pe

import "github.com/usbpdgo/pdstack/pdmsg"

// state represents one policy engine state, dispatched by explicit
// function-pointer fields rather than by switching on an enum -- the same
// idiom the connection FSM uses for its own state table.
type state struct {
	Name string

	// Enter runs actions on entering the state. It may be nil. If it returns
	// a non-nil next state, the engine immediately exits and enters that
	// state instead of waiting for the next Process call. Before every Enter,
	// the engine clears its armed timer.
	Enter func(e *Engine) (next *state, err error)

	// Process is called on every Task pass while the engine is in this
	// state, with the received message (zero value if none) and the event
	// that triggered this pass. Process must not be nil unless Enter always
	// returns a next state, or the engine would have no way out of the
	// state.
	Process func(e *Engine, m pdmsg.Message, ev Event) (next *state, err error)

	// Exit runs when Enter or Process returns a non-nil next state. It may
	// be nil.
	Exit func(e *Engine) error
}
