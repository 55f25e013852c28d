package connector

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/1ureka/rtcsig/internal/util"
)

// Phase is the lifecycle phase of a Connector.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseConnecting Phase = "connecting"
	PhaseOpen       Phase = "open"
	PhaseClosing    Phase = "closing"
	PhaseClosed     Phase = "closed"
	PhaseFailed     Phase = "failed" // closed with error
)

var allPhases = []Phase{PhaseIdle, PhaseConnecting, PhaseOpen, PhaseClosing, PhaseClosed, PhaseFailed}

// Transition events.
const (
	evDial    = "dial"
	evOpened  = "opened"
	evTimeout = "timeout"
	evFail    = "fail"
	evClose   = "close"
	evClosed  = "closed"
)

func newPhaseFSM() *fsm.FSM {
	idle, connecting, open := string(PhaseIdle), string(PhaseConnecting), string(PhaseOpen)
	closing, closed, failed := string(PhaseClosing), string(PhaseClosed), string(PhaseFailed)

	return fsm.NewFSM(
		idle,
		fsm.Events{
			{Name: evDial, Src: []string{idle, closed, failed}, Dst: connecting},
			{Name: evOpened, Src: []string{connecting}, Dst: open},
			{Name: evTimeout, Src: []string{connecting}, Dst: failed},
			{Name: evFail, Src: []string{connecting, open, closing}, Dst: failed},
			{Name: evClose, Src: []string{connecting, open}, Dst: closing},
			{Name: evClosed, Src: []string{connecting, open, closing}, Dst: closed},
		},
		nil,
	)
}

// transition fires event on the phase machine. A rejected event leaves the
// phase unchanged and returns false.
func (c *Connector) transition(event string) bool {
	err := c.fsm.Event(context.Background(), event)
	if err != nil {
		var same fsm.NoTransitionError
		if !errors.As(err, &same) {
			util.LogDebug("connector: %s rejected in phase %s: %v", event, c.fsm.Current(), err)
			return false
		}
	}
	c.metrics.setPhase(c.Phase())
	return true
}

// Phase returns the current phase. Safe for concurrent use.
func (c *Connector) Phase() Phase {
	return Phase(c.fsm.Current())
}
