package app

import (
	"fmt"

	"twpm/internal/audit"
	"twpm/internal/debuglog"
)

// State is an orchestrator phase. Every mutating or verifying command walks
// IDLE -> RESOLVING -> (INSTALLING | REMOVING | VERIFYING) -> DONE, or ends
// in FAILED, through ROLLING_BACK when an install had started.
type State string

const (
	StateIdle        State = "IDLE"
	StateResolving   State = "RESOLVING"
	StateInstalling  State = "INSTALLING"
	StateRemoving    State = "REMOVING"
	StateVerifying   State = "VERIFYING"
	StateRollingBack State = "ROLLING_BACK"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// REMOVING -> INSTALLING is the second half of an update.
var transitions = map[State][]State{
	StateIdle:        {StateResolving},
	StateResolving:   {StateInstalling, StateRemoving, StateVerifying, StateDone, StateFailed},
	StateInstalling:  {StateDone, StateRollingBack},
	StateRemoving:    {StateInstalling, StateDone, StateFailed},
	StateVerifying:   {StateDone},
	StateRollingBack: {StateFailed},
}

func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func allowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks one command's walk through the states and reports it to
// the debug and audit logs.
type machine struct {
	op      string
	app     string
	state   State
	history []State
	debug   *debuglog.Logger
	audit   *audit.Logger
}

func newMachine(op, app string, debug *debuglog.Logger, auditLog *audit.Logger) *machine {
	return &machine{op: op, app: app, state: StateIdle, history: []State{StateIdle}, debug: debug, audit: auditLog}
}

// to moves to next. An illegal transition is a programming error.
func (m *machine) to(next State) {
	if !allowed(m.state, next) {
		panic(fmt.Sprintf("app: illegal transition %s -> %s in %s %s", m.state, next, m.op, m.app))
	}
	m.debug.Debug("state transition", "op", m.op, "app", m.app, "from", m.state, "to", next)
	m.state = next
	m.history = append(m.history, next)
}

// fail walks to FAILED from the current state, passing through
// ROLLING_BACK when an install was in progress, and records err.
func (m *machine) fail(err error) error {
	if m.state.Terminal() {
		return err
	}
	if m.state == StateInstalling {
		m.to(StateRollingBack)
	}
	if m.state == StateIdle {
		m.to(StateResolving)
	}
	m.to(StateFailed)
	m.debug.Error("command failed", "op", m.op, "app", m.app, "error", err)
	_ = m.audit.Phase(m.op, m.app, string(StateFailed), err, nil)
	return err
}

// done finishes successfully and records fields in the audit log.
func (m *machine) done(fields map[string]string) {
	m.to(StateDone)
	_ = m.audit.Phase(m.op, m.app, string(StateDone), nil, fields)
}

func (m *machine) phase(name string, fields map[string]string) {
	_ = m.audit.Phase(m.op, m.app, name, nil, fields)
}

func (m *machine) States() []State {
	return append([]State(nil), m.history...)
}
