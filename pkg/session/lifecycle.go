package session

import (
	"sync"

	"github.com/decred/slog"

	"github.com/holdemtable/engine/pkg/statemachine"
)

// seatLifecycle is the entity pkg/statemachine drives: a thin shadow of a
// seat's connection history (occupied -> disconnected -> vacated), kept
// purely for observability. The authoritative transition logic lives in
// pkg/table (Sit/Disconnect/Reclaim/VacateLapsed); this machine mirrors it
// in the Rob-Pike "state functions" style so an operator can read a seat's
// connection history straight out of the log stream.
type seatLifecycle struct {
	seatIndex int
	identity  string
}

func occupiedState(e *seatLifecycle, cb func(string, statemachine.Event)) statemachine.StateFn[seatLifecycle] {
	if cb != nil {
		cb("occupied", statemachine.Entered)
	}
	return nil
}

func disconnectedState(e *seatLifecycle, cb func(string, statemachine.Event)) statemachine.StateFn[seatLifecycle] {
	if cb != nil {
		cb("disconnected", statemachine.Entered)
	}
	return nil
}

// lifecycleLog owns one statemachine.Machine per currently-tracked seat and
// logs every transition it is told about.
type lifecycleLog struct {
	mu       sync.Mutex
	machines map[int]*statemachine.Machine[seatLifecycle]
	log      slog.Logger
}

func newLifecycleLog(log slog.Logger) *lifecycleLog {
	return &lifecycleLog{machines: make(map[int]*statemachine.Machine[seatLifecycle]), log: log}
}

func (l *lifecycleLog) callback(seatIndex int) func(string, statemachine.Event) {
	return func(name string, ev statemachine.Event) {
		if ev == statemachine.Entered && l.log != nil {
			l.log.Debugf("seat %d lifecycle -> %s", seatIndex, name)
		}
	}
}

func (l *lifecycleLog) transition(seatIndex int, identity string, state statemachine.StateFn[seatLifecycle]) {
	l.mu.Lock()
	m := statemachine.New(&seatLifecycle{seatIndex: seatIndex, identity: identity}, state)
	l.machines[seatIndex] = m
	l.mu.Unlock()
	m.Dispatch(l.callback(seatIndex))
}

func (l *lifecycleLog) occupy(seatIndex int, identity string) {
	l.transition(seatIndex, identity, occupiedState)
}

func (l *lifecycleLog) disconnect(seatIndex int, identity string) {
	l.transition(seatIndex, identity, disconnectedState)
}

func (l *lifecycleLog) vacate(seatIndex int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.machines, seatIndex)
	if l.log != nil {
		l.log.Debugf("seat %d lifecycle -> vacated", seatIndex)
	}
}
