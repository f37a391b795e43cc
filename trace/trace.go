package trace

import (
	"fmt"
	"io"

	"golang.org/x/exp/slices"
)

type Kind uint8

const (
	TaskCreate Kind = iota
	TaskSwitch
	TaskReady
	TaskBlock
	TaskDelete
	TrapEnter
	TrapExit
	Give
	Take
	Tick
	Fault
	Mark
)

var kindNames = [...]string{
	TaskCreate: "create",
	TaskSwitch: "switch",
	TaskReady:  "ready",
	TaskBlock:  "block",
	TaskDelete: "delete",
	TrapEnter:  "trap-enter",
	TrapExit:   "trap-exit",
	Give:       "give",
	Take:       "take",
	Tick:       "tick",
	Fault:      "fault",
	Mark:       "mark",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Event is one kernel occurrence. Task is the id of the task the event is
// about (the outgoing task for a switch), Other the incoming task for a
// switch or the interrupt source for trap events.
type Event struct {
	Cycle uint64
	Tick  uint32
	Kind  Kind
	Task  int
	Other int
	Arg   uint32
}

// Recorder keeps the most recent events in a fixed ring. Record never
// allocates.
type Recorder struct {
	events  []Event
	next    int
	full    bool
	dropped uint64
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		return nil
	}
	return &Recorder{events: make([]Event, capacity)}
}

// Record stores e, overwriting the oldest event when the ring is full. A nil
// recorder ignores it.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	if r.full {
		r.dropped++
	}
	r.events[r.next] = e
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.full = true
	}
}

func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	if r.full {
		return len(r.events)
	}
	return r.next
}

// Dropped is the number of events overwritten.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped
}

// Events returns the recorded events oldest first.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	if !r.full {
		return slices.Clone(r.events[:r.next])
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	return append(out, r.events[:r.next]...)
}

// Filter returns the recorded events of the given kinds, oldest first.
func (r *Recorder) Filter(kinds ...Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if slices.Contains(kinds, e.Kind) {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.next = 0
	r.full = false
	r.dropped = 0
}

// Dump writes events one per line. name maps task ids to names and may be
// nil.
func Dump(w io.Writer, events []Event, name func(id int) string) {
	if name == nil {
		name = func(id int) string { return fmt.Sprint(id) }
	}
	for _, e := range events {
		switch e.Kind {
		case TaskSwitch:
			fmt.Fprintf(w, "%12d %8d %-10s %s -> %s\n", e.Cycle, e.Tick, e.Kind, name(e.Task), name(e.Other))
		case TrapEnter, TrapExit:
			fmt.Fprintf(w, "%12d %8d %-10s cause %#x source %d depth %d\n", e.Cycle, e.Tick, e.Kind, e.Arg, e.Other, e.Task)
		default:
			fmt.Fprintf(w, "%12d %8d %-10s %s %d\n", e.Cycle, e.Tick, e.Kind, name(e.Task), e.Arg)
		}
	}
}
