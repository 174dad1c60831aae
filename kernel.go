package dcsim

// kernel.go binds the datacenter model to the evtm event manager.  Hosts and
// switches are addressed by integer id, events carry a type code and a payload.
// Events are delivered in order of their exact time, and events at the same time
// in the order they were scheduled.  evtm supplies the clock: one evtm event per
// tick wakes the kernel to deliver what has come due.

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// DefaultStopTime is the time limit used when a run is not given one; models
// normally run out of events long before it
const DefaultStopTime = 1.0e6

// EventType codes the kind of event delivered to an entity
type EventType int

const (
	PacketUp EventType = iota
	PacketDown
	PacketToHost
	SwitchFlush
	HostUpdate
	HostSample
)

var evtTypeToStr map[EventType]string = map[EventType]string{PacketUp: "packet-up", PacketDown: "packet-down",
	PacketToHost: "packet-to-host", SwitchFlush: "flush", HostUpdate: "host-update",
	HostSample: "host-sample"}

func (et EventType) String() string {
	str, present := evtTypeToStr[et]
	if present {
		return str
	}
	return fmt.Sprintf("EventType(%d)", int(et))
}

// SimEvent is what an entity's event handler is given
type SimEvent struct {
	ID      int
	Target  int
	Type    EventType
	Time    float64 // seconds
	Payload any

	tick      int64 // the evtm tick Time falls on
	cancelled bool
}

// EventHandler is satisfied by every entity that can be the target of an event
type EventHandler interface {
	ProcessEvent(ev *SimEvent)
}

// Scheduler is the capability the model needs from the event list.
// Schedule returns an id for the event, Cancel retracts the pending events
// for target whose type satisfies match and returns how many were retracted.
type Scheduler interface {
	Schedule(target int, delay float64, evtType EventType, payload any) int
	Cancel(target int, match func(EventType) bool) int
	Now() float64
}

// IsType returns a predicate for Cancel that matches exactly one event type
func IsType(evtType EventType) func(EventType) bool {
	return func(et EventType) bool { return et == evtType }
}

// evtQueue orders events by time, then by id, which is the scheduling order
type evtQueue []*SimEvent

func (eq evtQueue) Len() int { return len(eq) }
func (eq evtQueue) Less(i, j int) bool {
	if eq[i].Time != eq[j].Time {
		return eq[i].Time < eq[j].Time
	}
	return eq[i].ID < eq[j].ID
}
func (eq evtQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *evtQueue) Push(x any) {
	*eq = append(*eq, x.(*SimEvent))
}

func (eq *evtQueue) Pop() any {
	old := *eq
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*eq = old[:n-1]
	return ev
}

// Kernel implements Scheduler on top of an evtm.EventManager
type Kernel struct {
	evtMgr   *evtm.EventManager
	handlers map[int]EventHandler

	// events not yet delivered, cancelled ones included
	queue evtQueue

	// ticks that have an evtm wake-up pending
	wakes map[int64]bool

	// events scheduled but not yet delivered, indexed by target
	pending map[int]map[int]*SimEvent

	now       float64 // time of the event being delivered, or of the last one
	nxtEvtID  int
	delivered int
}

// NewKernel is a constructor
func NewKernel() *Kernel {
	k := new(Kernel)
	k.evtMgr = evtm.New()
	k.handlers = make(map[int]EventHandler)
	k.queue = make(evtQueue, 0)
	k.wakes = make(map[int64]bool)
	k.pending = make(map[int]map[int]*SimEvent)
	return k
}

// Register binds an entity id to the handler that receives its events
func (k *Kernel) Register(id int, h EventHandler) {
	_, present := k.handlers[id]
	if present {
		panic(fmt.Errorf("entity id %d registered twice with the kernel", id))
	}
	k.handlers[id] = h
}

// EventMgr exposes the underlying evtm event manager
func (k *Kernel) EventMgr() *evtm.EventManager {
	return k.evtMgr
}

// Now returns the current simulation time in seconds
func (k *Kernel) Now() float64 {
	return k.now
}

// Delivered returns the number of events handed to entities so far
func (k *Kernel) Delivered() int {
	return k.delivered
}

// Pending returns the number of scheduled, undelivered, uncancelled events for target
func (k *Kernel) Pending(target int) int {
	return len(k.pending[target])
}

// Schedule puts an event for entity target on the event list, delay seconds from now
func (k *Kernel) Schedule(target int, delay float64, evtType EventType, payload any) int {
	if delay < 0.0 {
		panic(fmt.Errorf("negative delay %f scheduling %s for entity %d", delay, evtType, target))
	}
	_, present := k.handlers[target]
	if !present {
		panic(fmt.Errorf("event %s scheduled for unregistered entity %d", evtType, target))
	}

	k.nxtEvtID += 1
	ev := &SimEvent{ID: k.nxtEvtID, Target: target, Type: evtType, Time: k.now + delay, Payload: payload}
	ev.tick = vrtime.SecondsToTime(ev.Time).Ticks()
	heap.Push(&k.queue, ev)

	// one evtm wake-up per tick; a wake-up that fires late still delivers in time order
	if !k.wakes[ev.tick] {
		k.wakes[ev.tick] = true
		offset := math.Max(ev.Time-k.evtMgr.CurrentSeconds(), 0.0)
		k.evtMgr.Schedule(k, ev.tick, wake, vrtime.SecondsToTime(offset))
	}

	_, present = k.pending[target]
	if !present {
		k.pending[target] = make(map[int]*SimEvent)
	}
	k.pending[target][ev.ID] = ev

	return ev.ID
}

// Cancel retracts pending events for target whose type satisfies match
func (k *Kernel) Cancel(target int, match func(EventType) bool) int {
	cancelled := 0
	for id, ev := range k.pending[target] {
		if match(ev.Type) {
			ev.cancelled = true
			delete(k.pending[target], id)
			cancelled += 1
		}
	}
	return cancelled
}

// Run executes events until the event list is empty or the time limit is reached.
// A limit that is not positive means DefaultStopTime
func (k *Kernel) Run(limit float64) {
	if !(limit > 0.0) {
		limit = DefaultStopTime
	}
	k.evtMgr.Run(limit)
}

// wake is the evtm event handler for a tick.  It delivers, in time order, every event
// that falls on or before the tick, including those scheduled by the handlers it calls
func wake(evtMgr *evtm.EventManager, context any, data any) any {
	k := context.(*Kernel)
	tick := data.(int64)
	delete(k.wakes, tick)
	if cur := evtMgr.CurrentTime().Ticks(); cur > tick {
		tick = cur
	}

	for len(k.queue) > 0 && k.queue[0].tick <= tick {
		ev := heap.Pop(&k.queue).(*SimEvent)
		if ev.cancelled {
			continue
		}
		delete(k.pending[ev.Target], ev.ID)
		k.now = ev.Time
		k.delivered += 1
		k.handlers[ev.Target].ProcessEvent(ev)
	}
	return nil
}
