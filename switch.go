package dcsim

// switch.go holds the switch forwarding state machine.  A switch sits at one of three
// levels of the tree (root, aggregate, edge).  A packet arriving from below goes down
// toward its destination if the destination hangs beneath this switch, otherwise up the
// first uplink.  A packet arriving from above always goes down.  Arrivals are queued
// per neighbor, and every arrival pushes back one pending flush that empties the queues.

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// SwitchLevel is the position of a switch in the tree
type SwitchLevel int

const (
	RootLevel SwitchLevel = iota
	AggLevel
	EdgeLevel
)

var levelToStr map[SwitchLevel]string = map[SwitchLevel]string{RootLevel: "root", AggLevel: "aggregate", EdgeLevel: "edge"}

func (sl SwitchLevel) String() string {
	return levelToStr[sl]
}

// switchLevelFromStr returns the SwitchLevel named in a configuration file
func switchLevelFromStr(level string) (SwitchLevel, error) {
	switch strings.ToLower(level) {
	case "root", "core":
		return RootLevel, nil
	case "aggregate", "agg":
		return AggLevel, nil
	case "edge":
		return EdgeLevel, nil
	}
	return EdgeLevel, fmt.Errorf("unknown switch level %s", level)
}

// Switch is the run-time representation of a switch
type Switch struct {
	switchName string
	switchID   int
	level      SwitchLevel

	uplinks   []int // ids of switches above
	downlinks []int // ids of switches below, or of hosts for an edge switch

	// packets waiting for the next flush, by id of the neighbor they go to
	upQueues   map[int][]*NetworkHopPacket
	downQueues map[int][]*NetworkHopPacket

	upBndwdth   float64
	downBndwdth float64
	upLatency   float64
	downLatency float64
	ports       int

	flushes int
	ctx     *simCtx
	trace   bool
}

// createSwitch is a constructor
func createSwitch(name string, id int, level SwitchLevel, ctx *simCtx) *Switch {
	swtch := new(Switch)
	swtch.switchName = name
	swtch.switchID = id
	swtch.level = level
	swtch.uplinks = make([]int, 0)
	swtch.downlinks = make([]int, 0)
	swtch.upQueues = make(map[int][]*NetworkHopPacket)
	swtch.downQueues = make(map[int][]*NetworkHopPacket)
	swtch.ctx = ctx

	params := defaultSwitchParams[level]
	swtch.upBndwdth = params.upBndwdth
	swtch.downBndwdth = params.downBndwdth
	swtch.upLatency = params.latency
	swtch.downLatency = params.latency
	swtch.ports = params.ports
	return swtch
}

// switchParams are the link and latency values a switch gets when the configuration is silent
type switchParams struct {
	upBndwdth, downBndwdth, latency float64
	ports                           int
}

// bandwidths are in bits per second, scaled the same way payloads are
var defaultSwitchParams map[SwitchLevel]switchParams = map[SwitchLevel]switchParams{
	RootLevel: {upBndwdth: 40 * 1024 * 1024, downBndwdth: 40 * 1024 * 1024, latency: 0.00285, ports: 1},
	AggLevel:  {upBndwdth: 40 * 1024 * 1024, downBndwdth: 100 * 1024 * 1024, latency: 0.00245, ports: 1},
	EdgeLevel: {upBndwdth: 100 * 1024 * 1024, downBndwdth: 100 * 1024 * 1024, latency: 0.00157, ports: 4},
}

// SwitchID returns the switch's integer id
func (swtch *Switch) SwitchID() int {
	return swtch.switchID
}

// Name returns the switch's name
func (swtch *Switch) Name() string {
	return swtch.switchName
}

// Level returns the switch's level in the tree
func (swtch *Switch) Level() SwitchLevel {
	return swtch.level
}

// Flushes is the number of flushes the switch has executed
func (swtch *Switch) Flushes() int {
	return swtch.flushes
}

// Queued is the number of packets waiting for the next flush
func (swtch *Switch) Queued() int {
	queued := 0
	for _, q := range swtch.upQueues {
		queued += len(q)
	}
	for _, q := range swtch.downQueues {
		queued += len(q)
	}
	return queued
}

// addUplink records a switch above this one
func (swtch *Switch) addUplink(id int) {
	if !slices.Contains(swtch.uplinks, id) {
		swtch.uplinks = append(swtch.uplinks, id)
	}
}

// addDownlink records a switch, or host, below this one
func (swtch *Switch) addDownlink(id int) {
	if !slices.Contains(swtch.downlinks, id) {
		swtch.downlinks = append(swtch.downlinks, id)
	}
}

// childToward returns the downlink neighbor through which the VM with id dstVM is reached,
// and false if dstVM does not hang beneath this switch
func (swtch *Switch) childToward(dstVM int) (int, bool) {
	if swtch.level == EdgeLevel {
		hostID := swtch.ctx.hostOfVM(dstVM)
		return hostID, slices.Contains(swtch.downlinks, hostID)
	}

	// climb from the destination's edge switch until the parent is this switch
	nodeID := swtch.ctx.switchOfVM(dstVM)
	for {
		node := swtch.ctx.switches[nodeID]
		if len(node.uplinks) == 0 {
			return -1, false
		}
		parent := node.uplinks[0]
		if parent == swtch.switchID {
			return nodeID, slices.Contains(swtch.downlinks, nodeID)
		}
		nodeID = parent
	}
}

// onPacketFromBelow queues a packet that came up from a host or lower switch
func (swtch *Switch) onPacketFromBelow(now float64, hp *NetworkHopPacket) {
	hp.arrived(now)
	child, below := swtch.childToward(hp.DstVMID)
	if below {
		swtch.downQueues[child] = append(swtch.downQueues[child], hp)
	} else {
		if len(swtch.uplinks) == 0 {
			panic(fmt.Errorf("switch %s has no uplink and vm %d is not beneath it", swtch.switchName, hp.DstVMID))
		}
		up := swtch.uplinks[0]
		swtch.upQueues[up] = append(swtch.upQueues[up], hp)
	}
	swtch.scheduleFlush(swtch.upLatency)
}

// onPacketFromAbove queues a packet that came down from a higher switch
func (swtch *Switch) onPacketFromAbove(now float64, hp *NetworkHopPacket) {
	if swtch.level == RootLevel {
		panic(fmt.Errorf("root switch %s received a packet from above", swtch.switchName))
	}
	hp.arrived(now)
	child, below := swtch.childToward(hp.DstVMID)
	if !below {
		panic(fmt.Errorf("switch %s received from above a packet for vm %d, which is not beneath it",
			swtch.switchName, hp.DstVMID))
	}
	swtch.downQueues[child] = append(swtch.downQueues[child], hp)
	swtch.scheduleFlush(swtch.downLatency)
}

// scheduleFlush replaces the pending flush with one latency seconds from now
func (swtch *Switch) scheduleFlush(latency float64) {
	swtch.ctx.sched.Cancel(swtch.switchID, IsType(SwitchFlush))
	swtch.ctx.sched.Schedule(swtch.switchID, latency, SwitchFlush, nil)
}

// flush empties every queue.  Uplink queues go first, then downlink queues, each
// in ascending neighbor id.  Packets in one queue share the link's bandwidth
func (swtch *Switch) flush(now float64) {
	swtch.flushes += 1
	swtch.ctx.metrics.SwitchFlushes.WithLabelValues(swtch.level.String()).Inc()

	for _, nbrID := range sortedQueueKeys(swtch.upQueues) {
		swtch.forward(now, swtch.upQueues[nbrID], nbrID, swtch.upBndwdth, PacketUp)
		delete(swtch.upQueues, nbrID)
	}

	downType := PacketDown
	if swtch.level == EdgeLevel {
		downType = PacketToHost
	}
	for _, nbrID := range sortedQueueKeys(swtch.downQueues) {
		swtch.forward(now, swtch.downQueues[nbrID], nbrID, swtch.downBndwdth, downType)
		delete(swtch.downQueues, nbrID)
	}
}

// forward sends the packets of one queue to neighbor nbrID
func (swtch *Switch) forward(now float64, queue []*NetworkHopPacket, nbrID int, bndwdth float64, evtType EventType) {
	batch := len(queue)
	for _, hp := range queue {
		delay := transmitDelay(hp.Pkt.PayloadSize, bndwdth, batch)
		hp.sent(now)
		swtch.ctx.metrics.PacketsForwarded.WithLabelValues(swtch.level.String()).Inc()
		if swtch.trace {
			AddPacketTrace(swtch.ctx.traceMgr, now, hp, swtch.switchID, "exit")
			logrus.WithFields(logrus.Fields{"switch": swtch.switchName, "time": now,
				"to": nbrID, "delay": delay}).Debugf("forward packet %d->%d", hp.SrcVMID, hp.DstVMID)
		}
		swtch.ctx.sched.Schedule(nbrID, delay, evtType, hp)
	}
}

// sortedQueueKeys returns the neighbor ids of the queues in ascending order
func sortedQueueKeys(queues map[int][]*NetworkHopPacket) []int {
	keys := make([]int, 0, len(queues))
	for key := range queues {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	return keys
}

// ProcessEvent dispatches the events addressed to the switch
func (swtch *Switch) ProcessEvent(ev *SimEvent) {
	now := ev.Time
	switch ev.Type {
	case PacketUp:
		hp := ev.Payload.(*NetworkHopPacket)
		if swtch.trace {
			AddPacketTrace(swtch.ctx.traceMgr, now, hp, swtch.switchID, "enter")
		}
		swtch.onPacketFromBelow(now, hp)
	case PacketDown:
		hp := ev.Payload.(*NetworkHopPacket)
		if swtch.trace {
			AddPacketTrace(swtch.ctx.traceMgr, now, hp, swtch.switchID, "enter")
		}
		swtch.onPacketFromAbove(now, hp)
	case SwitchFlush:
		swtch.flush(now)
	default:
		panic(fmt.Errorf("switch %s cannot handle event %s", swtch.switchName, ev.Type))
	}
}

// matchParam, setParam, and paramObjName let Switch satisfy the paramObj interface
func (swtch *Switch) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return swtch.switchName == attrbValue
	case "level":
		level, err := switchLevelFromStr(attrbValue)
		return err == nil && level == swtch.level
	}
	return false
}

func (swtch *Switch) setParam(param string, value valueStruct) {
	switch param {
	case "latency":
		swtch.upLatency = value.floatValue
		swtch.downLatency = value.floatValue
	case "upLatency":
		swtch.upLatency = value.floatValue
	case "downLatency":
		swtch.downLatency = value.floatValue
	case "upBandwidth":
		swtch.upBndwdth = value.floatValue
	case "downBandwidth":
		swtch.downBndwdth = value.floatValue
	case "ports":
		swtch.ports = value.intValue
	case "trace":
		swtch.trace = value.boolValue
	}
}

func (swtch *Switch) paramObjName() string {
	return swtch.switchName
}
