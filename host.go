package dcsim

// host.go holds the host processing engine.  Each tick a host moves packets that
// arrived from its edge switch into VM inboxes, advances its VMs, and then routes the
// packets its VMs emitted: directly into a co-resident VM's inbox, or out to the edge switch.

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

// MinTimeBetweenEvents is the smallest delay the host puts between two of its updates
const MinTimeBetweenEvents = 0.01

// migrationDegradation is the fraction of its allocation a migrating VM gets to use
const migrationDegradation = 0.9

// StateHistoryEntry records what was allocated and requested at one time
type StateHistoryEntry struct {
	Time          float64 `json:"time" yaml:"time"`
	AllocatedMips float64 `json:"allocatedmips" yaml:"allocatedmips"`
	RequestedMips float64 `json:"requestedmips" yaml:"requestedmips"`
	Active        bool    `json:"active" yaml:"active"`
}

// appendStateHistory adds entry to history, replacing the last entry if it has the same time
func appendStateHistory(history []StateHistoryEntry, entry StateHistoryEntry) []StateHistoryEntry {
	if len(history) > 0 && history[len(history)-1].Time == entry.Time {
		history[len(history)-1] = entry
		return history
	}
	return append(history, entry)
}

// VMAllocator shares a host's PEs among its VMs
type VMAllocator interface {
	AllocatePEsForVM(vm *VM, requested []float64) bool
	DeallocatePEsForVM(vm *VM)
	AllocatedMipsForVM(vm *VM) []float64
	TotalAllocatedMipsForVM(vm *VM) float64
}

// PowerModel gives the power a host draws at a utilization in [0,1]
type PowerModel interface {
	Power(utilization float64) (float64, error)
}

// Host is the run-time representation of a physical machine
type Host struct {
	hostName  string
	hostID    int
	pes       int
	peMips    float64
	bndwdth   float64 // bandwidth shared by the packets the host sends in one tick
	edgeSwtch int     // id of the edge switch, -1 if none

	vms       []*VM // ascending VM id
	vmByID    map[int]*VM
	allocator VMAllocator
	power     PowerModel

	// staging lists, empty between ticks
	toSendLocal  []*NetworkHopPacket
	toSendGlobal []*NetworkHopPacket
	received     []*NetworkHopPacket

	utilizationMips     float64
	prevUtilizationMips float64
	stateHistory        []StateHistoryEntry

	sampling bool // a HostSample event is pending

	ctx   *simCtx
	trace bool
}

// createHost is a constructor
func createHost(name string, id, pes int, peMips, bndwdth float64, ctx *simCtx) *Host {
	host := new(Host)
	host.hostName = name
	host.hostID = id
	host.pes = pes
	host.peMips = peMips
	host.bndwdth = bndwdth
	host.edgeSwtch = -1
	host.vms = make([]*VM, 0)
	host.vmByID = make(map[int]*VM)
	host.allocator = CreateSimpleAllocator(pes, peMips)
	host.toSendLocal = make([]*NetworkHopPacket, 0)
	host.toSendGlobal = make([]*NetworkHopPacket, 0)
	host.received = make([]*NetworkHopPacket, 0)
	host.stateHistory = make([]StateHistoryEntry, 0)
	host.ctx = ctx
	return host
}

// HostID returns the host's integer id
func (host *Host) HostID() int {
	return host.hostID
}

// Name returns the host's name
func (host *Host) Name() string {
	return host.hostName
}

// VMs returns the resident VMs in ascending id order
func (host *Host) VMs() []*VM {
	return host.vms
}

// EdgeSwitch is the id of the edge switch the host is attached to
func (host *Host) EdgeSwitch() int {
	return host.edgeSwtch
}

// SetAllocator replaces the policy that shares the host's PEs among its VMs
func (host *Host) SetAllocator(allocator VMAllocator) {
	host.allocator = allocator
}

// SetPowerModel gives the host a power model
func (host *Host) SetPowerModel(pm PowerModel) {
	host.power = pm
}

// addVM places a VM on the host and gives it its requested allocation
func (host *Host) addVM(vm *VM) error {
	_, present := host.vmByID[vm.vmID]
	if present {
		return fmt.Errorf("vm %s placed twice on host %s", vm.vmName, host.hostName)
	}
	if !host.allocator.AllocatePEsForVM(vm, vm.CurrentRequestedMips()) {
		return fmt.Errorf("host %s cannot allocate PEs for vm %s", host.hostName, vm.vmName)
	}
	vm.hostID = host.hostID
	vm.hostName = host.hostName

	// keep vms ordered by id
	idx := len(host.vms)
	for idx > 0 && host.vms[idx-1].vmID > vm.vmID {
		idx -= 1
	}
	host.vms = append(host.vms, nil)
	copy(host.vms[idx+1:], host.vms[idx:])
	host.vms[idx] = vm
	host.vmByID[vm.vmID] = vm
	return nil
}

// stageReceived puts a packet that arrived from the edge switch in the received list
func (host *Host) stageReceived(hp *NetworkHopPacket) {
	host.received = append(host.received, hp)
}

// UpdateProcessing runs one tick of the host at time now and returns the earliest
// time one of its VMs needs attention, math.MaxFloat64 if none does
func (host *Host) UpdateProcessing(now float64) float64 {
	host.prevUtilizationMips = host.utilizationMips
	host.utilizationMips = 0.0

	smallerTime := math.MaxFloat64

	host.receivePackets(now)

	for _, vm := range host.vms {
		t := vm.advance(now, host.allocator.AllocatedMipsForVM(vm))
		if t > 0.0 && t < smallerTime {
			smallerTime = t
		}
	}

	t := host.sendPackets(now)
	if t < smallerTime {
		smallerTime = t
	}

	host.reallocate(now)

	return smallerTime
}

// receivePackets stamps and delivers every packet in the received list
func (host *Host) receivePackets(now float64) {
	for _, hp := range host.received {
		vm, present := host.vmByID[hp.DstVMID]
		if !present {
			panic(fmt.Errorf("packet for vm %d delivered to host %s, which does not hold it", hp.DstVMID, host.hostName))
		}
		host.deliver(now, vm, hp)
	}
	host.received = host.received[:0]
}

// deliver stamps the packet received and puts it in the VM's inbox
func (host *Host) deliver(now float64, vm *VM, hp *NetworkHopPacket) {
	hp.Pkt.stampReceived(now)
	vm.receive(hp.Pkt)
	host.ctx.delivered += 1
	if host.trace {
		AddPacketTrace(host.ctx.traceMgr, now, hp, host.hostID, "deliver")
	}
}

// sendPackets drains the VMs' outbound queues, delivers packets between
// co-resident VMs, and sends the rest to the edge switch.  It returns the earliest
// next-event time of any VM it had to re-advance, math.MaxFloat64 if none
func (host *Host) sendPackets(now float64) float64 {
	smallerTime := math.MaxFloat64

	host.classifyOutbound()

	delivered := false
	for _, hp := range host.toSendLocal {
		delivered = true
		hp.sent(now)
		hp.arrived(now)
		host.deliver(now, host.vmByID[hp.DstVMID], hp)
		host.ctx.metrics.PacketsDelivered.WithLabelValues("local").Inc()
	}
	host.toSendLocal = host.toSendLocal[:0]

	// a local delivery may unblock a cloudlet waiting on it
	if delivered {
		for _, vm := range host.vms {
			t := vm.advance(now, host.allocator.AllocatedMipsForVM(vm))
			if t > 0.0 && t < smallerTime {
				smallerTime = t
			}
		}

		// packets emitted by the second pass leave on the next tick
		for _, vm := range host.vms {
			if len(vm.outbound) > 0 {
				smallerTime = math.Min(smallerTime, now+MinTimeBetweenEvents)
				break
			}
		}
	}

	batch := len(host.toSendGlobal)
	if batch > 0 && host.edgeSwtch < 0 {
		panic(fmt.Errorf("host %s has packets for other hosts but no edge switch", host.hostName))
	}
	for _, hp := range host.toSendGlobal {
		delay := transmitDelay(hp.Pkt.PayloadSize, host.bndwdth, batch)
		host.ctx.metrics.DataTransferred.Add(hp.Pkt.PayloadSize)
		hp.sent(now)
		if host.trace {
			AddPacketTrace(host.ctx.traceMgr, now, hp, host.hostID, "exit")
		}
		host.ctx.sched.Schedule(host.edgeSwtch, delay, PacketUp, hp)
	}
	host.toSendGlobal = host.toSendGlobal[:0]

	return smallerTime
}

// classifyOutbound wraps every outbound packet of every VM and stages it as local,
// when its destination is on this host, or global
func (host *Host) classifyOutbound() {
	for _, vm := range host.vms {
		for _, pkt := range vm.drainOutbound() {
			hp := createHopPacket(host.hostID, pkt)
			host.ctx.created += 1
			_, local := host.vmByID[hp.DstVMID]
			if local {
				host.toSendLocal = append(host.toSendLocal, hp)
				continue
			}
			if !host.ctx.knownVM(hp.DstVMID) {
				panic(fmt.Errorf("vm %d on host %s sent a packet to unknown vm %d", vm.vmID, host.hostName, hp.DstVMID))
			}
			host.toSendGlobal = append(host.toSendGlobal, hp)
		}
	}
}

// reallocate re-shares the PEs according to what the VMs now request, and records
// allocation and utilization history for the host and its VMs
func (host *Host) reallocate(now float64) {
	for _, vm := range host.vms {
		host.allocator.DeallocatePEsForVM(vm)
	}
	for _, vm := range host.vms {
		host.allocator.AllocatePEsForVM(vm, vm.CurrentRequestedMips())
	}

	hostRequestedMips := 0.0
	for _, vm := range host.vms {
		requested := vm.CurrentRequestedTotalMips()
		allocated := host.allocator.TotalAllocatedMipsForVM(vm)
		fields := logrus.Fields{"time": now, "host": host.hostName, "vm": vm.vmName}

		logrus.WithFields(fields).Debugf("allocated %.2f MIPS, requested %.2f of %.2f",
			allocated, requested, vm.mips*float64(vm.pes))

		if allocated+0.1 < requested {
			logrus.WithFields(fields).Warnf("under allocated MIPS: %.2f", requested-allocated)
		}

		vm.addStateHistoryEntry(now, allocated, requested, vm.inMigration)

		if vm.inMigration {
			logrus.WithFields(fields).Info("vm is in migration")
			allocated /= migrationDegradation
		}

		host.utilizationMips += allocated
		hostRequestedMips += requested
	}

	host.addStateHistoryEntry(now, host.utilizationMips, hostRequestedMips, host.utilizationMips > 0.0)
}

// addStateHistoryEntry records the host's allocation at time t
func (host *Host) addStateHistoryEntry(t, allocated, requested float64, active bool) {
	host.stateHistory = appendStateHistory(host.stateHistory, StateHistoryEntry{Time: t,
		AllocatedMips: allocated, RequestedMips: requested, Active: active})
}

// StateHistory returns the host's allocation history
func (host *Host) StateHistory() []StateHistoryEntry {
	return host.stateHistory
}

// TotalMips is the host's capacity
func (host *Host) TotalMips() float64 {
	return float64(host.pes) * host.peMips
}

// UtilizationMips is the MIPS allocated at the last tick
func (host *Host) UtilizationMips() float64 {
	return host.utilizationMips
}

// PreviousUtilizationMips is the MIPS allocated at the tick before the last
func (host *Host) PreviousUtilizationMips() float64 {
	return host.prevUtilizationMips
}

// UtilizationOfCPU is the fraction of capacity allocated at the last tick
func (host *Host) UtilizationOfCPU() float64 {
	return cpuFraction(host.utilizationMips, host.TotalMips())
}

// PreviousUtilizationOfCPU is the fraction of capacity allocated at the tick before the last
func (host *Host) PreviousUtilizationOfCPU() float64 {
	return cpuFraction(host.prevUtilizationMips, host.TotalMips())
}

// cpuFraction turns MIPS into a fraction of capacity; a migrating VM's inflated
// allocation can push it slightly over 1, which is reported as 1
func cpuFraction(mips, total float64) float64 {
	if !(total > 0.0) {
		return 0.0
	}
	utilization := mips / total
	if utilization > 1.0 && utilization < 1.01 {
		utilization = 1.0
	}
	return utilization
}

// MaxUtilization is the largest fraction of a PE allocated to any one VM PE
func (host *Host) MaxUtilization() float64 {
	maxUtil := 0.0
	if !(host.peMips > 0.0) {
		return maxUtil
	}
	for _, vm := range host.vms {
		for _, mips := range host.allocator.AllocatedMipsForVM(vm) {
			maxUtil = math.Max(maxUtil, mips/host.peMips)
		}
	}
	return maxUtil
}

// CompletedVMs lists the VMs with nothing left to run that are not migrating
func (host *Host) CompletedVMs() []*VM {
	completed := make([]*VM, 0)
	for _, vm := range host.vms {
		if vm.inMigration {
			continue
		}
		if vm.CurrentRequestedTotalMips() == 0.0 {
			completed = append(completed, vm)
		}
	}
	return completed
}

// Power is the power the host draws at its current utilization
func (host *Host) Power() (float64, error) {
	return host.powerAt(host.UtilizationOfCPU())
}

// MaxPower is the power the host draws when fully utilized
func (host *Host) MaxPower() (float64, error) {
	return host.powerAt(1.0)
}

func (host *Host) powerAt(utilization float64) (float64, error) {
	if host.power == nil {
		return 0.0, fmt.Errorf("host %s has no power model", host.hostName)
	}
	return host.power.Power(utilization)
}

// EnergyLinearInterpolation is the energy used over time seconds while utilization
// moves linearly from fromUtil to toUtil
func (host *Host) EnergyLinearInterpolation(fromUtil, toUtil, time float64) (float64, error) {
	if fromUtil == 0.0 {
		return 0.0, nil
	}
	fromPower, err := host.powerAt(fromUtil)
	if err != nil {
		return 0.0, err
	}
	toPower, err := host.powerAt(toUtil)
	if err != nil {
		return 0.0, err
	}
	return (fromPower + (toPower-fromPower)/2.0) * time, nil
}

// Energy is the energy used over the host's allocation history, with utilization
// taken to move linearly between successive entries
func (host *Host) Energy() (float64, error) {
	total := 0.0
	capacity := host.TotalMips()
	for idx := 1; idx < len(host.stateHistory); idx += 1 {
		prev := host.stateHistory[idx-1]
		cur := host.stateHistory[idx]
		energy, err := host.EnergyLinearInterpolation(cpuFraction(prev.AllocatedMips, capacity),
			cpuFraction(cur.AllocatedMips, capacity), cur.Time-prev.Time)
		if err != nil {
			return 0.0, err
		}
		total += energy
	}
	return total, nil
}

// ProcessEvent handles the events addressed to the host: a packet arriving
// from the edge switch, the host's own scheduled update, or the periodic update
// that lands on its VMs' sampling boundaries
func (host *Host) ProcessEvent(ev *SimEvent) {
	now := ev.Time
	switch ev.Type {
	case PacketToHost:
		hp := ev.Payload.(*NetworkHopPacket)
		hp.arrived(now)
		host.ctx.metrics.PacketsDelivered.WithLabelValues("global").Inc()
		host.stageReceived(hp)
	case HostUpdate:
	case HostSample:
		host.sampling = false
	default:
		panic(fmt.Errorf("host %s cannot handle event %s", host.hostName, ev.Type))
	}

	nxtTime := host.UpdateProcessing(now)
	host.scheduleUpdate(now, nxtTime)
	host.scheduleSample(now)
}

// scheduleUpdate replaces any pending update of the host with one at nxtTime
func (host *Host) scheduleUpdate(now, nxtTime float64) {
	if nxtTime == math.MaxFloat64 {
		return
	}
	host.ctx.sched.Cancel(host.hostID, IsType(HostUpdate))
	delay := math.Max(nxtTime-now, MinTimeBetweenEvents)
	host.ctx.sched.Schedule(host.hostID, delay, HostUpdate, nil)
}

// scheduleSample puts the host's next periodic update on the event list, at the
// first sampling boundary after now, unless one is pending or the host is idle
func (host *Host) scheduleSample(now float64) {
	if host.sampling || !host.hasWork() {
		return
	}
	interval := host.samplingInterval()
	if !(interval > 0.0) {
		return
	}
	host.ctx.sched.Schedule(host.hostID, nextSamplingTime(now, interval)-now, HostSample, nil)
	host.sampling = true
}

// hasWork reports whether any VM on the host has cloudlets waiting or running
func (host *Host) hasWork() bool {
	for _, vm := range host.vms {
		if vm.sched.HasWork() {
			return true
		}
	}
	return false
}

// samplingInterval is the shortest scheduling interval among the host's VMs, 0 if none has one
func (host *Host) samplingInterval() float64 {
	interval := 0.0
	for _, vm := range host.vms {
		vi := vm.schedulingInterval
		if vi > 0.0 && (interval == 0.0 || vi < interval) {
			interval = vi
		}
	}
	return interval
}

// matchParam, setParam, and paramObjName let Host satisfy the paramObj interface
func (host *Host) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return host.hostName == attrbValue
	}
	return false
}

func (host *Host) setParam(param string, value valueStruct) {
	switch param {
	case "bandwidth":
		host.bndwdth = value.floatValue
	case "trace":
		host.trace = value.boolValue
	}
}

func (host *Host) paramObjName() string {
	return host.hostName
}

// SimpleAllocator gives each VM PE what it requests, up to the MIPS of a host PE,
// for as long as the host has PEs left
type SimpleAllocator struct {
	pes       int
	peMips    float64
	free      int
	allocated map[int][]float64
}

// CreateSimpleAllocator is a constructor
func CreateSimpleAllocator(pes int, peMips float64) *SimpleAllocator {
	return &SimpleAllocator{pes: pes, peMips: peMips, free: pes, allocated: make(map[int][]float64)}
}

// AllocatePEsForVM grants the request, failing if the host does not have enough free PEs
func (sa *SimpleAllocator) AllocatePEsForVM(vm *VM, requested []float64) bool {
	sa.DeallocatePEsForVM(vm)
	if len(requested) > sa.free {
		return false
	}
	grant := make([]float64, len(requested))
	for idx, mips := range requested {
		grant[idx] = math.Min(clampNonNeg(mips), sa.peMips)
	}
	sa.allocated[vm.vmID] = grant
	sa.free -= len(requested)
	return true
}

// DeallocatePEsForVM releases the VM's PEs
func (sa *SimpleAllocator) DeallocatePEsForVM(vm *VM) {
	grant, present := sa.allocated[vm.vmID]
	if !present {
		return
	}
	sa.free += len(grant)
	delete(sa.allocated, vm.vmID)
}

// AllocatedMipsForVM is the MIPS granted to each of the VM's PEs
func (sa *SimpleAllocator) AllocatedMipsForVM(vm *VM) []float64 {
	return sa.allocated[vm.vmID]
}

// TotalAllocatedMipsForVM sums AllocatedMipsForVM
func (sa *SimpleAllocator) TotalAllocatedMipsForVM(vm *VM) float64 {
	total := 0.0
	for _, mips := range sa.allocated[vm.vmID] {
		total += mips
	}
	return total
}

// LinearPowerModel draws a static fraction of MaxPower when idle and rises
// linearly with utilization to MaxPower
type LinearPowerModel struct {
	MaxPower       float64
	StaticFraction float64
}

// Power helps LinearPowerModel satisfy PowerModel
func (lpm *LinearPowerModel) Power(utilization float64) (float64, error) {
	if utilization < 0.0 || utilization > 1.0 {
		return 0.0, fmt.Errorf("utilization %f outside [0,1]", utilization)
	}
	static := lpm.MaxPower * lpm.StaticFraction
	return static + (lpm.MaxPower-static)*utilization, nil
}
