package dcsim

// vm.go holds the per-VM processing state: the packet queues a VM's cloudlets
// exchange packets through, and the bounded history of CPU utilization samples
// used by placement and power policies.

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// HistoryLength is the number of utilization samples a VM keeps
const HistoryLength = 30

// SamplingOffset is subtracted from the clock before testing whether it sits on a
// sampling boundary; the datacenter's periodic updates land just past each boundary
const SamplingOffset = 0.1

// timeEpsilon is the tolerance used when comparing simulation times
const timeEpsilon = 1e-9

// VM is the run-time representation of a virtual machine
type VM struct {
	vmName   string
	vmID     int
	mips     float64 // per PE
	pes      int
	hostID   int
	hostName string

	sched CloudletScheduler

	// packets waiting to leave, by receiving VM id, and packets
	// received and not yet consumed, by sending VM id
	outbound map[int][]*TaskPacket
	inbound  map[int][]*TaskPacket

	utilHistory        []float64 // most recent first
	previousTime       float64
	schedulingInterval float64

	beingInstantiated bool
	inMigration       bool
	finishTime        float64

	stateHistory []StateHistoryEntry
	trace        bool
}

// createVM is a constructor.  A scheduler able to route packets is given the VM as its port
func createVM(name string, id int, mips float64, pes int, interval float64, sched CloudletScheduler) *VM {
	vm := new(VM)
	vm.vmName = name
	vm.vmID = id
	vm.mips = mips
	vm.pes = pes
	vm.hostID = -1
	vm.sched = sched
	vm.outbound = make(map[int][]*TaskPacket)
	vm.inbound = make(map[int][]*TaskPacket)
	vm.utilHistory = make([]float64, 0, HistoryLength)
	vm.schedulingInterval = interval
	vm.beingInstantiated = true
	vm.finishTime = Unset
	vm.stateHistory = make([]StateHistoryEntry, 0)

	router, ok := sched.(PacketRoutable)
	if ok {
		router.AttachPort(vm)
	}
	return vm
}

// VMID returns the VM's integer id; it helps VM satisfy PacketPort
func (vm *VM) VMID() int {
	return vm.vmID
}

// Name returns the VM's name
func (vm *VM) Name() string {
	return vm.vmName
}

// HostID is the id of the host the VM resides on
func (vm *VM) HostID() int {
	return vm.hostID
}

// Mips is the VM's rating per PE
func (vm *VM) Mips() float64 {
	return vm.mips
}

// Scheduler returns the VM's cloudlet scheduler
func (vm *VM) Scheduler() CloudletScheduler {
	return vm.sched
}

// SchedulingInterval returns the utilization sampling interval
func (vm *VM) SchedulingInterval() float64 {
	return vm.schedulingInterval
}

// Send queues a packet a cloudlet emitted; the host drains it at the end of the tick
func (vm *VM) Send(pkt *TaskPacket) {
	if pkt.SenderVMID != vm.vmID {
		panic(fmt.Errorf("vm %d asked to send a packet from vm %d", vm.vmID, pkt.SenderVMID))
	}
	vm.outbound[pkt.ReceiverVMID] = append(vm.outbound[pkt.ReceiverVMID], pkt)
}

// Recv removes and returns the earliest unconsumed packet from senderID, nil if none
func (vm *VM) Recv(senderID int) *TaskPacket {
	pkts := vm.inbound[senderID]
	if len(pkts) == 0 {
		return nil
	}
	pkt := pkts[0]
	vm.inbound[senderID] = pkts[1:]
	return pkt
}

// receive puts a delivered packet in the inbox, creating the sender's queue on first contact
func (vm *VM) receive(pkt *TaskPacket) {
	if pkt.ReceiverVMID != vm.vmID {
		panic(fmt.Errorf("packet for vm %d put in the inbox of vm %d", pkt.ReceiverVMID, vm.vmID))
	}
	vm.inbound[pkt.SenderVMID] = append(vm.inbound[pkt.SenderVMID], pkt)
}

// Inbound returns the unconsumed packets received from senderID
func (vm *VM) Inbound(senderID int) []*TaskPacket {
	return vm.inbound[senderID]
}

// drainOutbound empties the outbound queues, returning their packets
// ordered by receiving VM id and, within that, by the order they were sent
func (vm *VM) drainOutbound() []*TaskPacket {
	peers := make([]int, 0, len(vm.outbound))
	for peer := range vm.outbound {
		peers = append(peers, peer)
	}
	sort.Ints(peers)

	pkts := make([]*TaskPacket, 0)
	for _, peer := range peers {
		pkts = append(pkts, vm.outbound[peer]...)
		delete(vm.outbound, peer)
	}
	return pkts
}

// Submit gives the VM a cloudlet to run
func (vm *VM) Submit(cl *Cloudlet, now float64) {
	vm.sched.Submit(cl, now)
}

// advance moves the VM's cloudlets forward to time now given the MIPS allocated to
// each of its PEs, samples utilization when now falls on a sampling boundary, and
// returns the time the VM next needs attention (0 or less if it is idle)
func (vm *VM) advance(now float64, mipsShare []float64) float64 {
	nxtTime := vm.sched.UpdateProcessing(now, mipsShare)
	vm.beingInstantiated = false

	if now > vm.previousTime && onSamplingBoundary(now, vm.schedulingInterval) {
		utilization := vm.TotalUtilizationOfCPU(vm.sched.PreviousTime())
		if now != 0.0 || utilization != 0.0 {
			vm.addUtilizationHistoryValue(utilization)
		}
		vm.previousTime = now
	}

	if !vm.sched.HasWork() && vm.finishTime == Unset && len(vm.sched.Finished()) > 0 {
		vm.finishTime = now
	}

	if vm.trace {
		logrus.WithFields(logrus.Fields{"vm": vm.vmName, "time": now, "next": nxtTime}).Debug("vm advanced")
	}
	return nxtTime
}

// onSamplingBoundary reports whether now - SamplingOffset is a whole multiple of interval
func onSamplingBoundary(now, interval float64) bool {
	if !(interval > 0.0) {
		return false
	}
	rem := math.Mod(now-SamplingOffset, interval)
	if rem < 0.0 {
		rem += interval
	}
	return rem < timeEpsilon || interval-rem < timeEpsilon
}

// nextSamplingTime is the first time after now of the form k*interval + SamplingOffset
func nextSamplingTime(now, interval float64) float64 {
	k := math.Floor((now-SamplingOffset)/interval) + 1.0
	t := k*interval + SamplingOffset
	if t-now < timeEpsilon {
		t += interval
	}
	return t
}

// TotalUtilizationOfCPU is the fraction of the VM's capacity its cloudlets use at time t
func (vm *VM) TotalUtilizationOfCPU(t float64) float64 {
	return clampNonNeg(vm.sched.TotalUtilizationOfCPU(t))
}

// TotalUtilizationOfCPUMips is TotalUtilizationOfCPU in MIPS
func (vm *VM) TotalUtilizationOfCPUMips(t float64) float64 {
	return vm.TotalUtilizationOfCPU(t) * vm.mips * float64(vm.pes)
}

// CurrentRequestedMips is the MIPS the VM asks of each PE.  A VM not yet instantiated,
// or one with cloudlets to run, asks for its full rating
func (vm *VM) CurrentRequestedMips() []float64 {
	requested := make([]float64, vm.pes)
	if vm.beingInstantiated || vm.sched.HasWork() {
		for idx := range requested {
			requested[idx] = vm.mips
		}
	}
	return requested
}

// CurrentRequestedTotalMips sums CurrentRequestedMips
func (vm *VM) CurrentRequestedTotalMips() float64 {
	total := 0.0
	for _, mips := range vm.CurrentRequestedMips() {
		total += mips
	}
	return total
}

// addUtilizationHistoryValue puts a sample at the front of the history, dropping
// the oldest once the history holds more than HistoryLength samples
func (vm *VM) addUtilizationHistoryValue(utilization float64) {
	utilization = clampNonNeg(utilization)
	vm.utilHistory = append(vm.utilHistory, 0.0)
	copy(vm.utilHistory[1:], vm.utilHistory)
	vm.utilHistory[0] = utilization
	if len(vm.utilHistory) > HistoryLength {
		vm.utilHistory = vm.utilHistory[:HistoryLength]
	}
}

// UtilizationHistory returns the utilization samples, most recent first
func (vm *VM) UtilizationHistory() []float64 {
	return vm.utilHistory
}

// UtilizationMean is the mean of the utilization history, in MIPS
func (vm *VM) UtilizationMean() float64 {
	if len(vm.utilHistory) == 0 {
		return 0.0
	}
	return stat.Mean(vm.utilHistory, nil) * vm.mips
}

// UtilizationVariance is the population variance of the utilization history, in MIPS
func (vm *VM) UtilizationVariance() float64 {
	if len(vm.utilHistory) == 0 {
		return 0.0
	}
	scaled := make([]float64, len(vm.utilHistory))
	for idx, u := range vm.utilHistory {
		scaled[idx] = u * vm.mips
	}
	_, variance := stat.PopMeanVariance(scaled, nil)
	return variance
}

// UtilizationMedian is the median of the utilization history
func (vm *VM) UtilizationMedian() float64 {
	return median(vm.utilHistory)
}

// UtilizationMAD is the median absolute deviation of the utilization history from its median
func (vm *VM) UtilizationMAD() float64 {
	if len(vm.utilHistory) == 0 {
		return 0.0
	}
	med := median(vm.utilHistory)
	deviations := make([]float64, len(vm.utilHistory))
	for idx, u := range vm.utilHistory {
		deviations[idx] = math.Abs(med - u)
	}
	return median(deviations)
}

// median of the values, averaging the middle pair when there is an even number
func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0.0
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

// SetInMigration marks whether the VM is being migrated
func (vm *VM) SetInMigration(migrating bool) {
	vm.inMigration = migrating
}

// InMigration reports whether the VM is being migrated
func (vm *VM) InMigration() bool {
	return vm.inMigration
}

// FinishTime is the time the VM's last cloudlet completed, Unset while work remains
func (vm *VM) FinishTime() float64 {
	return vm.finishTime
}

// StateHistory returns the VM's allocation history
func (vm *VM) StateHistory() []StateHistoryEntry {
	return vm.stateHistory
}

// addStateHistoryEntry records allocation at time t, replacing an entry already made at t
func (vm *VM) addStateHistoryEntry(t, allocated, requested float64, active bool) {
	vm.stateHistory = appendStateHistory(vm.stateHistory, StateHistoryEntry{Time: t,
		AllocatedMips: allocated, RequestedMips: requested, Active: active})
}

// matchParam and setParam let VM satisfy the paramObj interface
func (vm *VM) matchParam(attrbName, attrbValue string) bool {
	switch attrbName {
	case "name":
		return vm.vmName == attrbValue
	case "host":
		return vm.hostName == attrbValue
	}
	return false
}

func (vm *VM) setParam(param string, value valueStruct) {
	switch param {
	case "interval":
		vm.schedulingInterval = value.floatValue
	case "migrating":
		vm.inMigration = value.boolValue
	case "trace":
		vm.trace = value.boolValue
	}
}

func (vm *VM) paramObjName() string {
	return vm.vmName
}
