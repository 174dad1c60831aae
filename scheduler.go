package dcsim

// scheduler.go holds the cloudlet schedulers a VM uses to share its processing
// elements (PEs) among the cloudlets submitted to it.

// A cloudlet is a sequence of stages.  An execution stage needs some number of
// million instructions (MI) of service, a send stage emits a packet to a peer VM, and
// a receive stage blocks until a packet from a named peer VM is in the inbox.
// The space-shared policy gives each running cloudlet a PE of its own, with cloudlets
// beyond the number of PEs waiting first-come first-serve.  The time-shared policy lets every
// cloudlet run, dividing the VM's capacity among them.   Only the packet-aware policy
// accepts cloudlets with send and receive stages.

import (
	"fmt"
	"math"
	"strings"
)

// workEpsilon is the residual work (MI) below which an execution stage counts as complete
const workEpsilon = 1e-3

// SchedulerKind selects the cloudlet scheduling policy of a VM
type SchedulerKind int

const (
	SpaceShared SchedulerKind = iota
	TimeShared
	PacketAware
)

// schedKindFromStr returns the SchedulerKind named in a configuration file
func schedKindFromStr(kind string) (SchedulerKind, error) {
	switch strings.ToLower(kind) {
	case "spaceshared", "space", "":
		return SpaceShared, nil
	case "timeshared", "time":
		return TimeShared, nil
	case "packetaware", "network", "packet":
		return PacketAware, nil
	}
	return SpaceShared, fmt.Errorf("unknown cloudlet scheduler %s", kind)
}

// StageType codes what a cloudlet stage does
type StageType int

const (
	ExecStage StageType = iota
	SendStage
	RecvStage
)

// Stage is one step of a cloudlet
type Stage struct {
	Type   StageType
	Length float64 // MI, for ExecStage
	Peer   int     // peer VM id, for SendStage and RecvStage
	Size   float64 // bytes, for SendStage
}

// Cloudlet is a unit of application work run on a VM
type Cloudlet struct {
	ID     int
	Stages []Stage

	stageIdx   int
	remaining  float64 // MI left in the current execution stage
	rate       float64 // MIPS given at the last update
	received   []*TaskPacket
	SubmitTime float64
	StartTime  float64
	FinishTime float64
}

// CreateCloudlet is a constructor
func CreateCloudlet(id int, stages []Stage) *Cloudlet {
	cl := &Cloudlet{ID: id, Stages: stages, StartTime: Unset, FinishTime: Unset}
	cl.received = make([]*TaskPacket, 0)
	cl.enterStage(0)
	return cl
}

// enterStage moves the cloudlet to the stage with index idx
func (cl *Cloudlet) enterStage(idx int) {
	cl.stageIdx = idx
	if idx < len(cl.Stages) && cl.Stages[idx].Type == ExecStage {
		cl.remaining = cl.Stages[idx].Length
	} else {
		cl.remaining = 0.0
	}
}

// Finished reports whether every stage is complete
func (cl *Cloudlet) Finished() bool {
	return cl.stageIdx >= len(cl.Stages)
}

// Length is the total execution requirement in MI
func (cl *Cloudlet) Length() float64 {
	total := 0.0
	for _, stage := range cl.Stages {
		if stage.Type == ExecStage {
			total += stage.Length
		}
	}
	return total
}

// Received lists the packets consumed by the cloudlet's receive stages
func (cl *Cloudlet) Received() []*TaskPacket {
	return cl.received
}

// networked reports whether the cloudlet has send or receive stages
func (cl *Cloudlet) networked() bool {
	for _, stage := range cl.Stages {
		if stage.Type != ExecStage {
			return true
		}
	}
	return false
}

// executing reports whether the cloudlet is in an execution stage with work left
func (cl *Cloudlet) executing() bool {
	return !cl.Finished() && cl.Stages[cl.stageIdx].Type == ExecStage
}

// CloudletScheduler is the interface a VM uses to advance its cloudlets
type CloudletScheduler interface {
	Submit(cl *Cloudlet, now float64)

	// UpdateProcessing advances all cloudlets to time now given the MIPS share per PE,
	// and returns the earliest time a cloudlet will next complete a stage, or 0 if none will
	UpdateProcessing(now float64, mipsShare []float64) float64

	PreviousTime() float64
	TotalUtilizationOfCPU(t float64) float64
	HasWork() bool
	Finished() []*Cloudlet
}

// PacketPort is what a VM offers its cloudlet scheduler to exchange packets
type PacketPort interface {
	VMID() int
	Send(pkt *TaskPacket)
	Recv(senderID int) *TaskPacket
}

// PacketRoutable is satisfied by cloudlet schedulers that run networked cloudlets
type PacketRoutable interface {
	CloudletScheduler
	AttachPort(port PacketPort)
}

// CreateCloudletScheduler is a constructor that returns the scheduler of the named kind
func CreateCloudletScheduler(kind SchedulerKind, pes int) CloudletScheduler {
	switch kind {
	case SpaceShared:
		return CreateSpaceSharedScheduler(pes)
	case TimeShared:
		return CreateTimeSharedScheduler(pes)
	case PacketAware:
		return CreatePacketAwareScheduler(pes)
	}
	panic(fmt.Errorf("unknown scheduler kind %d", kind))
}

// cloudletQueue holds the state common to the scheduling policies
type cloudletQueue struct {
	pes       int
	waiting   []*Cloudlet // submitted, not yet holding a PE
	running   []*Cloudlet // holding a PE (space-shared) or a slice of capacity (time-shared)
	finished  []*Cloudlet
	prevTime  float64
	util      float64 // fraction of capacity in use over the last interval
	port      PacketPort
	timeShare bool
}

func createCloudletQueue(pes int, timeShare bool) cloudletQueue {
	if pes < 1 {
		pes = 1
	}
	return cloudletQueue{pes: pes, waiting: []*Cloudlet{}, running: []*Cloudlet{},
		finished: []*Cloudlet{}, timeShare: timeShare}
}

// Submit puts a cloudlet in the waiting queue; it starts at the next update
func (cq *cloudletQueue) Submit(cl *Cloudlet, now float64) {
	if cl.networked() && cq.port == nil {
		panic(fmt.Errorf("cloudlet %d has network stages but its scheduler cannot route packets", cl.ID))
	}
	cl.SubmitTime = now
	cq.waiting = append(cq.waiting, cl)
}

// PreviousTime is the time of the most recent update
func (cq *cloudletQueue) PreviousTime() float64 {
	return cq.prevTime
}

// TotalUtilizationOfCPU is the fraction of the VM's capacity in use over the
// interval that ended at the last update
func (cq *cloudletQueue) TotalUtilizationOfCPU(t float64) float64 {
	return cq.util
}

// HasWork reports whether any cloudlet is waiting or running
func (cq *cloudletQueue) HasWork() bool {
	return len(cq.waiting)+len(cq.running) > 0
}

// Finished lists completed cloudlets in completion order
func (cq *cloudletQueue) Finished() []*Cloudlet {
	return cq.finished
}

// rates assigns the MIPS each running executing cloudlet gets from the share
func (cq *cloudletQueue) rates(mipsShare []float64) {
	if cq.timeShare {
		total := 0.0
		peMips := 0.0
		for _, mips := range mipsShare {
			mips = clampNonNeg(mips)
			total += mips
			peMips = math.Max(peMips, mips)
		}
		executing := 0
		for _, cl := range cq.running {
			if cl.executing() {
				executing += 1
			}
		}
		for _, cl := range cq.running {
			cl.rate = 0.0
			if cl.executing() {
				cl.rate = math.Min(peMips, total/float64(executing))
			}
		}
		return
	}

	// space-shared: the i-th running cloudlet holds the i-th PE
	for idx, cl := range cq.running {
		cl.rate = 0.0
		if idx < len(mipsShare) && cl.executing() {
			cl.rate = clampNonNeg(mipsShare[idx])
		}
	}
}

// step moves the cloudlet through every stage it can complete at time now.
// Returns true if the cloudlet finished
func (cq *cloudletQueue) step(cl *Cloudlet, now float64) bool {
	for !cl.Finished() {
		stage := cl.Stages[cl.stageIdx]
		switch stage.Type {
		case ExecStage:
			if cl.remaining > workEpsilon {
				return false
			}
		case SendStage:
			pkt := CreateTaskPacket(cq.port.VMID(), stage.Peer, stage.Size, now, cl.ID)
			cq.port.Send(pkt)
		case RecvStage:
			pkt := cq.port.Recv(stage.Peer)
			if pkt == nil {
				return false
			}
			cl.received = append(cl.received, pkt)
		}
		cl.enterStage(cl.stageIdx + 1)
	}
	cl.FinishTime = now
	return true
}

// UpdateProcessing advances the cloudlets to time now
func (cq *cloudletQueue) UpdateProcessing(now float64, mipsShare []float64) float64 {
	elapsed := math.Max(now-cq.prevTime, 0.0)

	// credit the work done since the last update at the rates then in force
	capacity := 0.0
	used := 0.0
	for _, mips := range mipsShare {
		capacity += clampNonNeg(mips)
	}
	cq.rates(mipsShare)
	for _, cl := range cq.running {
		if cl.executing() {
			cl.remaining = math.Max(cl.remaining-cl.rate*elapsed, 0.0)
			used += cl.rate
		}
	}
	if capacity > 0.0 {
		cq.util = math.Min(used/capacity, 1.0)
	} else {
		cq.util = 0.0
	}

	// let cloudlets complete stages, retire the finished ones
	active := make([]*Cloudlet, 0, len(cq.running))
	for _, cl := range cq.running {
		if cq.step(cl, now) {
			cq.finished = append(cq.finished, cl)
			continue
		}
		active = append(active, cl)
	}
	cq.running = active

	// admit waiting cloudlets, first-come first-serve
	for len(cq.waiting) > 0 && (cq.timeShare || len(cq.running) < cq.pes) {
		cl := cq.waiting[0]
		cq.waiting = cq.waiting[1:]
		cl.StartTime = now
		if cq.step(cl, now) {
			cq.finished = append(cq.finished, cl)
			continue
		}
		cq.running = append(cq.running, cl)
	}

	cq.prevTime = now

	// the next completion among the running, executing cloudlets
	cq.rates(mipsShare)
	nxtTime := 0.0
	for _, cl := range cq.running {
		if !cl.executing() || !(cl.rate > 0.0) {
			continue
		}
		t := now + cl.remaining/cl.rate
		if nxtTime == 0.0 || t < nxtTime {
			nxtTime = t
		}
	}
	return nxtTime
}

// SpaceSharedScheduler gives each running cloudlet a PE of its own
type SpaceSharedScheduler struct {
	cloudletQueue
}

// CreateSpaceSharedScheduler is a constructor
func CreateSpaceSharedScheduler(pes int) *SpaceSharedScheduler {
	return &SpaceSharedScheduler{cloudletQueue: createCloudletQueue(pes, false)}
}

// TimeSharedScheduler runs every submitted cloudlet, sharing the VM's capacity
type TimeSharedScheduler struct {
	cloudletQueue
}

// CreateTimeSharedScheduler is a constructor
func CreateTimeSharedScheduler(pes int) *TimeSharedScheduler {
	return &TimeSharedScheduler{cloudletQueue: createCloudletQueue(pes, true)}
}

// PacketAwareScheduler is space-shared and runs cloudlets with send and receive stages.
// A cloudlet blocked in a receive stage keeps its PE
type PacketAwareScheduler struct {
	cloudletQueue
}

// CreatePacketAwareScheduler is a constructor
func CreatePacketAwareScheduler(pes int) *PacketAwareScheduler {
	return &PacketAwareScheduler{cloudletQueue: createCloudletQueue(pes, false)}
}

// AttachPort gives the scheduler the VM-side packet queues
func (ps *PacketAwareScheduler) AttachPort(port PacketPort) {
	ps.port = port
}

// clampNonNeg maps negative and NaN values to zero
func clampNonNeg(v float64) float64 {
	if math.IsNaN(v) || v < 0.0 {
		return 0.0
	}
	return v
}
