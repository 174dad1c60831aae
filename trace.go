package dcsim

import (
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceInst is one serialized trace record
type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers the names of the model's objects and the
// records of packets passing through them
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// trace records, by id of the VM that sent the packet
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace stores a trace record under execID
func (tm *TraceManager) AddTrace(execID int, trace TraceInst) {
	if !tm.Active() {
		return
	}
	tm.Traces[execID] = append(tm.Traces[execID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.Active() {
		return
	}
	_, present := tm.NameByID[id]
	if present {
		panic("duplicated id in AddName")
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
}

// WriteToFile stores the TraceManager to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) (bool, error) {
	if !tm.Active() {
		return false, nil
	}
	err := writeSerialized(filename, *tm)
	return err == nil, err
}

// PacketTrace saves the visit of a packet to a host or switch
type PacketTrace struct {
	Time     float64 `json:"time" yaml:"time"`
	Ticks    int64   `json:"ticks" yaml:"ticks"`
	Priority int64   `json:"priority" yaml:"priority"`
	SrcVM    int     `json:"srcvm" yaml:"srcvm"`
	DstVM    int     `json:"dstvm" yaml:"dstvm"`
	ObjID    int     `json:"objid" yaml:"objid"`
	Op       string  `json:"op" yaml:"op"` // "enter", "exit", "deliver"
	Payload  float64 `json:"payload" yaml:"payload"`
	Cloudlet int     `json:"cloudlet" yaml:"cloudlet"`
}

// Serialize returns the yaml encoding of the record
func (ptr *PacketTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*ptr)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddPacketTrace records that packet hp reached or left object objID at time now
func AddPacketTrace(tm *TraceManager, now float64, hp *NetworkHopPacket, objID int, op string) {
	if !tm.Active() {
		return
	}
	vrt := vrtime.SecondsToTime(now)

	ptr := new(PacketTrace)
	ptr.Time = vrt.Seconds()
	ptr.Ticks = vrt.Ticks()
	ptr.Priority = vrt.Pri()
	ptr.SrcVM = hp.SrcVMID
	ptr.DstVM = hp.DstVMID
	ptr.ObjID = objID
	ptr.Op = op
	ptr.Payload = hp.Pkt.PayloadSize
	ptr.Cloudlet = hp.Pkt.CloudletID

	traceTime := strconv.FormatFloat(now, 'f', -1, 64)
	tm.AddTrace(hp.SrcVMID, TraceInst{TraceTime: traceTime, TraceType: "packet", TraceStr: ptr.Serialize()})
}
