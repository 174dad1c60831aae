package dcsim

// workload.go reads the description of the cloudlets to run and submits them to
// the datacenter's VMs.  Cloudlets are either listed explicitly, stage by stage, or
// generated as a ring: in every round each packet-aware VM computes, sends a packet
// to the VM a fixed number of places after it, and waits for the packet from the VM
// the same number of places before it.

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/iti/rngstream"
	"gopkg.in/yaml.v3"
)

// StageDesc describes one stage of a cloudlet
type StageDesc struct {
	// "exec", "send", or "recv"
	Type   string  `json:"type" yaml:"type"`
	Length float64 `json:"length" yaml:"length"`
	Peer   string  `json:"peer" yaml:"peer"`
	Size   float64 `json:"size" yaml:"size"`
}

// CloudletDesc describes a cloudlet and the VM it runs on
type CloudletDesc struct {
	VM     string      `json:"vm" yaml:"vm"`
	Stages []StageDesc `json:"stages" yaml:"stages"`
}

// RingDesc describes a synthetic ring exchange
type RingDesc struct {
	Rounds     int     `json:"rounds" yaml:"rounds"`
	ExecLength float64 `json:"execlength" yaml:"execlength"`
	MinPayload float64 `json:"minpayload" yaml:"minpayload"`
	MaxPayload float64 `json:"maxpayload" yaml:"maxpayload"`
}

// WorkloadCfg describes the cloudlets of an experiment
type WorkloadCfg struct {
	Name      string         `json:"name" yaml:"name"`
	Cloudlets []CloudletDesc `json:"cloudlets" yaml:"cloudlets"`
	Ring      *RingDesc      `json:"ring,omitempty" yaml:"ring,omitempty"`
}

// CreateWorkloadCfg is a constructor
func CreateWorkloadCfg(name string) *WorkloadCfg {
	return &WorkloadCfg{Name: name, Cloudlets: make([]CloudletDesc, 0)}
}

// AddCloudlet includes a cloudlet description
func (wc *WorkloadCfg) AddCloudlet(vm string, stages []StageDesc) {
	wc.Cloudlets = append(wc.Cloudlets, CloudletDesc{VM: vm, Stages: stages})
}

// WriteToFile stores the WorkloadCfg to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (wc *WorkloadCfg) WriteToFile(filename string) error {
	return writeSerialized(filename, *wc)
}

// ReadWorkloadCfg deserializes a byte slice holding a representation of a WorkloadCfg.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadWorkloadCfg(filename string, useYAML bool, dict []byte) (*WorkloadCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := WorkloadCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// LoadWorkload creates the cloudlets wc describes and submits them, returning how many
// were submitted.  Problems with the description are reported together and nothing is submitted
func (dc *Datacenter) LoadWorkload(wc *WorkloadCfg) (int, error) {
	type submission struct {
		vm string
		cl *Cloudlet
	}
	subs := []submission{}
	errs := []error{}

	for _, desc := range wc.Cloudlets {
		stages, err := dc.buildStages(desc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		subs = append(subs, submission{vm: desc.VM, cl: CreateCloudlet(dc.nxtCloudletID(), stages)})
	}

	if wc.Ring != nil {
		ring, err := dc.buildRing(wc.Ring)
		if err != nil {
			errs = append(errs, err)
		}
		for _, vm := range dc.ringMembers() {
			if stages, present := ring[vm.vmName]; present {
				subs = append(subs, submission{vm: vm.vmName, cl: CreateCloudlet(dc.nxtCloudletID(), stages)})
			}
		}
	}

	// every cloudlet must be accepted before any is submitted
	for _, sub := range subs {
		if err := dc.admit(sub.vm, sub.cl); err != nil {
			errs = append(errs, err)
		}
	}
	err := ReportErrs(errs)
	if err != nil {
		return 0, err
	}

	for _, sub := range subs {
		dc.vmByName[sub.vm].Submit(sub.cl, dc.kernel.Now())
	}
	return len(subs), nil
}

// buildStages converts a cloudlet description into stages, resolving peer VM names
func (dc *Datacenter) buildStages(desc CloudletDesc) ([]Stage, error) {
	_, present := dc.vmByName[desc.VM]
	if !present {
		return nil, fmt.Errorf("cloudlet for unknown vm %s", desc.VM)
	}

	stages := make([]Stage, 0, len(desc.Stages))
	for _, sd := range desc.Stages {
		switch strings.ToLower(sd.Type) {
		case "exec":
			if sd.Length < 0.0 {
				return nil, fmt.Errorf("cloudlet on vm %s has negative stage length", desc.VM)
			}
			stages = append(stages, Stage{Type: ExecStage, Length: sd.Length})
		case "send", "recv":
			peer, present := dc.vmByName[sd.Peer]
			if !present {
				return nil, fmt.Errorf("cloudlet on vm %s names unknown peer %s", desc.VM, sd.Peer)
			}
			if strings.ToLower(sd.Type) == "send" {
				stages = append(stages, Stage{Type: SendStage, Peer: peer.vmID, Size: sd.Size})
			} else {
				stages = append(stages, Stage{Type: RecvStage, Peer: peer.vmID})
			}
		default:
			return nil, fmt.Errorf("cloudlet on vm %s has stage of unknown type %s", desc.VM, sd.Type)
		}
	}
	return stages, nil
}

// ringMembers lists, in ascending id order, the VMs whose scheduler routes packets
func (dc *Datacenter) ringMembers() []*VM {
	members := make([]*VM, 0)
	for _, vm := range dc.VMs() {
		_, routable := vm.sched.(PacketRoutable)
		if routable {
			members = append(members, vm)
		}
	}
	return members
}

// buildRing returns the stages of the ring exchange for each member VM, by VM name.
// The ring's stride comes from a stream named after the workload, and each VM draws
// its payload sizes from a stream named after itself
func (dc *Datacenter) buildRing(rd *RingDesc) (map[string][]Stage, error) {
	members := dc.ringMembers()
	n := len(members)
	if n < 2 {
		return nil, fmt.Errorf("ring workload needs two packet-aware vms, found %d", n)
	}
	if rd.Rounds < 1 {
		return nil, fmt.Errorf("ring workload needs at least one round")
	}
	if rd.MinPayload < 0.0 || rd.MaxPayload < rd.MinPayload {
		return nil, fmt.Errorf("ring workload payload range [%f,%f] is malformed", rd.MinPayload, rd.MaxPayload)
	}

	strideRng := rngstream.New(dc.Name + "-ring")
	stride := 1 + uniformIndex(strideRng.RandU01(), n-1)

	ring := make(map[string][]Stage)
	for idx, vm := range members {
		succ := members[(idx+stride)%n]
		pred := members[(idx-stride+n)%n]
		rng := rngstream.New(vm.vmName)

		stages := make([]Stage, 0, 3*rd.Rounds)
		for round := 0; round < rd.Rounds; round += 1 {
			size := rd.MinPayload + (rd.MaxPayload-rd.MinPayload)*rng.RandU01()
			stages = append(stages, Stage{Type: ExecStage, Length: rd.ExecLength},
				Stage{Type: SendStage, Peer: succ.vmID, Size: size},
				Stage{Type: RecvStage, Peer: pred.vmID})
		}
		ring[vm.vmName] = stages
	}
	return ring, nil
}

// uniformIndex maps a draw u in [0,1) to an index in [0,n)
func uniformIndex(u float64, n int) int {
	idx := int(u * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}
