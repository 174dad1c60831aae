package dcsim

// desc-topo.go holds the serializable description of a datacenter: its switches,
// hosts, and VMs, and the file checking helpers used when reading and writing them.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SwitchDesc describes a switch.  Zero-valued bandwidths, latencies,
// and ports take the defaults of the switch's level
type SwitchDesc struct {
	Name string `json:"name" yaml:"name"`

	// "root", "aggregate", or "edge"
	Level string `json:"level" yaml:"level"`

	// name of the switch above, empty for a root switch
	Uplink string `json:"uplink" yaml:"uplink"`

	UpBandwidth   float64 `json:"upbandwidth" yaml:"upbandwidth"`
	DownBandwidth float64 `json:"downbandwidth" yaml:"downbandwidth"`
	UpLatency     float64 `json:"uplatency" yaml:"uplatency"`
	DownLatency   float64 `json:"downlatency" yaml:"downlatency"`
	Ports         int     `json:"ports" yaml:"ports"`
}

// CreateSwitchDesc is a constructor
func CreateSwitchDesc(name, level, uplink string) *SwitchDesc {
	return &SwitchDesc{Name: name, Level: level, Uplink: uplink}
}

// HostDesc describes a physical machine
type HostDesc struct {
	Name       string  `json:"name" yaml:"name"`
	EdgeSwitch string  `json:"edgeswitch" yaml:"edgeswitch"`
	PEs        int     `json:"pes" yaml:"pes"`
	MipsPerPE  float64 `json:"mipsperpe" yaml:"mipsperpe"`
	Bandwidth  float64 `json:"bandwidth" yaml:"bandwidth"`

	// a positive MaxPower gives the host a linear power model
	MaxPower       float64 `json:"maxpower" yaml:"maxpower"`
	StaticFraction float64 `json:"staticfraction" yaml:"staticfraction"`
}

// CreateHostDesc is a constructor
func CreateHostDesc(name, edgeSwitch string, pes int, mipsPerPE float64) *HostDesc {
	return &HostDesc{Name: name, EdgeSwitch: edgeSwitch, PEs: pes, MipsPerPE: mipsPerPE}
}

// VMDesc describes a virtual machine and where it is placed
type VMDesc struct {
	Name string  `json:"name" yaml:"name"`
	Host string  `json:"host" yaml:"host"`
	Mips float64 `json:"mips" yaml:"mips"`
	PEs  int     `json:"pes" yaml:"pes"`

	// "spaceshared", "timeshared", or "packetaware"
	Scheduler string `json:"scheduler" yaml:"scheduler"`

	// utilization sampling interval, seconds
	Interval float64 `json:"interval" yaml:"interval"`
}

// CreateVMDesc is a constructor
func CreateVMDesc(name, host string, mips float64, pes int, scheduler string) *VMDesc {
	return &VMDesc{Name: name, Host: host, Mips: mips, PEs: pes, Scheduler: scheduler}
}

// TopoCfg describes a whole datacenter
type TopoCfg struct {
	Name     string       `json:"name" yaml:"name"`
	Switches []SwitchDesc `json:"switches" yaml:"switches"`
	Hosts    []HostDesc   `json:"hosts" yaml:"hosts"`
	VMs      []VMDesc     `json:"vms" yaml:"vms"`

	LogLevel  string `json:"loglevel" yaml:"loglevel"`
	TraceFile string `json:"tracefile" yaml:"tracefile"`
}

// CreateTopoCfg is a constructor
func CreateTopoCfg(name string) *TopoCfg {
	return &TopoCfg{Name: name, Switches: make([]SwitchDesc, 0), Hosts: make([]HostDesc, 0),
		VMs: make([]VMDesc, 0)}
}

// AddSwitch includes a switch description
func (tc *TopoCfg) AddSwitch(sd *SwitchDesc) {
	tc.Switches = append(tc.Switches, *sd)
}

// AddHost includes a host description
func (tc *TopoCfg) AddHost(hd *HostDesc) {
	tc.Hosts = append(tc.Hosts, *hd)
}

// AddVM includes a VM description
func (tc *TopoCfg) AddVM(vd *VMDesc) {
	tc.VMs = append(tc.VMs, *vd)
}

// WriteToFile serializes the TopoCfg and writes to the file whose name is given as an input argument.
// Extension of the file name selects whether serialization is to json or to yaml format.
func (tc *TopoCfg) WriteToFile(filename string) error {
	return writeSerialized(filename, *tc)
}

// ReadTopoCfg deserializes a slice of bytes into a TopoCfg.  If the input arg of bytes
// is empty, the file whose name is given as an argument is read.  Error returned if
// any part of the process generates the error.
func ReadTopoCfg(topoFileName string, useYAML bool, dict []byte) (*TopoCfg, error) {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, err := os.Stat(topoFileName)
		if os.IsNotExist(err) || (err == nil && fileInfo.IsDir()) {
			return nil, fmt.Errorf("topology %s does not exist or cannot be read", topoFileName)
		}
		dict, err = os.ReadFile(topoFileName)
		if err != nil {
			return nil, err
		}
	}

	example := TopoCfg{}
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

// UseYAML reports whether a file name calls for yaml serialization
func UseYAML(filename string) bool {
	ext := filepath.Ext(filename)
	return ext == ".yaml" || ext == ".YAML" || ext == ".yml"
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be written.
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		if len(name) == 0 {
			continue
		}

		// the directory holding the file has to exist
		directory, _ := filepath.Split(name)
		if len(directory) == 0 {
			continue
		}
		if _, err := os.Stat(directory); err != nil {
			errs = append(errs, err)
		}
	}

	if checkExistence {
		for _, name := range names {
			if len(name) == 0 {
				continue
			}
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}
