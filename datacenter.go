package dcsim

// datacenter.go builds the run-time datacenter from its description: switches, hosts
// and VMs get ids, are linked into a tree, are checked for consistency and connectivity,
// receive their run-time parameters, and are registered with the event kernel.

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// default bandwidth of the link between a host and its edge switch
const defaultHostBndwdth = 100 * 1024 * 1024

// default utilization sampling interval of a VM
const defaultSchedulingInterval = 300.0

// simCtx is the state hosts and switches share while the simulation runs
type simCtx struct {
	sched    Scheduler
	switches map[int]*Switch
	hosts    map[int]*Host

	// the edge switch, and the host, of every VM, by VM id
	vmToSwitch map[int]int
	vmToHost   map[int]int

	metrics  *Metrics
	traceMgr *TraceManager

	created   int
	delivered int
}

func createSimCtx(sched Scheduler, tm *TraceManager) *simCtx {
	ctx := new(simCtx)
	ctx.sched = sched
	ctx.switches = make(map[int]*Switch)
	ctx.hosts = make(map[int]*Host)
	ctx.vmToSwitch = make(map[int]int)
	ctx.vmToHost = make(map[int]int)
	ctx.metrics = CreateMetrics()
	ctx.traceMgr = tm
	return ctx
}

// knownVM reports whether a VM with the id is placed in the datacenter
func (ctx *simCtx) knownVM(vmID int) bool {
	_, present := ctx.vmToHost[vmID]
	return present
}

// hostOfVM returns the id of the host holding the VM
func (ctx *simCtx) hostOfVM(vmID int) int {
	hostID, present := ctx.vmToHost[vmID]
	if !present {
		panic(fmt.Errorf("vm %d is not placed on any host", vmID))
	}
	return hostID
}

// switchOfVM returns the id of the edge switch of the VM's host
func (ctx *simCtx) switchOfVM(vmID int) int {
	switchID, present := ctx.vmToSwitch[vmID]
	if !present {
		panic(fmt.Errorf("vm %d has no edge switch", vmID))
	}
	return switchID
}

// Datacenter is the run-time representation of a TopoCfg
type Datacenter struct {
	Name   string
	kernel *Kernel
	ctx    *simCtx

	switchByName map[string]*Switch
	hostByName   map[string]*Host
	vmByName     map[string]*VM
	vmByID       map[int]*VM
	idToName     map[int]string

	routes     *routeTable
	nxtID      int
	nxtCloudID int
}

// nxtId creates an id unique among the datacenter's switches, hosts, and VMs
func (dc *Datacenter) nxtId() int {
	dc.nxtID += 1
	return dc.nxtID
}

// BuildDatacenter creates the datacenter described by topo, applies the run-time
// parameters of exp (which may be nil), and registers its hosts and switches with k.
// Every inconsistency found in the description is reported in the returned error
func BuildDatacenter(topo *TopoCfg, exp *ExpCfg, k *Kernel, tm *TraceManager) (*Datacenter, error) {
	if tm == nil {
		tm = CreateTraceManager(topo.Name, false)
	}

	dc := new(Datacenter)
	dc.Name = topo.Name
	dc.kernel = k
	dc.ctx = createSimCtx(k, tm)
	dc.switchByName = make(map[string]*Switch)
	dc.hostByName = make(map[string]*Host)
	dc.vmByName = make(map[string]*VM)
	dc.vmByID = make(map[int]*VM)
	dc.idToName = make(map[int]string)

	errs := []error{}
	if exp != nil {
		errs = append(errs, exp.Validate())
	}
	errs = append(errs, dc.buildSwitches(topo.Switches)...)
	errs = append(errs, dc.buildHosts(topo.Hosts)...)
	errs = append(errs, dc.buildVMs(topo.VMs)...)

	err := ReportErrs(errs)
	if err != nil {
		return nil, err
	}

	err = dc.checkConnections()
	if err != nil {
		return nil, err
	}

	applyExpParameters(exp, dc.paramObjs())

	for _, swtch := range dc.Switches() {
		k.Register(swtch.switchID, swtch)
		tm.AddName(swtch.switchID, swtch.switchName, "switch")
	}
	for _, host := range dc.Hosts() {
		k.Register(host.hostID, host)
		tm.AddName(host.hostID, host.hostName, "host")
	}
	for _, vm := range dc.VMs() {
		tm.AddName(vm.vmID, vm.vmName, "vm")
	}

	logrus.WithFields(logrus.Fields{"datacenter": dc.Name}).Infof("built %d switches, %d hosts, %d vms",
		len(dc.switchByName), len(dc.hostByName), len(dc.vmByName))

	return dc, nil
}

// buildSwitches creates the switches and links each to its uplink
func (dc *Datacenter) buildSwitches(descs []SwitchDesc) []error {
	errs := []error{}
	for _, desc := range descs {
		_, present := dc.switchByName[desc.Name]
		if present {
			errs = append(errs, fmt.Errorf("switch name %s is duplicated", desc.Name))
			continue
		}
		level, err := switchLevelFromStr(desc.Level)
		if err != nil {
			errs = append(errs, fmt.Errorf("switch %s: %w", desc.Name, err))
			continue
		}

		swtch := createSwitch(desc.Name, dc.nxtId(), level, dc.ctx)
		if desc.UpBandwidth > 0.0 {
			swtch.upBndwdth = desc.UpBandwidth
		}
		if desc.DownBandwidth > 0.0 {
			swtch.downBndwdth = desc.DownBandwidth
		}
		if desc.UpLatency > 0.0 {
			swtch.upLatency = desc.UpLatency
		}
		if desc.DownLatency > 0.0 {
			swtch.downLatency = desc.DownLatency
		}
		if desc.Ports > 0 {
			swtch.ports = desc.Ports
		}

		dc.switchByName[desc.Name] = swtch
		dc.ctx.switches[swtch.switchID] = swtch
		dc.idToName[swtch.switchID] = swtch.switchName
	}

	for _, desc := range descs {
		swtch, present := dc.switchByName[desc.Name]
		if !present {
			continue
		}
		if len(desc.Uplink) == 0 {
			if swtch.level != RootLevel {
				errs = append(errs, fmt.Errorf("%s switch %s has no uplink", swtch.level, desc.Name))
			}
			continue
		}
		parent, present := dc.switchByName[desc.Uplink]
		if !present {
			errs = append(errs, fmt.Errorf("switch %s has unknown uplink %s", desc.Name, desc.Uplink))
			continue
		}
		if parent.level >= swtch.level {
			errs = append(errs, fmt.Errorf("%s switch %s cannot have %s switch %s as uplink",
				swtch.level, desc.Name, parent.level, parent.switchName))
			continue
		}
		swtch.addUplink(parent.switchID)
		parent.addDownlink(swtch.switchID)
	}
	return errs
}

// buildHosts creates the hosts and attaches each to its edge switch
func (dc *Datacenter) buildHosts(descs []HostDesc) []error {
	errs := []error{}
	if len(descs) == 0 {
		errs = append(errs, fmt.Errorf("datacenter has no hosts"))
	}
	for _, desc := range descs {
		_, present := dc.hostByName[desc.Name]
		if present {
			errs = append(errs, fmt.Errorf("host name %s is duplicated", desc.Name))
			continue
		}
		if desc.PEs < 1 || !(desc.MipsPerPE > 0.0) {
			errs = append(errs, fmt.Errorf("host %s needs at least one PE and a positive MIPS rating", desc.Name))
			continue
		}

		bndwdth := desc.Bandwidth
		if !(bndwdth > 0.0) {
			bndwdth = defaultHostBndwdth
		}
		host := createHost(desc.Name, dc.nxtId(), desc.PEs, desc.MipsPerPE, bndwdth, dc.ctx)
		if desc.MaxPower > 0.0 {
			host.SetPowerModel(&LinearPowerModel{MaxPower: desc.MaxPower, StaticFraction: desc.StaticFraction})
		}

		if len(desc.EdgeSwitch) > 0 {
			edge, present := dc.switchByName[desc.EdgeSwitch]
			if !present {
				errs = append(errs, fmt.Errorf("host %s has unknown edge switch %s", desc.Name, desc.EdgeSwitch))
			} else if edge.level != EdgeLevel {
				errs = append(errs, fmt.Errorf("host %s is attached to %s switch %s", desc.Name, edge.level, desc.EdgeSwitch))
			} else {
				host.edgeSwtch = edge.switchID
				edge.addDownlink(host.hostID)
			}
		}

		dc.hostByName[desc.Name] = host
		dc.ctx.hosts[host.hostID] = host
		dc.idToName[host.hostID] = host.hostName
	}
	return errs
}

// buildVMs creates the VMs and places each on its host
func (dc *Datacenter) buildVMs(descs []VMDesc) []error {
	errs := []error{}
	for _, desc := range descs {
		_, present := dc.vmByName[desc.Name]
		if present {
			errs = append(errs, fmt.Errorf("vm name %s is duplicated", desc.Name))
			continue
		}
		host, present := dc.hostByName[desc.Host]
		if !present {
			errs = append(errs, fmt.Errorf("vm %s placed on unknown host %s", desc.Name, desc.Host))
			continue
		}
		kind, err := schedKindFromStr(desc.Scheduler)
		if err != nil {
			errs = append(errs, fmt.Errorf("vm %s: %w", desc.Name, err))
			continue
		}
		if !(desc.Mips > 0.0) {
			errs = append(errs, fmt.Errorf("vm %s needs a positive MIPS rating", desc.Name))
			continue
		}
		pes := desc.PEs
		if pes < 1 {
			pes = 1
		}
		interval := desc.Interval
		if !(interval > 0.0) {
			interval = defaultSchedulingInterval
		}

		vm := createVM(desc.Name, dc.nxtId(), desc.Mips, pes, interval, CreateCloudletScheduler(kind, pes))
		err = host.addVM(vm)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		dc.vmByName[desc.Name] = vm
		dc.vmByID[vm.vmID] = vm
		dc.idToName[vm.vmID] = vm.vmName
		dc.ctx.vmToHost[vm.vmID] = host.hostID
		if host.edgeSwtch >= 0 {
			dc.ctx.vmToSwitch[vm.vmID] = host.edgeSwtch
		}
	}
	return errs
}

// checkConnections builds the route table and reports hosts that cannot reach one another
func (dc *Datacenter) checkConnections() error {
	edges := make(map[int][]int)
	for _, swtch := range dc.ctx.switches {
		edges[swtch.switchID] = append(edges[swtch.switchID], swtch.uplinks...)
		edges[swtch.switchID] = append(edges[swtch.switchID], swtch.downlinks...)
	}
	for _, host := range dc.ctx.hosts {
		if host.edgeSwtch >= 0 {
			edges[host.hostID] = []int{host.edgeSwtch}
		} else {
			edges[host.hostID] = []int{}
		}
	}
	dc.routes = buildRouteTable(edges)

	// find the component holding the hosts, every host has to be in it
	compOf := make(map[int]int)
	for idx, comp := range dc.routes.components() {
		for _, id := range comp {
			compOf[id] = idx
		}
	}
	hosts := dc.Hosts()
	errs := []error{}
	for _, host := range hosts[1:] {
		if compOf[host.hostID] != compOf[hosts[0].hostID] {
			errs = append(errs, fmt.Errorf("host %s cannot reach host %s", host.hostName, hosts[0].hostName))
		}
	}
	return ReportErrs(errs)
}

// paramObjs groups the datacenter's objects by the paramObj name an ExpParameter uses for them
func (dc *Datacenter) paramObjs() map[string][]paramObj {
	objs := make(map[string][]paramObj)
	for _, swtch := range dc.Switches() {
		objs["Switch"] = append(objs["Switch"], swtch)
	}
	for _, host := range dc.Hosts() {
		objs["Host"] = append(objs["Host"], host)
	}
	for _, vm := range dc.VMs() {
		objs["VM"] = append(objs["VM"], vm)
	}
	return objs
}

// Start schedules the first update of every host at the current time, and the
// first of the periodic updates that sample VM utilization
func (dc *Datacenter) Start() {
	now := dc.kernel.Now()
	for _, host := range dc.Hosts() {
		dc.kernel.Schedule(host.hostID, 0.0, HostUpdate, nil)
		host.scheduleSample(now)
	}
	logrus.WithFields(logrus.Fields{"datacenter": dc.Name, "time": dc.kernel.Now()}).Info("datacenter started")
}

// Run starts the datacenter and executes events until none are left or limit is reached
func (dc *Datacenter) Run(limit float64) {
	dc.Start()
	dc.kernel.Run(limit)
	logrus.WithFields(logrus.Fields{"datacenter": dc.Name, "time": dc.kernel.Now(),
		"created": dc.Created(), "delivered": dc.Delivered()}).Info("datacenter stopped")
}

// Submit gives a cloudlet to the named VM
func (dc *Datacenter) Submit(vmName string, cl *Cloudlet) error {
	if err := dc.admit(vmName, cl); err != nil {
		return err
	}
	dc.vmByName[vmName].Submit(cl, dc.kernel.Now())
	return nil
}

// admit checks that the named VM exists and can run the cloudlet
func (dc *Datacenter) admit(vmName string, cl *Cloudlet) error {
	vm, present := dc.vmByName[vmName]
	if !present {
		return fmt.Errorf("cloudlet %d submitted to unknown vm %s", cl.ID, vmName)
	}
	if cl.networked() {
		_, routable := vm.sched.(PacketRoutable)
		if !routable {
			return fmt.Errorf("cloudlet %d has network stages but vm %s does not route packets", cl.ID, vmName)
		}
	}
	return nil
}

// nxtCloudletID creates an id unique among the datacenter's cloudlets
func (dc *Datacenter) nxtCloudletID() int {
	dc.nxtCloudID += 1
	return dc.nxtCloudID
}

// Created is the number of packets emitted by VMs
func (dc *Datacenter) Created() int {
	return dc.ctx.created
}

// Delivered is the number of packets that reached their destination inbox
func (dc *Datacenter) Delivered() int {
	return dc.ctx.delivered
}

// Metrics returns the datacenter's counters
func (dc *Datacenter) Metrics() *Metrics {
	return dc.ctx.metrics
}

// Kernel returns the event kernel the datacenter runs on
func (dc *Datacenter) Kernel() *Kernel {
	return dc.kernel
}

// Switch returns the named switch
func (dc *Datacenter) Switch(name string) (*Switch, bool) {
	swtch, present := dc.switchByName[name]
	return swtch, present
}

// Host returns the named host
func (dc *Datacenter) Host(name string) (*Host, bool) {
	host, present := dc.hostByName[name]
	return host, present
}

// VM returns the named VM
func (dc *Datacenter) VM(name string) (*VM, bool) {
	vm, present := dc.vmByName[name]
	return vm, present
}

// VMByID returns the VM with the id
func (dc *Datacenter) VMByID(id int) (*VM, bool) {
	vm, present := dc.vmByID[id]
	return vm, present
}

// Switches lists the switches in ascending id order
func (dc *Datacenter) Switches() []*Switch {
	switches := make([]*Switch, 0, len(dc.switchByName))
	for _, swtch := range dc.switchByName {
		switches = append(switches, swtch)
	}
	sort.Slice(switches, func(i, j int) bool { return switches[i].switchID < switches[j].switchID })
	return switches
}

// Hosts lists the hosts in ascending id order
func (dc *Datacenter) Hosts() []*Host {
	hosts := make([]*Host, 0, len(dc.hostByName))
	for _, host := range dc.hostByName {
		hosts = append(hosts, host)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].hostID < hosts[j].hostID })
	return hosts
}

// VMs lists the VMs in ascending id order
func (dc *Datacenter) VMs() []*VM {
	vms := make([]*VM, 0, len(dc.vmByName))
	for _, vm := range dc.vmByName {
		vms = append(vms, vm)
	}
	sort.Slice(vms, func(i, j int) bool { return vms[i].vmID < vms[j].vmID })
	return vms
}

// Route returns the names of the hosts and switches on the path between two hosts
func (dc *Datacenter) Route(srcHost, dstHost string) ([]string, error) {
	src, present := dc.hostByName[srcHost]
	if !present {
		return nil, fmt.Errorf("unknown host %s", srcHost)
	}
	dst, present := dc.hostByName[dstHost]
	if !present {
		return nil, fmt.Errorf("unknown host %s", dstHost)
	}
	route := dc.routes.routeFrom(src.hostID, dst.hostID)
	names := make([]string, 0, len(route))
	for _, id := range route {
		names = append(names, dc.idToName[id])
	}
	return names, nil
}

// ShowRoute returns the route between two hosts as a comma-separated list of names
func (dc *Datacenter) ShowRoute(srcHost, dstHost string) string {
	src, srcPresent := dc.hostByName[srcHost]
	dst, dstPresent := dc.hostByName[dstHost]
	if !srcPresent || !dstPresent {
		return ""
	}
	return ShowPath(dc.routes.routeFrom(src.hostID, dst.hostID), dc.idToName)
}

// TotalEnergy sums the energy used by the hosts that have a power model
func (dc *Datacenter) TotalEnergy() (float64, error) {
	total := 0.0
	for _, host := range dc.Hosts() {
		if host.power == nil {
			continue
		}
		energy, err := host.Energy()
		if err != nil {
			return 0.0, err
		}
		total += energy
	}
	return total, nil
}

// SetLogLevel sets the level of the package's logging from its name
func SetLogLevel(level string) error {
	if len(level) == 0 {
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	return nil
}
