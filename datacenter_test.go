package dcsim

import (
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// testTopo is a three level tree:
//
//	root -> agg0 -> edge0 -> h0 (vm0, vm1), h1 (vm2)
//	             -> edge1 -> h2 (vm3)
//	     -> agg1 -> edge2 -> h3 (vm4)
func testTopo() *TopoCfg {
	tc := CreateTopoCfg("test")
	tc.AddSwitch(CreateSwitchDesc("root", "root", ""))
	tc.AddSwitch(CreateSwitchDesc("agg0", "aggregate", "root"))
	tc.AddSwitch(CreateSwitchDesc("agg1", "aggregate", "root"))
	tc.AddSwitch(CreateSwitchDesc("edge0", "edge", "agg0"))
	tc.AddSwitch(CreateSwitchDesc("edge1", "edge", "agg0"))
	tc.AddSwitch(CreateSwitchDesc("edge2", "edge", "agg1"))

	tc.AddHost(CreateHostDesc("h0", "edge0", 2, 1000))
	tc.AddHost(CreateHostDesc("h1", "edge0", 2, 1000))
	tc.AddHost(CreateHostDesc("h2", "edge1", 2, 1000))
	tc.AddHost(CreateHostDesc("h3", "edge2", 2, 1000))

	tc.AddVM(CreateVMDesc("vm0", "h0", 1000, 1, "packetaware"))
	tc.AddVM(CreateVMDesc("vm1", "h0", 1000, 1, "packetaware"))
	tc.AddVM(CreateVMDesc("vm2", "h1", 1000, 1, "packetaware"))
	tc.AddVM(CreateVMDesc("vm3", "h2", 1000, 1, "packetaware"))
	tc.AddVM(CreateVMDesc("vm4", "h3", 1000, 1, "packetaware"))
	return tc
}

func buildTestDatacenter(t *testing.T, exp *ExpCfg, tm *TraceManager) *Datacenter {
	t.Helper()
	dc, err := BuildDatacenter(testTopo(), exp, NewKernel(), tm)
	if err != nil {
		t.Fatalf("BuildDatacenter failed: %v", err)
	}
	return dc
}

func mustVM(t *testing.T, dc *Datacenter, name string) *VM {
	t.Helper()
	vm, present := dc.VM(name)
	if !present {
		t.Fatalf("vm %s not found", name)
	}
	return vm
}

// submitStages gives the named VM a cloudlet with the stages
func submitStages(t *testing.T, dc *Datacenter, vmName string, stages ...Stage) *Cloudlet {
	t.Helper()
	cl := CreateCloudlet(dc.nxtCloudletID(), stages)
	err := dc.Submit(vmName, cl)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return cl
}

func send(peer *VM, size float64) Stage {
	return Stage{Type: SendStage, Peer: peer.VMID(), Size: size}
}

func recv(peer *VM) Stage {
	return Stage{Type: RecvStage, Peer: peer.VMID()}
}

// hostDelay is the time a payload takes on a host or edge link of default bandwidth
func hostDelay(payload float64, batch int) float64 {
	return transmitDelay(payload, defaultHostBndwdth, batch)
}

func TestBuildDatacenter(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)

	if len(dc.Switches()) != 6 || len(dc.Hosts()) != 4 || len(dc.VMs()) != 5 {
		t.Fatalf("Expected 6 switches, 4 hosts, 5 vms; got %d, %d, %d",
			len(dc.Switches()), len(dc.Hosts()), len(dc.VMs()))
	}

	h0, _ := dc.Host("h0")
	edge0, _ := dc.Switch("edge0")
	if h0.EdgeSwitch() != edge0.SwitchID() {
		t.Errorf("Expected h0 attached to edge0")
	}
	if len(h0.VMs()) != 2 || h0.VMs()[0].Name() != "vm0" {
		t.Errorf("Expected vm0 and vm1 on h0 in id order")
	}

	vm3 := mustVM(t, dc, "vm3")
	edge1, _ := dc.Switch("edge1")
	if dc.ctx.switchOfVM(vm3.VMID()) != edge1.SwitchID() {
		t.Errorf("Expected vm3 registered under edge1")
	}

	root, _ := dc.Switch("root")
	if root.Level() != RootLevel || root.upLatency != 0.00285 || root.ports != 1 {
		t.Errorf("Expected root switch defaults, got latency %f ports %d", root.upLatency, root.ports)
	}
	if edge0.ports != 4 || edge0.upBndwdth != 100*1024*1024 {
		t.Errorf("Expected edge switch defaults, got ports %d bandwidth %f", edge0.ports, edge0.upBndwdth)
	}
}

func TestBuildDatacenterReportsAllErrors(t *testing.T) {
	tc := testTopo()
	tc.AddSwitch(CreateSwitchDesc("edge3", "edge", "nowhere"))
	tc.AddSwitch(CreateSwitchDesc("edge4", "edge", ""))
	tc.AddHost(CreateHostDesc("h0", "edge0", 2, 1000))
	tc.AddVM(CreateVMDesc("vm9", "h9", 1000, 1, "packetaware"))
	tc.AddVM(CreateVMDesc("vm10", "h1", 1000, 1, "roundrobin"))

	_, err := BuildDatacenter(tc, nil, NewKernel(), nil)
	if err == nil {
		t.Fatalf("Expected BuildDatacenter to fail")
	}
	for _, frag := range []string{"unknown uplink nowhere", "edge switch edge4 has no uplink",
		"host name h0 is duplicated", "unknown host h9", "unknown cloudlet scheduler roundrobin"} {
		if !strings.Contains(err.Error(), frag) {
			t.Errorf("Expected error to mention %q, got %v", frag, err)
		}
	}
}

func TestBuildDatacenterRejectsUnreachableHost(t *testing.T) {
	tc := testTopo()
	tc.AddHost(CreateHostDesc("loner", "", 1, 1000))

	_, err := BuildDatacenter(tc, nil, NewKernel(), nil)
	if err == nil || !strings.Contains(err.Error(), "host loner cannot reach") {
		t.Errorf("Expected an unreachable host error, got %v", err)
	}
}

func TestBuildDatacenterRejectsOversizedVM(t *testing.T) {
	tc := testTopo()
	tc.AddVM(CreateVMDesc("big", "h1", 1000, 3, "spaceshared"))

	_, err := BuildDatacenter(tc, nil, NewKernel(), nil)
	if err == nil || !strings.Contains(err.Error(), "cannot allocate PEs for vm big") {
		t.Errorf("Expected an allocation error, got %v", err)
	}
}

func TestSameEdgeDelivery(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	vm0 := mustVM(t, dc, "vm0")
	vm2 := mustVM(t, dc, "vm2")

	submitStages(t, dc, "vm0", send(vm2, 1000))
	cl := submitStages(t, dc, "vm2", recv(vm0))
	dc.Run(10.0)

	if !cl.Finished() {
		t.Fatalf("Expected the receiving cloudlet to finish")
	}
	pkt := cl.Received()[0]
	want := 2*hostDelay(1000, 1) + 0.00157
	if math.Abs(pkt.ReceiveTime-want) > 1e-4 {
		t.Errorf("Expected receive time %f, got %f", want, pkt.ReceiveTime)
	}

	edge0, _ := dc.Switch("edge0")
	agg0, _ := dc.Switch("agg0")
	if edge0.Flushes() != 1 || agg0.Flushes() != 0 {
		t.Errorf("Expected the packet to turn around at edge0, flushes edge0 %d agg0 %d", edge0.Flushes(), agg0.Flushes())
	}
}

func TestCrossEdgeDelivery(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	vm0 := mustVM(t, dc, "vm0")
	vm3 := mustVM(t, dc, "vm3")

	submitStages(t, dc, "vm0", send(vm3, 1000))
	cl := submitStages(t, dc, "vm3", recv(vm0))
	dc.Run(10.0)

	if !cl.Finished() {
		t.Fatalf("Expected the receiving cloudlet to finish")
	}
	pkt := cl.Received()[0]
	want := 4*hostDelay(1000, 1) + 0.00157 + 0.00245 + 0.00157
	if math.Abs(pkt.ReceiveTime-want) > 1e-4 {
		t.Errorf("Expected receive time %f, got %f", want, pkt.ReceiveTime)
	}

	for name, flushes := range map[string]int{"edge0": 1, "agg0": 1, "edge1": 1, "root": 0, "agg1": 0, "edge2": 0} {
		swtch, _ := dc.Switch(name)
		if swtch.Flushes() != flushes {
			t.Errorf("Expected %d flushes at %s, got %d", flushes, name, swtch.Flushes())
		}
	}

	m := dc.Metrics()
	if testutil.ToFloat64(m.DataTransferred) != 1000.0 {
		t.Errorf("Expected 1000 bytes transferred, got %f", testutil.ToFloat64(m.DataTransferred))
	}
	if testutil.ToFloat64(m.PacketsDelivered.WithLabelValues("global")) != 1.0 {
		t.Errorf("Expected one global delivery")
	}
	if testutil.ToFloat64(m.PacketsForwarded.WithLabelValues("edge")) != 2.0 {
		t.Errorf("Expected two forwards at edge switches, got %f",
			testutil.ToFloat64(m.PacketsForwarded.WithLabelValues("edge")))
	}
}

func TestDeliveryThroughRoot(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	vm0 := mustVM(t, dc, "vm0")
	vm4 := mustVM(t, dc, "vm4")

	submitStages(t, dc, "vm0", send(vm4, 1000))
	cl := submitStages(t, dc, "vm4", recv(vm0))
	dc.Run(10.0)

	if !cl.Finished() {
		t.Fatalf("Expected the receiving cloudlet to finish")
	}
	for _, name := range []string{"edge0", "agg0", "root", "agg1", "edge2"} {
		swtch, _ := dc.Switch(name)
		if swtch.Flushes() != 1 {
			t.Errorf("Expected one flush at %s, got %d", name, swtch.Flushes())
		}
	}
	if dc.Created() != 1 || dc.Delivered() != 1 {
		t.Errorf("Expected 1 created and 1 delivered, got %d and %d", dc.Created(), dc.Delivered())
	}
}

func TestHostBandwidthSplit(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	vm0 := mustVM(t, dc, "vm0")
	vm1 := mustVM(t, dc, "vm1")
	vm3 := mustVM(t, dc, "vm3")

	submitStages(t, dc, "vm0", send(vm3, 1000))
	submitStages(t, dc, "vm1", send(vm3, 1000))
	cl := submitStages(t, dc, "vm3", recv(vm0), recv(vm1))
	dc.Run(10.0)

	if !cl.Finished() {
		t.Fatalf("Expected the receiving cloudlet to finish")
	}

	// every hop carries both packets, each getting half the link
	want := 4*hostDelay(1000, 2) + 0.00157 + 0.00245 + 0.00157
	for _, pkt := range cl.Received() {
		if math.Abs(pkt.ReceiveTime-want) > 1e-4 {
			t.Errorf("Expected receive time %f, got %f", want, pkt.ReceiveTime)
		}
	}
	edge0, _ := dc.Switch("edge0")
	if edge0.Flushes() != 1 {
		t.Errorf("Expected both packets in one flush at edge0, got %d flushes", edge0.Flushes())
	}
}

func TestConservationUnderLoad(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	vms := dc.VMs()

	// every vm sends three packets to every other vm, then receives theirs
	receivers := []*Cloudlet{}
	for _, vm := range vms {
		stages := []Stage{}
		for _, peer := range vms {
			if peer != vm {
				stages = append(stages, send(peer, 500), send(peer, 800), send(peer, 1200))
			}
		}
		for _, peer := range vms {
			if peer != vm {
				stages = append(stages, recv(peer), recv(peer), recv(peer))
			}
		}
		receivers = append(receivers, submitStages(t, dc, vm.Name(), stages...))
	}
	dc.Run(100.0)

	if dc.Created() != 60 || dc.Delivered() != 60 {
		t.Errorf("Expected 60 created and 60 delivered, got %d and %d", dc.Created(), dc.Delivered())
	}
	for idx, cl := range receivers {
		if !cl.Finished() {
			t.Errorf("Expected cloudlet on %s to finish", vms[idx].Name())
		}
		for _, pkt := range cl.Received() {
			if pkt.ReceiveTime < pkt.SendTime {
				t.Errorf("Packet %d->%d received before it was sent", pkt.SenderVMID, pkt.ReceiverVMID)
			}
		}
	}
	for _, swtch := range dc.Switches() {
		if swtch.Queued() != 0 {
			t.Errorf("Expected switch %s to end with empty queues, got %d", swtch.Name(), swtch.Queued())
		}
	}
	for _, host := range dc.Hosts() {
		if len(host.received)+len(host.toSendLocal)+len(host.toSendGlobal) != 0 {
			t.Errorf("Expected host %s to end with empty staging lists", host.Name())
		}
	}

	local := testutil.ToFloat64(dc.Metrics().PacketsDelivered.WithLabelValues("local"))
	global := testutil.ToFloat64(dc.Metrics().PacketsDelivered.WithLabelValues("global"))
	if local != 6.0 || global != 54.0 {
		t.Errorf("Expected 6 local and 54 global deliveries, got %f and %f", local, global)
	}
}

func TestExecutionAdvancesOverTime(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	vm2 := mustVM(t, dc, "vm2")

	cl := submitStages(t, dc, "vm2", Stage{Type: ExecStage, Length: 2500})
	dc.Run(10.0)

	if !cl.Finished() || math.Abs(cl.FinishTime-2.5) > 1e-3 {
		t.Errorf("Expected the cloudlet to finish at 2.5, got %f", cl.FinishTime)
	}
	if math.Abs(vm2.FinishTime()-cl.FinishTime) > 1e-9 {
		t.Errorf("Expected the vm to finish with its last cloudlet, got %f", vm2.FinishTime())
	}
}

func TestPeriodicSamplingFillsHistory(t *testing.T) {
	exp := CreateExpCfg("sampled")
	if err := exp.AddParameter("VM", named("vm2"), "interval", "10"); err != nil {
		t.Fatal(err)
	}
	dc := buildTestDatacenter(t, exp, nil)
	vm2 := mustVM(t, dc, "vm2")
	h1, _ := dc.Host("h1")

	// 100 seconds of work at 1000 MIPS
	submitStages(t, dc, "vm2", Stage{Type: ExecStage, Length: 100000})
	dc.Run(1000.0)

	// busy samples at 0.1, 10.1, ..., 90.1, then an idle one at 100.1
	history := vm2.UtilizationHistory()
	if len(history) != 11 {
		t.Fatalf("Expected 11 utilization samples, got %v", history)
	}
	if history[0] != 0.0 {
		t.Errorf("Expected the sample after the cloudlet finished to be idle, got %f", history[0])
	}
	for idx, u := range history[1:] {
		if math.Abs(u-1.0) > 1e-9 {
			t.Errorf("sample %d: expected a fully used vm, got %f", idx+1, u)
		}
	}
	if math.Abs(vm2.UtilizationMean()-10000.0/11.0) > 1e-6 {
		t.Errorf("Expected a mean of %f MIPS, got %f", 10000.0/11.0, vm2.UtilizationMean())
	}

	// sampling stops once the host is idle, so the run ends well before its limit
	if dc.Kernel().Pending(h1.HostID()) != 0 {
		t.Errorf("Expected no events left for h1, got %d", dc.Kernel().Pending(h1.HostID()))
	}
	if math.Abs(dc.Kernel().Now()-100.1) > 1e-6 {
		t.Errorf("Expected the last event at 100.1, got %f", dc.Kernel().Now())
	}
	for _, vm := range []string{"vm0", "vm1", "vm3", "vm4"} {
		if len(mustVM(t, dc, vm).UtilizationHistory()) != 0 {
			t.Errorf("Expected no samples on idle %s", vm)
		}
	}
}

func TestNextSamplingTime(t *testing.T) {
	tests := []struct {
		now, interval, want float64
	}{
		{0.0, 300.0, 0.1},
		{0.1, 300.0, 300.1},
		{0.05, 10.0, 0.1},
		{12.0, 10.0, 20.1},
		{20.1 - 1e-12, 10.0, 30.1},
	}
	for _, tt := range tests {
		got := nextSamplingTime(tt.now, tt.interval)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("nextSamplingTime(%g, %g) = %g, want %g", tt.now, tt.interval, got, tt.want)
		}
		if !onSamplingBoundary(got, tt.interval) {
			t.Errorf("Expected %g to be a sampling boundary", got)
		}
	}
}

func TestSubmitRejectsNetworkedCloudletOnPlainVM(t *testing.T) {
	tc := testTopo()
	tc.AddVM(CreateVMDesc("plain", "h1", 1000, 1, "timeshared"))
	dc, err := BuildDatacenter(tc, nil, NewKernel(), nil)
	if err != nil {
		t.Fatalf("BuildDatacenter failed: %v", err)
	}
	vm0 := mustVM(t, dc, "vm0")

	err = dc.Submit("plain", CreateCloudlet(1, []Stage{send(vm0, 10)}))
	if err == nil {
		t.Errorf("Expected an error submitting a networked cloudlet to a time-shared vm")
	}
	err = dc.Submit("ghost", CreateCloudlet(2, []Stage{}))
	if err == nil {
		t.Errorf("Expected an error submitting to an unknown vm")
	}
}

func TestSetLogLevel(t *testing.T) {
	if SetLogLevel("warn") != nil || SetLogLevel("") != nil {
		t.Errorf("Expected known levels to be accepted")
	}
	if SetLogLevel("chatty") == nil {
		t.Errorf("Expected an unknown level to be rejected")
	}
	SetLogLevel("info")
}
