package dcsim

import (
	"path/filepath"
	"testing"
)

func TestRingWorkloadCompletes(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	wc := CreateWorkloadCfg("ring")
	wc.Ring = &RingDesc{Rounds: 2, ExecLength: 100, MinPayload: 1000, MaxPayload: 5000}

	submitted, err := dc.LoadWorkload(wc)
	if err != nil {
		t.Fatalf("LoadWorkload: %v", err)
	}
	if submitted != 5 {
		t.Errorf("Expected a cloudlet on each of the 5 vms, got %d", submitted)
	}
	dc.Run(100.0)

	if dc.Created() != 10 || dc.Delivered() != 10 {
		t.Errorf("Expected 10 created and 10 delivered, got %d and %d", dc.Created(), dc.Delivered())
	}
	for _, vm := range dc.VMs() {
		if vm.FinishTime() == Unset {
			t.Errorf("Expected %s to finish its ring cloudlet", vm.Name())
		}
	}
}

func TestRingPairsSendersWithReceivers(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	rd := &RingDesc{Rounds: 3, ExecLength: 10, MinPayload: 100, MaxPayload: 200}

	ring, err := dc.buildRing(rd)
	if err != nil {
		t.Fatal(err)
	}
	if len(ring) != 5 {
		t.Fatalf("Expected a ring of 5 vms, got %d", len(ring))
	}

	for name, stages := range ring {
		if len(stages) != 9 {
			t.Errorf("Expected 9 stages for %s, got %d", name, len(stages))
		}
		self := mustVM(t, dc, name)
		for idx := 0; idx < len(stages); idx += 3 {
			exec, snd, rcv := stages[idx], stages[idx+1], stages[idx+2]
			if exec.Type != ExecStage || snd.Type != SendStage || rcv.Type != RecvStage {
				t.Fatalf("Expected exec, send, recv in every round of %s", name)
			}
			if snd.Size < 100 || snd.Size > 200 {
				t.Errorf("Payload %f outside [100,200]", snd.Size)
			}
			if snd.Peer == self.VMID() || rcv.Peer == self.VMID() {
				t.Errorf("Expected %s not to exchange with itself", name)
			}

			// whoever this vm sends to receives from it
			succ, _ := dc.VMByID(snd.Peer)
			if ring[succ.Name()][idx+2].Peer != self.VMID() {
				t.Errorf("Expected %s to receive from %s", succ.Name(), name)
			}
		}
	}
}

func TestRingErrors(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	for _, rd := range []*RingDesc{
		{Rounds: 0, MinPayload: 1, MaxPayload: 2},
		{Rounds: 1, MinPayload: 5, MaxPayload: 2},
		{Rounds: 1, MinPayload: -1, MaxPayload: 2},
	} {
		if _, err := dc.buildRing(rd); err == nil {
			t.Errorf("Expected an error for ring %v", rd)
		}
	}

	tc := CreateTopoCfg("lonely")
	tc.AddSwitch(CreateSwitchDesc("root", "root", ""))
	tc.AddSwitch(CreateSwitchDesc("edge", "edge", "root"))
	tc.AddHost(CreateHostDesc("h", "edge", 1, 1000))
	tc.AddVM(CreateVMDesc("only", "h", 1000, 1, "packetaware"))
	lonely, err := BuildDatacenter(tc, nil, NewKernel(), nil)
	if err != nil {
		t.Fatalf("BuildDatacenter: %v", err)
	}
	if _, err := lonely.buildRing(&RingDesc{Rounds: 1}); err == nil {
		t.Errorf("Expected an error for a ring of one vm")
	}
}

func TestExplicitCloudlets(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	wc := CreateWorkloadCfg("explicit")
	wc.AddCloudlet("vm0", []StageDesc{{Type: "exec", Length: 200}, {Type: "send", Peer: "vm4", Size: 2048}})
	wc.AddCloudlet("vm4", []StageDesc{{Type: "recv", Peer: "vm0"}, {Type: "Exec", Length: 300}})

	submitted, err := dc.LoadWorkload(wc)
	if err != nil || submitted != 2 {
		t.Fatalf("LoadWorkload: %d, %v", submitted, err)
	}
	dc.Run(100.0)

	vm4 := mustVM(t, dc, "vm4")
	if dc.Delivered() != 1 || vm4.FinishTime() == Unset {
		t.Errorf("Expected vm4 to receive the packet and finish")
	}
	if vm4.FinishTime() <= 0.5 {
		t.Errorf("Expected vm4 to finish after the packet crossed the root, got %f", vm4.FinishTime())
	}
}

func TestLoadWorkloadRejectsAllOrNothing(t *testing.T) {
	dc := buildTestDatacenter(t, nil, nil)
	wc := CreateWorkloadCfg("bad")
	wc.AddCloudlet("vm0", []StageDesc{{Type: "exec", Length: 100}})
	wc.AddCloudlet("ghost", []StageDesc{{Type: "exec", Length: 100}})
	wc.AddCloudlet("vm1", []StageDesc{{Type: "send", Peer: "nobody", Size: 1}})
	wc.AddCloudlet("vm2", []StageDesc{{Type: "sleep"}})
	wc.AddCloudlet("vm3", []StageDesc{{Type: "exec", Length: -1}})

	submitted, err := dc.LoadWorkload(wc)
	if err == nil || submitted != 0 {
		t.Errorf("Expected the workload rejected, got %d submitted, %v", submitted, err)
	}
	if mustVM(t, dc, "vm0").Scheduler().HasWork() {
		t.Errorf("Expected nothing submitted when any cloudlet is bad")
	}
}

func TestLoadWorkloadRejectsUnroutableCloudlet(t *testing.T) {
	tc := testTopo()
	tc.AddVM(CreateVMDesc("plain", "h1", 1000, 1, "timeshared"))
	dc, err := BuildDatacenter(tc, nil, NewKernel(), nil)
	if err != nil {
		t.Fatalf("BuildDatacenter failed: %v", err)
	}

	// each cloudlet is well formed, but plain cannot send packets
	wc := CreateWorkloadCfg("unroutable")
	wc.AddCloudlet("vm0", []StageDesc{{Type: "exec", Length: 100}})
	wc.AddCloudlet("plain", []StageDesc{{Type: "send", Peer: "vm0", Size: 64}})

	submitted, err := dc.LoadWorkload(wc)
	if err == nil || submitted != 0 {
		t.Errorf("Expected the workload rejected, got %d submitted, %v", submitted, err)
	}
	for _, name := range []string{"vm0", "plain"} {
		if mustVM(t, dc, name).Scheduler().HasWork() {
			t.Errorf("Expected nothing submitted to %s", name)
		}
	}

	// the same workload without the networked cloudlet goes through
	wc = CreateWorkloadCfg("plain-exec")
	wc.AddCloudlet("vm0", []StageDesc{{Type: "exec", Length: 100}})
	wc.AddCloudlet("plain", []StageDesc{{Type: "exec", Length: 100}})
	submitted, err = dc.LoadWorkload(wc)
	if err != nil || submitted != 2 {
		t.Errorf("LoadWorkload: %d, %v", submitted, err)
	}
}

func TestWorkloadFileRoundTrip(t *testing.T) {
	wc := CreateWorkloadCfg("files")
	wc.AddCloudlet("vm0", []StageDesc{{Type: "send", Peer: "vm1", Size: 64}})
	wc.Ring = &RingDesc{Rounds: 4, ExecLength: 50, MinPayload: 10, MaxPayload: 20}

	for _, filename := range []string{"load.yaml", "load.json"} {
		fullname := filepath.Join(t.TempDir(), filename)
		if err := wc.WriteToFile(fullname); err != nil {
			t.Fatalf("WriteToFile(%s): %v", filename, err)
		}
		read, err := ReadWorkloadCfg(fullname, UseYAML(fullname), nil)
		if err != nil {
			t.Fatalf("ReadWorkloadCfg(%s): %v", filename, err)
		}
		if read.Name != "files" || len(read.Cloudlets) != 1 || read.Cloudlets[0].Stages[0].Peer != "vm1" {
			t.Errorf("%s: cloudlets did not survive the round trip", filename)
		}
		if read.Ring == nil || *read.Ring != *wc.Ring {
			t.Errorf("%s: ring did not survive the round trip", filename)
		}
	}
}
