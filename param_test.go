package dcsim

import (
	"path/filepath"
	"testing"
)

func wildcard() []AttrbStruct {
	return []AttrbStruct{{AttrbName: "*", AttrbValue: ""}}
}

func named(name string) []AttrbStruct {
	return []AttrbStruct{{AttrbName: "name", AttrbValue: name}}
}

func TestValidateParameter(t *testing.T) {
	tests := []struct {
		paramObj string
		attrbs   []AttrbStruct
		param    string
		valid    bool
	}{
		{"Switch", wildcard(), "latency", true},
		{"Switch", []AttrbStruct{{AttrbName: "level", AttrbValue: "edge"}}, "upBandwidth", true},
		{"VM", []AttrbStruct{{AttrbName: "host", AttrbValue: "h0"}}, "migrating", true},
		{"Router", wildcard(), "latency", false},
		{"Host", nil, "bandwidth", false},
		{"Host", []AttrbStruct{{AttrbName: "level", AttrbValue: "edge"}}, "bandwidth", false},
		{"Host", named("h0"), "latency", false},
		{"Switch", []AttrbStruct{{AttrbName: "*"}, {AttrbName: "level", AttrbValue: "root"}}, "latency", false},
	}
	for _, tt := range tests {
		err := ValidateParameter(tt.paramObj, tt.attrbs, tt.param)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateParameter(%s, %v, %s): expected valid %v, got %v", tt.paramObj, tt.attrbs, tt.param, tt.valid, err)
		}
	}
}

func TestReorderExpParams(t *testing.T) {
	params := []ExpParameter{
		*CreateExpParameter("Switch", named("edge0"), "latency", "0.5"),
		*CreateExpParameter("Switch", []AttrbStruct{{AttrbName: "level", AttrbValue: "edge"}}, "latency", "0.2"),
		*CreateExpParameter("Switch", wildcard(), "latency", "0.1"),
		*CreateExpParameter("Switch", wildcard(), "latency", "0.1"),
	}
	ordered := reorderExpParams(params)

	if len(ordered) != 3 {
		t.Fatalf("Expected the duplicate removed, got %d parameters", len(ordered))
	}
	if !ordered[0].wildcard() || ordered[1].Attributes[0].AttrbName != "level" || !ordered[2].named() {
		t.Errorf("Expected wildcard, then level, then named, got %v", ordered)
	}
}

func TestApplyExpParameters(t *testing.T) {
	exp := CreateExpCfg("overlay")
	adds := []struct {
		paramObj string
		attrbs   []AttrbStruct
		param    string
		value    string
	}{
		{"Switch", named("edge0"), "latency", "0.5"},
		{"Switch", wildcard(), "latency", "0.1"},
		{"Switch", []AttrbStruct{{AttrbName: "level", AttrbValue: "edge"}}, "upBandwidth", "2000"},
		{"Host", named("h1"), "bandwidth", "5000"},
		{"VM", []AttrbStruct{{AttrbName: "host", AttrbValue: "h0"}}, "migrating", "true"},
		{"VM", named("vm4"), "interval", "60"},
	}
	for _, add := range adds {
		if err := exp.AddParameter(add.paramObj, add.attrbs, add.param, add.value); err != nil {
			t.Fatalf("AddParameter: %v", err)
		}
	}

	dc := buildTestDatacenter(t, exp, nil)

	edge0, _ := dc.Switch("edge0")
	edge1, _ := dc.Switch("edge1")
	agg0, _ := dc.Switch("agg0")
	if edge0.upLatency != 0.5 || edge0.downLatency != 0.5 {
		t.Errorf("Expected the named latency to win at edge0, got %f", edge0.upLatency)
	}
	if edge1.upLatency != 0.1 || agg0.downLatency != 0.1 {
		t.Errorf("Expected the wildcard latency elsewhere")
	}
	if edge1.upBndwdth != 2000.0 || agg0.upBndwdth == 2000.0 {
		t.Errorf("Expected the level parameter on edge switches only")
	}

	h1, _ := dc.Host("h1")
	h0, _ := dc.Host("h0")
	if h1.bndwdth != 5000.0 || h0.bndwdth == 5000.0 {
		t.Errorf("Expected the bandwidth on h1 only")
	}

	for _, name := range []string{"vm0", "vm1"} {
		if !mustVM(t, dc, name).InMigration() {
			t.Errorf("Expected %s on h0 to be migrating", name)
		}
	}
	if mustVM(t, dc, "vm2").InMigration() {
		t.Errorf("Expected vm2 on h1 not to be migrating")
	}
	if mustVM(t, dc, "vm4").SchedulingInterval() != 60.0 {
		t.Errorf("Expected vm4's interval set to 60")
	}
}

func TestExpCfgValidateReportsAll(t *testing.T) {
	exp := CreateExpCfg("broken")
	exp.Parameters = append(exp.Parameters,
		*CreateExpParameter("Router", wildcard(), "latency", "1"),
		*CreateExpParameter("Host", wildcard(), "ports", "1"))

	if err := exp.Validate(); err == nil {
		t.Errorf("Expected validation to fail")
	}
	if _, err := BuildDatacenter(testTopo(), exp, NewKernel(), nil); err == nil {
		t.Errorf("Expected a datacenter built with a bad overlay to fail")
	}
}

func TestExpCfgFileRoundTrip(t *testing.T) {
	exp := CreateExpCfg("roundtrip")
	if err := exp.AddParameter("Switch", wildcard(), "trace", "true"); err != nil {
		t.Fatal(err)
	}

	for _, filename := range []string{"exp.yaml", "exp.json"} {
		fullname := filepath.Join(t.TempDir(), filename)
		if err := exp.WriteToFile(fullname); err != nil {
			t.Fatalf("WriteToFile(%s): %v", filename, err)
		}
		read, err := ReadExpCfg(fullname, UseYAML(fullname), nil)
		if err != nil {
			t.Fatalf("ReadExpCfg(%s): %v", filename, err)
		}
		if read.Name != "roundtrip" || len(read.Parameters) != 1 || !read.Parameters[0].Eq(&exp.Parameters[0]) {
			t.Errorf("Expected %s to read back what was written, got %v", filename, read)
		}
	}

	if err := exp.WriteToFile(filepath.Join(t.TempDir(), "exp.txt")); err == nil {
		t.Errorf("Expected an error for an unknown extension")
	}
}

func TestStringToValueStruct(t *testing.T) {
	vs := stringToValueStruct("4")
	if vs.intValue != 4 || vs.floatValue != 4.0 {
		t.Errorf("Expected 4 as int and float, got %v", vs)
	}
	vs = stringToValueStruct("0.25")
	if vs.floatValue != 0.25 {
		t.Errorf("Expected 0.25, got %v", vs)
	}
	vs = stringToValueStruct("true")
	if !vs.boolValue {
		t.Errorf("Expected true, got %v", vs)
	}
	vs = stringToValueStruct("edge")
	if vs.stringValue != "edge" {
		t.Errorf("Expected the string edge, got %v", vs)
	}
}
