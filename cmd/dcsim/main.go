package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/iti/dcsim"
	"github.com/sirupsen/logrus"
)

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// run builds the datacenter and workload named by the flags in args, runs the simulation,
// and writes a summary to out
func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dcsim", flag.ContinueOnError)
	var (
		topoFile     = fs.String("topo", "", "topology file (yaml or json)")
		expFile      = fs.String("exp", "", "run-time parameter file (yaml or json)")
		workloadFile = fs.String("workload", "", "workload file (yaml or json)")
		traceFile    = fs.String("trace", "", "packet trace output file (yaml or json)")
		stopTime     = fs.Float64("stop", 0.0, "simulation time to stop at, 0 runs until no events remain")
		logLevel     = fs.String("loglevel", "", "log level: debug, info, warn, error")
	)
	fs.SetOutput(out)

	err := fs.Parse(args)
	if err != nil {
		return err
	}
	if len(*topoFile) == 0 {
		fs.Usage()
		return fmt.Errorf("-topo is required")
	}

	_, err = dcsim.CheckReadableFiles([]string{*topoFile, *expFile, *workloadFile})
	if err != nil {
		return err
	}

	topo, err := dcsim.ReadTopoCfg(*topoFile, dcsim.UseYAML(*topoFile), nil)
	if err != nil {
		return err
	}

	// the command line wins over the topology file
	level := topo.LogLevel
	if len(*logLevel) > 0 {
		level = *logLevel
	}
	err = dcsim.SetLogLevel(level)
	if err != nil {
		return err
	}

	trcFile := topo.TraceFile
	if len(*traceFile) > 0 {
		trcFile = *traceFile
	}
	_, err = dcsim.CheckOutputFiles([]string{trcFile})
	if err != nil {
		return err
	}

	var exp *dcsim.ExpCfg
	if len(*expFile) > 0 {
		exp, err = dcsim.ReadExpCfg(*expFile, dcsim.UseYAML(*expFile), nil)
		if err != nil {
			return err
		}
	}

	tm := dcsim.CreateTraceManager(topo.Name, len(trcFile) > 0)
	k := dcsim.NewKernel()
	dc, err := dcsim.BuildDatacenter(topo, exp, k, tm)
	if err != nil {
		return err
	}

	if len(*workloadFile) > 0 {
		wc, err := dcsim.ReadWorkloadCfg(*workloadFile, dcsim.UseYAML(*workloadFile), nil)
		if err != nil {
			return err
		}
		_, err = dc.LoadWorkload(wc)
		if err != nil {
			return err
		}
	}

	dc.Run(*stopTime)

	summarize(dc, out)

	if len(trcFile) > 0 {
		_, err = tm.WriteToFile(trcFile)
		if err != nil {
			return err
		}
	}
	return nil
}

// summarize writes the packet counts and the per-VM outcome
func summarize(dc *dcsim.Datacenter, out io.Writer) {
	fmt.Fprintf(out, "datacenter %s stopped at %.6f\n", dc.Name, dc.Kernel().Now())
	fmt.Fprintf(out, "packets created %d delivered %d\n", dc.Created(), dc.Delivered())
	for _, vm := range dc.VMs() {
		fmt.Fprintf(out, "vm %s finished %d cloudlets, finish time %.6f, mean utilization %.2f MIPS\n",
			vm.Name(), len(vm.Scheduler().Finished()), vm.FinishTime(), vm.UtilizationMean())
	}
	energy, err := dc.TotalEnergy()
	if err == nil && energy > 0.0 {
		fmt.Fprintf(out, "energy %.2f\n", energy)
	}
}
