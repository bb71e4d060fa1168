package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/cmdlog"
	"github.com/gotmc/fulaut/lib/connutil"
	"github.com/gotmc/fulaut/lib/find"
	"github.com/gotmc/fulaut/lib/params"
	"github.com/gotmc/fulaut/lib/runner"
	"github.com/gotmc/fulaut/lib/sim"
)

// BenchFlags choose between the real bench and the simulator.
type BenchFlags struct {
	Sim        bool          `long:"sim" description:"use the simulated bench" env:"FULAUT_SIM"`
	Seed       uint64        `long:"seed" description:"noise seed of the simulated bench" default:"1"`
	Timeout    time.Duration `long:"timeout" description:"instrument read timeout" default:"10s"`
	WriteDelay time.Duration `long:"write-delay" description:"delay between messages to slow instruments"`
	Trace      bool          `long:"trace" description:"log every message exchanged with the instruments"`
}

func (f BenchFlags) open(ctx context.Context, s params.Settings, logger *zap.Logger) (*connutil.Bench, error) {
	if f.Sim {
		logger.Info("using the simulated bench", zap.Uint64("seed", f.Seed))
		sb := sim.New(sim.DefaultChip(), sim.WithSeed(f.Seed), sim.WithLogger(logger.Named("sim")))
		return connutil.Simulated(sb, logger)
	}
	return connutil.Open(ctx, s.Bench, connutil.Conn{
		Timeout:    f.Timeout,
		WriteDelay: f.WriteDelay,
		Trace:      f.Trace,
		Logger:     logger,
	})
}

type runCmd struct {
	BenchFlags
	Sample          string    `long:"sample" description:"sample name" required:"true" env:"FULAUT_SAMPLE"`
	SParameter      string    `long:"sparam" description:"measured S-parameter" default:"S21"`
	Qubits          []int     `long:"qubit" description:"resonator index to characterize, repeatable" default:"0"`
	PeriodFractions []float64 `long:"period-fraction" description:"bias offset from the sweet spot in periods, repeatable"`
}

func (c *runCmd) Execute([]string) error {
	logger, s, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bench, err := c.open(ctx, s, logger)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(s, logger)
	if err != nil {
		return multierr.Append(err, bench.Close())
	}
	r, err := runner.New(bench, c.Sample, c.SParameter, s, store, runner.WithLogger(logger))
	if err != nil {
		return multierr.Combine(err, bench.Close(), closeStore())
	}

	var reports []runner.Report
	var g run.Group
	g.Add(func() error {
		var err error
		reports, err = r.Run(ctx, c.Qubits, c.PeriodFractions)
		return err
	}, func(error) {
		cancel()
	})
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	err = g.Run()
	for _, rep := range reports {
		fmt.Println(rep)
	}
	if _, ok := err.(run.SignalError); ok {
		logger.Warn("measurement interrupted", zap.Error(err))
	}
	return multierr.Combine(err, bench.Close(), closeStore())
}

type idnCmd struct {
	BenchFlags
}

func (c *idnCmd) Execute([]string) error {
	logger, s, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	bench, err := c.open(context.Background(), s, logger)
	if err != nil {
		return err
	}
	for _, inst := range bench.Instruments() {
		fmt.Printf("%s ", inst.Name())
		if _, err := cmdlog.NewPretty(inst, os.Stdout).Query("*IDN?"); err != nil {
			logger.Warn("no identification", zap.String("instrument", inst.Name()), zap.Error(err))
		}
	}
	return bench.Close()
}

type portsCmd struct{}

func (c *portsCmd) Execute([]string) error {
	ttys, err := find.AllUsbTtys()
	if err != nil {
		return err
	}
	for _, tty := range ttys {
		mark := " "
		if find.PrologixFilter(&tty) || find.AR488Filter(&tty) {
			mark = "*"
		}
		fmt.Printf("%s /dev/%s  %s\n", mark, tty.Dev, tty)
	}
	return nil
}
