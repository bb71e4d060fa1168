// Copyright (c) 2020–2024 The fulaut developers. All rights reserved.
// Project site: https://github.com/gotmc/fulaut
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command fulaut characterizes the qubits of a sample.
package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/massn/envordot"
	"go.uber.org/zap"

	"github.com/gotmc/fulaut/lib/logging"
	"github.com/gotmc/fulaut/lib/params"
	"github.com/gotmc/fulaut/lib/result"
)

type Options struct {
	Settings string       `long:"settings" short:"s" description:"experiment settings file" default:"fulaut.toml" env:"FULAUT_SETTINGS"`
	Log      logging.Conf `group:"Logging Options"`
}

var (
	opts   Options
	parser = flags.NewParser(&opts, flags.Default)
)

func init() {
	if err := envordot.Load(false, ".env"); err != nil {
		fmt.Fprintf(os.Stderr, "no .env file, using the environment only: %s\n", err)
	}
	parser.ShortDescription = "qubit characterization"
	parser.LongDescription = "fulaut finds the resonators of a sample and characterizes each qubit: " +
		"spectroscopy, sweet spot, Rabi, Ramsey, Hahn echo and decay."
	mustAdd(parser.AddCommand("run", "run the characterization", "run the whole recipe on the bench or the simulator", &runCmd{}))
	mustAdd(parser.AddCommand("idn", "identify the instruments", "open every instrument of the bench and ask *IDN?", &idnCmd{}))
	mustAdd(parser.AddCommand("ports", "list usb serial ports", "list the usb ttys that could host a Prologix adapter", &portsCmd{}))
	results, err := parser.AddCommand("results", "manage saved results", "list or delete saved measurement results", &struct{}{})
	mustAdd(results, err)
	mustAdd(results.AddCommand("list", "list results", "list the saved results of a sample", &listCmd{}))
	mustAdd(results.AddCommand("delete", "delete results", "delete the newest, or every, result of a name", &deleteCmd{}))
}

func mustAdd(_ *flags.Command, err error) {
	if err != nil {
		panic(err)
	}
}

// setup builds the logger and reads the settings.
func setup() (*zap.Logger, params.Settings, error) {
	logger, err := logging.Setup(&opts.Log)
	if err != nil {
		return nil, params.Settings{}, fmt.Errorf("logger: %w", err)
	}
	s, err := params.Load(opts.Settings)
	if err != nil {
		return logger, s, err
	}
	return logger, s, nil
}

// openStore opens the result store, with its catalog when configured. The
// returned func closes the catalog.
func openStore(s params.Settings, logger *zap.Logger) (*result.Store, func() error, error) {
	storeOpts := []result.StoreOption{result.WithLogger(logger.Named("store"))}
	closer := func() error { return nil }
	if s.Global.Catalog != "" {
		c, err := result.OpenCatalog(s.Global.Catalog)
		if err != nil {
			return nil, closer, err
		}
		storeOpts = append(storeOpts, result.WithCatalog(c))
		closer = c.Close
	}
	return result.NewStore(s.Global.DataDir, storeOpts...), closer, nil
}

func main() {
	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
