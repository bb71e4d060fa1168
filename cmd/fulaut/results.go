package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/multierr"

	"github.com/gotmc/fulaut/lib/cmdlog"
	"github.com/gotmc/fulaut/lib/result"
)

type listCmd struct {
	Sample string `long:"sample" description:"sample name, all samples when empty" env:"FULAUT_SAMPLE"`
}

func (c *listCmd) Execute([]string) error {
	logger, s, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	var entries []result.Entry
	if s.Global.Catalog != "" {
		cat, err := result.OpenCatalog(s.Global.Catalog)
		if err != nil {
			return err
		}
		entries, err = cat.List(context.Background(), c.Sample)
		if err = multierr.Append(err, cat.Close()); err != nil {
			return err
		}
	} else {
		store := result.NewStore(s.Global.DataDir, result.WithLogger(logger.Named("store")))
		if entries, err = store.Entries(c.Sample); err != nil {
			return err
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(cmdlog.CmdStyle).
		Headers("DATETIME", "SAMPLE", "NAME", "ID", "DIR")
	for _, e := range entries {
		t.Row(e.Datetime.Format("2006-01-02 15:04:05"), e.Sample, e.Name, e.ID.String(), e.Dir)
	}
	fmt.Println(t)
	return nil
}

type deleteCmd struct {
	Sample string `long:"sample" description:"sample name" required:"true" env:"FULAUT_SAMPLE"`
	Name   string `long:"name" description:"result name, e.g. I-rabi" required:"true"`
	All    bool   `long:"all" description:"delete every result of the name, not only the newest"`
}

func (c *deleteCmd) Execute([]string) error {
	logger, s, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	store, closeStore, err := openStore(s, logger)
	if err != nil {
		return err
	}
	return multierr.Append(store.Delete(context.Background(), c.Sample, c.Name, c.All), closeStore())
}
