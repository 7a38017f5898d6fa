//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jovemexausto/zupa/config"
	"github.com/jovemexausto/zupa/graph"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var ledger bool

	cmd := &cobra.Command{
		Use:   "history <thread-id>",
		Short: "Print the checkpoint chain of a turn thread",
		Long:  "history prints every checkpoint of a thread, oldest first. Thread ids are \"turn:<message id>\". Needs a persistent checkpoint backend.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Checkpoints == config.DriverMemory {
				return fmt.Errorf("checkpoints are not persisted by the %q backend", config.DriverMemory)
			}
			saver, err := buildSaver(cmd.Context(), cfg.Storage, nil)
			if err != nil {
				return err
			}
			defer saver.Close()

			threadID := args[0]
			chain, err := saver.History(cmd.Context(), threadID)
			if err != nil {
				return err
			}
			if len(chain) == 0 {
				return fmt.Errorf("thread %s has no checkpoints", threadID)
			}
			if err := printHistory(cmd.OutOrStdout(), chain); err != nil {
				return err
			}
			if !ledger {
				return nil
			}
			events, err := saver.Ledger(cmd.Context(), threadID)
			if err != nil {
				return err
			}
			return printLedger(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().BoolVar(&ledger, "ledger", false, "also print the audit ledger")
	return cmd
}

func printHistory(w io.Writer, chain []*graph.Checkpoint) error {
	for _, ck := range chain {
		next := "-"
		if len(ck.NextTasks) > 0 {
			names := make([]string, len(ck.NextTasks))
			for i, n := range ck.NextTasks {
				names[i] = string(n)
			}
			next = strings.Join(names, ",")
		}
		if _, err := fmt.Fprintf(w, "%3d  %-12s %s  next=%s  %s\n",
			ck.Metadata.Step, ck.Metadata.Source, ck.CreatedAt.Format(time.RFC3339), next, ck.ID); err != nil {
			return err
		}
	}
	return nil
}

func printLedger(w io.Writer, events []graph.LedgerEvent) error {
	if _, err := fmt.Fprintln(w, "ledger:"); err != nil {
		return err
	}
	for _, ev := range events {
		if _, err := fmt.Fprintf(w, "  %s  %s\n", ev.Topic, ev.Key); err != nil {
			return err
		}
	}
	return nil
}
