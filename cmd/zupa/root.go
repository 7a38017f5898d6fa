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
	"github.com/spf13/cobra"

	"github.com/jovemexausto/zupa/config"
	"github.com/jovemexausto/zupa/log"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "zupa",
		Short:         "Zupa: a conversational agent runtime",
		Long:          "zupa runs a chat agent over a messaging transport, keeping users, sessions and per-turn checkpoints in the configured stores.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to a YAML config file; ZUPA_* environment variables override it")

	rootCmd.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newRunCmd(opts),
		newHistoryCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies its log level.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	log.SetLevel(cfg.Log.Level)
	return cfg, nil
}
