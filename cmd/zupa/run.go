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
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/transport/stdio"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Chat with the agent on the terminal",
		Long:  "run reads one message per line from stdin and writes replies to stdout until EOF or an interrupt. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.Default = log.New(cmd.ErrOrStderr())
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := wireApp(ctx, cfg)
			if err != nil {
				return err
			}
			console := stdio.New(cmd.InOrStdin(), cmd.OutOrStdout(), stdio.WithUser(user))
			p, err := a.newPipeline(ctx, console)
			if err != nil {
				return errors.Join(err, a.close())
			}
			rt, err := a.newRuntime(p)
			if err != nil {
				return errors.Join(err, a.close())
			}
			if err := rt.Start(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				log.Infof("interrupted, shutting down")
			case <-console.Done():
			}
			return rt.Close()
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", stdio.DefaultUser, "sender address of console messages")
	return cmd
}
