// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// globalFlags override values from the config file.
type globalFlags struct {
	configPath string
	server     string
	user       string
	transport  string
	logLevel   string
}

// newRootCmd builds the command tree. Each call returns fresh state so
// tests can run commands side by side.
func newRootCmd() *cobra.Command {
	var flags globalFlags
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "scope",
		Short: "Live, scrollable time-series charts from a scoped backend",
		Long: `scope streams samples from a scoped backend into a chart that
can be scrolled back in time and kept live with auto-refresh.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.aleutian/scope.yaml)")
	pf.StringVar(&flags.server, "server", "", "scoped backend URL")
	pf.StringVar(&flags.user, "user", "", "profile user")
	pf.StringVar(&flags.transport, "transport", "", "stream transport: sse or ws")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")

	// --- Watch ---
	var watch watchOptions
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live chart (plain line output when stdout is not a terminal)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), a, watch, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	addShowFlags(watchCmd, &watch.show)
	watchCmd.Flags().BoolVar(&watch.auto, "auto", false, "start with auto-refresh on")
	watchCmd.Flags().BoolVar(&watch.plain, "plain", false, "force plain line output")

	// --- Render ---
	var render renderOptions
	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Fetch a window and write it as an HTML or PNG chart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd.Context(), a, render, cmd.OutOrStdout())
		},
	}
	addShowFlags(renderCmd, &render.show)
	renderCmd.Flags().StringVarP(&render.output, "output", "o", "", "output file (default <topic>_<id>.<format>)")
	renderCmd.Flags().StringVar(&render.format, "format", "", "html or png (default from config or file extension)")
	renderCmd.Flags().BoolVar(&render.upload, "upload", false, "upload the chart to the configured GCS bucket")

	// --- Profile ---
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the stored chart profile",
	}
	var initOpts profileInitOptions
	profileInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a profile (interactive unless --topic and --id are given)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := runProfileInit(cmd.Context(), a, initOpts, cmd.InOrStdin(), cmd.OutOrStdout())
			return err
		},
	}
	profileInitCmd.Flags().StringVar(&initOpts.topic, "topic", "", "topic")
	profileInitCmd.Flags().StringVar(&initOpts.id, "id", "", "series id")
	profileInitCmd.Flags().StringSliceVar(&initOpts.attrs, "attr", nil, "attributes to chart")

	profileShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored profile as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfileShow(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
	profileCmd.AddCommand(profileInitCmd, profileShowCmd)

	// --- Catalog ---
	topicsCmd := &cobra.Command{
		Use:   "topics",
		Short: "List topics known to the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopics(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
	idsCmd := &cobra.Command{
		Use:   "ids <topic>",
		Short: "List series ids of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIDs(cmd.Context(), a, args[0], cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(watchCmd, renderCmd, profileCmd, topicsCmd, idsCmd)
	return rootCmd
}

func addShowFlags(cmd *cobra.Command, o *showOptions) {
	f := cmd.Flags()
	f.StringVar(&o.topic, "topic", "", "topic (default from profile)")
	f.StringVar(&o.id, "id", "", "series id (default from profile)")
	f.StringVar(&o.start, "start", "", "window start: DD, MM-DD or YYYY-MM-DD, optional THH[:MM[:SS]]")
	f.StringVar(&o.end, "end", "", "window end, same formats as --start")
	f.StringSliceVar(&o.hosts, "host", nil, "hosts to chart (cluster sums all hosts)")
	f.StringSliceVar(&o.attrs, "attr", nil, "attributes to chart, @name for derived ones")
	f.StringVar(&o.unit, "unit", "", "granularity: d, h, m, s or ss")
}
