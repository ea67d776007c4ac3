package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/timeline-go/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigSetServerCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigSetServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-server URL",
		Short: "Set the backend URL for the active profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigSetServer,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if flagJSON {
		return printJSON(cmd.OutOrStdout(), resolvedCfg)
	}

	return config.RenderEffective(resolvedCfg, cmd.OutOrStdout())
}

func runConfigSetServer(cmd *cobra.Command, args []string) error {
	if err := config.SaveProfileServer(resolvedCfg.ConfigPath, resolvedCfg.Profile, args[0]); err != nil {
		return err
	}

	statusf(cmd.ErrOrStderr(), "Profile %s now uses %s.\n", resolvedCfg.Profile, args[0])

	return nil
}
