package cmd

import (
	"fmt"

	"github.com/audiolibrelab/streamcapture/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View, create and check StreamCapture configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := config.Render(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}

		if err := config.WriteDefault(path, force); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file",
	Long:  `Load and validate the configuration. Loading already fails on invalid settings, so reaching this command means the file is usable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK: %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "  mode:    %s\n", cfg.Mode)
		fmt.Fprintf(cmd.OutOrStdout(), "  targets: %v\n", cfg.EnabledTargetNames())
		fmt.Fprintf(cmd.OutOrStdout(), "  output:  %s\n", cfg.Paths.DownloadDir)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}
