package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"deployhook/pkg/templates"

	"github.com/spf13/cobra"
)

var scaffoldOutput string

var scaffoldCmd = &cobra.Command{
	Use:   "scaffold",
	Short: "Render service files for running deployhook",
	Long: `Render a systemd unit or an nginx site for deployhook.

Output goes to stdout unless --output is given. Built-in templates can be
overridden by placing <name>.template in ./templates, ./config/templates or
/etc/deployhook/templates.`,
}

var scaffoldSystemdCmd = &cobra.Command{
	Use:   "systemd",
	Short: "Render a systemd unit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		group, _ := cmd.Flags().GetString("group")
		workdir, _ := cmd.Flags().GetString("workdir")
		envFile, _ := cmd.Flags().GetString("env-file")

		binary, _ := cmd.Flags().GetString("binary")
		if binary == "" {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine binary path, pass --binary: %w", err)
			}
			binary = exe
		}

		cfgPath := configPath
		if cfgPath == "" {
			cfgPath = "/etc/deployhook/deployhook.yaml"
		}
		if abs, err := filepath.Abs(cfgPath); err == nil {
			cfgPath = abs
		}

		unit, err := templates.RenderSystemdService(templates.SystemdData{
			User:       user,
			Group:      group,
			WorkingDir: workdir,
			Binary:     binary,
			ConfigPath: cfgPath,
			EnvFile:    envFile,
		})
		if err != nil {
			return err
		}
		return writeScaffold(cmd.OutOrStdout(), unit)
	},
}

var scaffoldNginxCmd = &cobra.Command{
	Use:   "nginx",
	Short: "Render an nginx reverse proxy site",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, _ := cmd.Flags().GetString("domain")
		upstream, _ := cmd.Flags().GetString("upstream")

		site, err := templates.RenderNginxSite(templates.NginxData{Domain: domain, Upstream: upstream})
		if err != nil {
			return err
		}
		return writeScaffold(cmd.OutOrStdout(), site)
	},
}

func init() {
	scaffoldCmd.PersistentFlags().StringVarP(&scaffoldOutput, "output", "o", "", "Write to this file instead of stdout")

	scaffoldSystemdCmd.Flags().String("user", "deploy", "User the service runs as")
	scaffoldSystemdCmd.Flags().String("group", "", "Group the service runs as (default: user)")
	scaffoldSystemdCmd.Flags().String("workdir", "", "Working directory (default: the config file's directory)")
	scaffoldSystemdCmd.Flags().String("binary", "", "Path to the deployhook binary (default: this executable)")
	scaffoldSystemdCmd.Flags().String("env-file", "", "Optional EnvironmentFile")

	scaffoldNginxCmd.Flags().String("domain", "", "Public domain of the webhook endpoint (required)")
	scaffoldNginxCmd.Flags().String("upstream", "127.0.0.1:8888", "Address deployhook listens on")
	_ = scaffoldNginxCmd.MarkFlagRequired("domain")

	scaffoldCmd.AddCommand(scaffoldSystemdCmd)
	scaffoldCmd.AddCommand(scaffoldNginxCmd)
}

func writeScaffold(stdout io.Writer, content string) error {
	if scaffoldOutput == "" {
		_, err := io.WriteString(stdout, content)
		return err
	}
	if err := os.WriteFile(scaffoldOutput, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", scaffoldOutput, err)
	}
	fmt.Fprintf(stdout, "Wrote %s\n", scaffoldOutput)
	return nil
}
