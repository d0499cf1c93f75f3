package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"deployhook/internal/app"
	"deployhook/internal/deployment"
	"deployhook/internal/store"

	"github.com/spf13/cobra"
)

var appsFlags = flagKeys{
	"db": "store.path",
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Manage stored app configurations",
}

var appsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored apps",
	Args:  cobra.NoArgs,
	RunE:  runAppsList,
}

var appsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import apps from a YAML file",
	Long: `Import the apps in FILE into the configuration store.

The stored set is replaced by FILE's apps unless --merge is given, in which
case each app is validated and upserted on its own.`,
	Args: cobra.ExactArgs(1),
	RunE: runAppsImport,
}

func init() {
	appsCmd.PersistentFlags().String("db", "", "Path to the SQLite configuration store")
	appsImportCmd.Flags().Bool("merge", false, "Upsert into the stored apps instead of replacing them")

	appsCmd.AddCommand(appsListCmd)
	appsCmd.AddCommand(appsImportCmd)
}

func runAppsList(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd, appsFlags)
	if err != nil {
		return err
	}
	st, err := store.Open(s.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	apps, err := st.Find(cmd.Context(), store.Query{})
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No apps configured.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tBRANCHES\tCWD")
	for _, cfg := range apps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cfg.Name, orDash(cfg.Provider), orDash(strings.Join(cfg.Branches, ",")), orDash(cfg.CWD))
	}
	return tw.Flush()
}

func runAppsImport(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd, appsFlags)
	if err != nil {
		return err
	}
	logger, logCloser, err := cliLogger(s)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	st, err := store.Open(s.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	merge, _ := cmd.Flags().GetBool("merge")
	if !merge {
		apps, err := importApps(ctx, st, args[0], logger)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d apps from %s\n", len(apps), args[0])
		return nil
	}

	warnInsecure(args[0], logger)
	apps, err := app.LoadFile(args[0])
	if err != nil {
		return err
	}
	w, err := newWorker(ctx, s, st, noopRunner{}, nil, logger)
	if err != nil {
		return err
	}
	for _, cfg := range apps {
		if err := w.UpsertAppConfig(ctx, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Upserted %s\n", cfg.Name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d apps configured\n", len(w.AppNames()))
	return nil
}

// noopRunner backs workers that only manage configs.
type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, req *deployment.Request) *deployment.Report {
	return &deployment.Report{Request: req}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
