package main

import (
	"errors"
	"fmt"
	"net/url"

	"deployhook/internal/app"
	"deployhook/internal/githubapi"
	"deployhook/internal/store"

	"github.com/spf13/cobra"
)

var registerFlags = flagKeys{
	"db": "store.path",
}

var registerCmd = &cobra.Command{
	Use:   "register APP",
	Short: "Create the GitHub push webhook for an app",
	Long: `Create a push webhook on GitHub that delivers to this server's
notification endpoint for APP, signed with the app's secret.

Requires a token with admin:repo_hook scope in github.token or GITHUB_TOKEN.
An existing hook with the same URL is left alone.`,
	Example: `  deployhook register api --repo acme/api --url https://deploy.example.com`,
	Args:    cobra.ExactArgs(1),
	RunE:    runRegister,
}

func init() {
	registerCmd.Flags().String("repo", "", "GitHub repository as owner/repo (required)")
	registerCmd.Flags().String("url", "", "Public base URL of the deployhook server (required)")
	registerCmd.Flags().String("db", "", "Path to the SQLite configuration store")
	_ = registerCmd.MarkFlagRequired("repo")
	_ = registerCmd.MarkFlagRequired("url")
}

func runRegister(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd, registerFlags)
	if err != nil {
		return err
	}

	client := githubapi.NewClient(s.GitHubToken())
	if client == nil {
		return errors.New("no GitHub token: set github.token or GITHUB_TOKEN")
	}
	if s.GitHub.APIURL != "" {
		if client, err = client.WithBaseURL(s.GitHub.APIURL); err != nil {
			return err
		}
	}

	st, err := store.Open(s.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	apps, err := st.Find(cmd.Context(), store.Query{Name: args[0]})
	if err != nil {
		return err
	}
	if len(apps) == 0 {
		return fmt.Errorf("app '%s' is not configured", args[0])
	}
	cfg := apps[0]
	if cfg.Provider != "" && cfg.Provider != app.ProviderGitHub {
		return fmt.Errorf("app '%s' uses provider %s, not github", cfg.Name, cfg.Provider)
	}

	repo, _ := cmd.Flags().GetString("repo")
	base, _ := cmd.Flags().GetString("url")
	hookURL, err := url.JoinPath(base, "in", cfg.Name)
	if err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}

	created, err := client.EnsurePushWebhook(cmd.Context(), repo, hookURL, cfg.Secret)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(cmd.OutOrStdout(), "Created push webhook on %s -> %s\n", repo, hookURL)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Webhook for %s already exists on %s\n", hookURL, repo)
	}
	return nil
}
