// Package githubapi wraps the GitHub REST calls deployhook needs: commit
// descriptors for test reports and push webhook registration.
package githubapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"deployhook/internal/security"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Client is an authenticated GitHub client.
type Client struct {
	gh *github.Client
}

// CommitInfo describes one commit.
type CommitInfo struct {
	SHA     string
	URL     string
	Message string
	Author  string
}

// NewClient creates a client authenticated with token. Returns nil for an empty token.
func NewClient(token string) *Client {
	if token == "" {
		return nil
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	return &Client{gh: github.NewClient(tc)}
}

// WithBaseURL points the client at another API root, such as GitHub Enterprise.
func (c *Client) WithBaseURL(baseURL string) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	c.gh.BaseURL = u
	return c, nil
}

// Commit looks up sha in the repository behind repoURL.
func (c *Client) Commit(ctx context.Context, repoURL, sha string) (*CommitInfo, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	commit, _, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching commit %s: %w", sha, err)
	}

	info := &CommitInfo{
		SHA:     commit.GetSHA(),
		URL:     commit.GetHTMLURL(),
		Message: firstLine(commit.GetCommit().GetMessage()),
		Author:  commit.GetCommit().GetAuthor().GetName(),
	}
	if login := commit.GetAuthor().GetLogin(); login != "" {
		info.Author = login
	}
	return info, nil
}

// EnsurePushWebhook creates a push webhook for ownerRepo delivering to
// hookURL, unless one with that URL exists. Reports whether a hook was created.
func (c *Client) EnsurePushWebhook(ctx context.Context, ownerRepo, hookURL, secret string) (bool, error) {
	owner, repo, err := security.ValidateOwnerRepo(ownerRepo)
	if err != nil {
		return false, err
	}

	hooks, _, err := c.gh.Repositories.ListHooks(ctx, owner, repo, nil)
	if err != nil {
		return false, fmt.Errorf("listing webhooks: %w", err)
	}

	for _, hook := range hooks {
		if hook.Config != nil {
			if existing, ok := hook.Config["url"].(string); ok && existing == hookURL {
				return false, nil
			}
		}
	}

	hookConfig := map[string]interface{}{
		"url":          hookURL,
		"content_type": "json",
		"secret":       secret,
		"insecure_ssl": "0",
	}

	active := true
	hookReq := &github.Hook{
		Events: []string{"push"},
		Active: &active,
		Config: hookConfig,
	}

	if _, _, err := c.gh.Repositories.CreateHook(ctx, owner, repo, hookReq); err != nil {
		return false, fmt.Errorf("creating webhook: %w", err)
	}
	return true, nil
}

// ParseRepoURL extracts owner and repository from an https or scp-style GitHub URL.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	path := raw
	switch {
	case strings.HasPrefix(raw, "git@"):
		_, path, _ = strings.Cut(raw, ":")
	case strings.Contains(raw, "://"):
		u, perr := url.Parse(raw)
		if perr != nil {
			return "", "", fmt.Errorf("invalid repository URL: %w", perr)
		}
		path = u.Path
	}

	return security.ValidateOwnerRepo(strings.Trim(path, "/"))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return strings.TrimSpace(line)
}
