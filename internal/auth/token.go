package auth

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"deployhook/internal/app"
)

const (
	headerGitLabToken = "X-Gitlab-Token"
	headerDroneToken  = "Authorization"
)

// checkToken compares a header verbatim against the configured secret.
func checkToken(provider, header string, cfg app.Config, req *Request) error {
	token := req.Header.Get(header)
	if token == "" {
		return fail(provider, "missing %s header", header)
	}
	if cfg.Secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Secret)) != 1 {
		return fail(provider, "token mismatch")
	}
	return nil
}

// GitLab verifies push hooks carrying the secret in X-Gitlab-Token.
type GitLab struct{}

type gitlabPush struct {
	Ref         string `json:"ref"`
	Before      string `json:"before"`
	After       string `json:"after"`
	CheckoutSHA string `json:"checkout_sha"`
	Project     struct {
		GitHTTPURL string `json:"git_http_url"`
		WebURL     string `json:"web_url"`
	} `json:"project"`
}

func (GitLab) Describe() string {
	return headerGitLabToken + " must equal the app secret"
}

func (GitLab) Verify(cfg app.Config, req *Request) (app.VersioningInfo, error) {
	const provider = app.ProviderGitLab

	if err := checkToken(provider, headerGitLabToken, cfg, req); err != nil {
		return app.VersioningInfo{}, err
	}

	var push gitlabPush
	if err := json.Unmarshal(req.Body, &push); err != nil {
		return app.VersioningInfo{}, fail(provider, "malformed payload: %v", err)
	}
	if push.Ref == "" {
		return app.VersioningInfo{}, fail(provider, "payload has no ref")
	}

	info := app.VersioningInfo{
		Commit:        push.CheckoutSHA,
		RepositoryURL: push.Project.GitHTTPURL,
		Branch:        BranchFromRef(push.Ref),
	}
	if info.Commit == "" {
		info.Commit = push.After
	}
	if push.Project.WebURL != "" && push.Before != "" && push.After != "" {
		info.CompareURL = fmt.Sprintf("%s/compare/%s...%s", push.Project.WebURL, push.Before, push.After)
	}
	return info, nil
}

// DroneCI verifies build hooks carrying the secret in Authorization.
type DroneCI struct{}

type droneBuild struct {
	Build struct {
		After  string `json:"after"`
		Commit string `json:"commit"`
		Ref    string `json:"ref"`
		Branch string `json:"branch"`
		Link   string `json:"link"`
	} `json:"build"`
	Repo struct {
		CloneURL string `json:"clone_url"`
	} `json:"repo"`
}

func (DroneCI) Describe() string {
	return headerDroneToken + " must equal the app secret"
}

func (DroneCI) Verify(cfg app.Config, req *Request) (app.VersioningInfo, error) {
	const provider = app.ProviderDroneCI

	if err := checkToken(provider, headerDroneToken, cfg, req); err != nil {
		return app.VersioningInfo{}, err
	}

	var hook droneBuild
	if err := json.Unmarshal(req.Body, &hook); err != nil {
		return app.VersioningInfo{}, fail(provider, "malformed payload: %v", err)
	}

	info := app.VersioningInfo{
		Commit:        hook.Build.After,
		CompareURL:    hook.Build.Link,
		RepositoryURL: hook.Repo.CloneURL,
		Branch:        hook.Build.Branch,
	}
	if info.Commit == "" {
		info.Commit = hook.Build.Commit
	}
	if hook.Build.Ref != "" {
		info.Branch = BranchFromRef(hook.Build.Ref)
	}
	if info.Branch == "" {
		return app.VersioningInfo{}, fail(provider, "payload has no ref or branch")
	}
	return info, nil
}
