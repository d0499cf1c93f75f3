package auth

import (
	"encoding/json"
	"net"
	"strings"

	"deployhook/internal/app"
)

const (
	defaultJenkinsAllowed   = "127.0.0.1"
	defaultBitbucketAllowed = "104.192.143.0/24"
)

// Jenkins accepts successful build notifications from an allow-listed address.
type Jenkins struct{}

type jenkinsBuild struct {
	Build struct {
		FullURL string `json:"full_url"`
		Phase   string `json:"phase"`
		Status  string `json:"status"`
		SCM     struct {
			URL    string `json:"url"`
			Branch string `json:"branch"`
			Commit string `json:"commit"`
		} `json:"scm"`
	} `json:"build"`
}

func (Jenkins) Describe() string {
	return "caller IP contains allowed_ip or is inside it (default " + defaultJenkinsAllowed + "), build.status SUCCESS"
}

func (Jenkins) Verify(cfg app.Config, req *Request) (app.VersioningInfo, error) {
	const provider = app.ProviderJenkins

	allowed := cfg.AllowedIP
	if allowed == "" {
		allowed = defaultJenkinsAllowed
	}
	ip := hostIP(req.RemoteIP)
	if !ipAllowed(ip, allowed) {
		return app.VersioningInfo{}, fail(provider, "address %s not allowed", ip)
	}

	var hook jenkinsBuild
	if err := json.Unmarshal(req.Body, &hook); err != nil {
		return app.VersioningInfo{}, fail(provider, "malformed payload: %v", err)
	}
	if hook.Build.Status != "SUCCESS" {
		return app.VersioningInfo{}, fail(provider, "build status '%s' is not SUCCESS", hook.Build.Status)
	}

	branch := strings.TrimPrefix(hook.Build.SCM.Branch, "origin/")
	if cfg.BranchFilter != "" && !strings.Contains(hook.Build.SCM.Branch, cfg.BranchFilter) {
		return app.VersioningInfo{}, fail(provider, "branch '%s' does not match filter '%s'", hook.Build.SCM.Branch, cfg.BranchFilter)
	}

	return app.VersioningInfo{
		Commit:        hook.Build.SCM.Commit,
		CompareURL:    hook.Build.FullURL,
		RepositoryURL: hook.Build.SCM.URL,
		Branch:        branch,
	}, nil
}

// ipAllowed matches ip against a CIDR block, or else as a substring.
func ipAllowed(ip, allowed string) bool {
	if ip == "" {
		return false
	}
	if _, block, err := net.ParseCIDR(allowed); err == nil {
		parsed := net.ParseIP(ip)
		return parsed != nil && block.Contains(parsed)
	}
	return strings.Contains(ip, allowed)
}

// Bitbucket accepts push notifications from Bitbucket's address range.
type Bitbucket struct{}

type bitbucketPush struct {
	Push struct {
		Changes []struct {
			New *struct {
				Name   string `json:"name"`
				Target struct {
					Hash string `json:"hash"`
				} `json:"target"`
			} `json:"new"`
			Links struct {
				HTML struct {
					Href string `json:"href"`
				} `json:"html"`
			} `json:"links"`
		} `json:"changes"`
	} `json:"push"`
	Repository struct {
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	} `json:"repository"`
}

func (Bitbucket) Describe() string {
	return "caller IP inside allowed_ip CIDR (default " + defaultBitbucketAllowed + "), push.changes present"
}

func (Bitbucket) Verify(cfg app.Config, req *Request) (app.VersioningInfo, error) {
	const provider = app.ProviderBitbucket

	allowed := cfg.AllowedIP
	if allowed == "" {
		allowed = defaultBitbucketAllowed
	}
	_, block, err := net.ParseCIDR(allowed)
	if err != nil {
		return app.VersioningInfo{}, fail(provider, "allowed_ip '%s' is not a CIDR range", allowed)
	}
	ip := hostIP(req.RemoteIP)
	parsed := net.ParseIP(ip)
	if parsed == nil || !block.Contains(parsed) {
		return app.VersioningInfo{}, fail(provider, "address %s outside %s", ip, allowed)
	}

	var hook bitbucketPush
	if err := json.Unmarshal(req.Body, &hook); err != nil {
		return app.VersioningInfo{}, fail(provider, "malformed payload: %v", err)
	}
	if len(hook.Push.Changes) == 0 {
		return app.VersioningInfo{}, fail(provider, "payload has no push changes")
	}

	change := hook.Push.Changes[0]
	if change.New == nil {
		return app.VersioningInfo{}, fail(provider, "change has no new target")
	}
	if cfg.BranchFilter != "" && !strings.Contains(change.New.Name, cfg.BranchFilter) {
		return app.VersioningInfo{}, fail(provider, "branch '%s' does not match filter '%s'", change.New.Name, cfg.BranchFilter)
	}

	return app.VersioningInfo{
		Commit:        change.New.Target.Hash,
		CompareURL:    change.Links.HTML.Href,
		RepositoryURL: hook.Repository.Links.HTML.Href,
		Branch:        change.New.Name,
	}, nil
}
