package auth

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"mime"
	"net/url"

	"deployhook/internal/app"
)

const (
	headerGitHubEvent = "X-GitHub-Event"
	headerGitHubSig   = "X-Hub-Signature"

	signaturePrefix = "sha1="
)

// GitHub verifies push events signed with HMAC-SHA1.
type GitHub struct{}

type githubPush struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Compare    string `json:"compare"`
	HeadCommit *struct {
		ID     string `json:"id"`
		TreeID string `json:"tree_id"`
	} `json:"head_commit"`
	Repository struct {
		CloneURL string `json:"clone_url"`
	} `json:"repository"`
}

func (GitHub) Describe() string {
	return "HMAC-SHA1 of the body in " + headerGitHubSig + ", push events only"
}

func (GitHub) Verify(cfg app.Config, req *Request) (app.VersioningInfo, error) {
	const provider = app.ProviderGitHub

	event := req.Header.Get(headerGitHubEvent)
	if event == "" {
		return app.VersioningInfo{}, fail(provider, "missing %s header", headerGitHubEvent)
	}
	signature := req.Header.Get(headerGitHubSig)
	if signature == "" {
		return app.VersioningInfo{}, fail(provider, "missing %s header", headerGitHubSig)
	}

	expected := SignGitHub(cfg.Secret, req.Body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return app.VersioningInfo{}, fail(provider, "signature mismatch")
	}

	if event != "push" {
		return app.VersioningInfo{}, fail(provider, "unsupported event '%s'", event)
	}

	payload := req.Body
	if isFormEncoded(req.Header.Get("Content-Type")) {
		values, err := url.ParseQuery(string(req.Body))
		if err != nil {
			return app.VersioningInfo{}, fail(provider, "malformed form body: %v", err)
		}
		payload = []byte(values.Get("payload"))
	}

	var push githubPush
	if err := json.Unmarshal(payload, &push); err != nil {
		return app.VersioningInfo{}, fail(provider, "malformed payload: %v", err)
	}
	if push.Ref == "" {
		return app.VersioningInfo{}, fail(provider, "payload has no ref")
	}

	info := app.VersioningInfo{
		Commit:        push.After,
		CompareURL:    push.Compare,
		RepositoryURL: push.Repository.CloneURL,
		Branch:        BranchFromRef(push.Ref),
	}
	if push.HeadCommit != nil {
		if push.HeadCommit.ID != "" {
			info.Commit = push.HeadCommit.ID
		}
		info.Tree = push.HeadCommit.TreeID
	}
	return info, nil
}

// SignGitHub returns the X-Hub-Signature value for body.
func SignGitHub(secret string, body []byte) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func isFormEncoded(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/x-www-form-urlencoded"
}
