package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// CreateRepoRequest is the body of a repository creation
type CreateRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	Homepage    string `json:"homepage,omitempty"`
	AutoInit    bool   `json:"auto_init"`
}

type account struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// CreateRepo creates a repository under owner, which may be an
// organization or the authenticated user
func (c *Client) CreateRepo(ctx context.Context, owner string, body CreateRepoRequest) (*Repository, error) {
	var acct account
	_, err := c.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetResult(&acct).Get("/users/" + url.PathEscape(owner))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up owner %s: %w", owner, err)
	}

	path := "/user/repos"
	if acct.Type == "Organization" {
		path = "/orgs/" + url.PathEscape(owner) + "/repos"
	}

	var repo Repository
	_, err = c.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(body).SetResult(&repo).Post(path)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository %s/%s: %w", owner, body.Name, err)
	}
	return &repo, nil
}

// PutFile creates or replaces one file through the contents API
func (c *Client) PutFile(ctx context.Context, repo Repo, path string, content []byte, message, branch string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if branch != "" {
		body["branch"] = branch
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	_, err := c.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.SetBody(body).Put(fmt.Sprintf("/repos/%s/%s/contents/%s",
			url.PathEscape(repo.Owner), url.PathEscape(repo.Name), strings.Join(segments, "/")))
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Webhook is the body of a repository hook
type Webhook struct {
	URL         string
	Secret      string
	Events      []string
	ContentType string
	Active      bool
	InsecureSSL bool
}

// CreateWebhook adds a webhook to repo and returns its id
func (c *Client) CreateWebhook(ctx context.Context, repo Repo, hook Webhook) (int64, error) {
	cfg := map[string]string{
		"url":          hook.URL,
		"content_type": hook.ContentType,
		"insecure_ssl": "0",
	}
	if cfg["content_type"] == "" {
		cfg["content_type"] = "json"
	}
	if hook.InsecureSSL {
		cfg["insecure_ssl"] = "1"
	}
	if hook.Secret != "" {
		cfg["secret"] = hook.Secret
	}
	events := hook.Events
	if len(events) == 0 {
		events = []string{"push"}
	}

	var created struct {
		ID int64 `json:"id"`
	}
	_, err := c.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(map[string]interface{}{
				"name":   "web",
				"active": hook.Active,
				"events": events,
				"config": cfg,
			}).
			SetResult(&created).
			Post(fmt.Sprintf("/repos/%s/%s/hooks", url.PathEscape(repo.Owner), url.PathEscape(repo.Name)))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook on %s/%s: %w", repo.Owner, repo.Name, err)
	}
	return created.ID, nil
}
