// Package github adds GitHub publishing actions to the scaffolder.
package github

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	integration "github.com/GriffinCanCode/devportal/backend/internal/integrations/github"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/scaffolder"
)

// ClientFactory builds a REST client for an integration
type ClientFactory func(in integration.Integration) *integration.Client

type publisher struct {
	integrations []integration.Integration
	newClient    ClientFactory
}

// Actions returns publish:github and github:webhook
func Actions(integrations []integration.Integration, newClient ClientFactory) []*scaffolder.Action {
	p := &publisher{integrations: integrations, newClient: newClient}
	return []*scaffolder.Action{
		{
			ID:          "publish:github",
			Description: "Creates a GitHub repository and uploads the workspace to it",
			Schema: map[string]interface{}{
				"input": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"repoUrl"},
					"properties": map[string]interface{}{
						"repoUrl":          map[string]interface{}{"type": "string"},
						"description":      map[string]interface{}{"type": "string"},
						"repoVisibility":   map[string]interface{}{"type": "string", "enum": []interface{}{"private", "public"}},
						"sourcePath":       map[string]interface{}{"type": "string"},
						"gitCommitMessage": map[string]interface{}{"type": "string"},
						"homepage":         map[string]interface{}{"type": "string"},
						"token":            map[string]interface{}{"type": "string"},
					},
				},
				"output": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"remoteUrl":       map[string]interface{}{"type": "string"},
						"repoContentsUrl": map[string]interface{}{"type": "string"},
					},
				},
			},
			Handler: p.publish,
		},
		{
			ID:          "github:webhook",
			Description: "Adds a webhook to a GitHub repository",
			Schema: map[string]interface{}{
				"input": map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"repoUrl", "webhookUrl"},
					"properties": map[string]interface{}{
						"repoUrl":       map[string]interface{}{"type": "string"},
						"webhookUrl":    map[string]interface{}{"type": "string"},
						"webhookSecret": map[string]interface{}{"type": "string"},
						"events":        map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
						"active":        map[string]interface{}{"type": "boolean"},
						"contentType":   map[string]interface{}{"type": "string", "enum": []interface{}{"json", "form"}},
						"insecureSsl":   map[string]interface{}{"type": "boolean"},
						"token":         map[string]interface{}{"type": "string"},
					},
				},
			},
			Handler: p.webhook,
		},
	}
}

// client resolves repoUrl and the client for its host
func (p *publisher) client(ac *scaffolder.ActionContext) (*integration.Client, integration.Repo, error) {
	raw, err := ac.RequireString("repoUrl")
	if err != nil {
		return nil, integration.Repo{}, err
	}
	repo, err := integration.ParseRepoURL(raw)
	if err != nil {
		return nil, integration.Repo{}, fmt.Errorf("%w: %v", scaffolder.ErrInvalidInput, err)
	}
	in, ok := integration.Find(p.integrations, repo.Host)
	if !ok {
		return nil, repo, fmt.Errorf("%w: no integrations.github entry for host %s", scaffolder.ErrInvalidInput, repo.Host)
	}
	if token := ac.String("token"); token != "" {
		in.Token = token
	}
	return p.newClient(in), repo, nil
}

func (p *publisher) publish(ctx context.Context, ac *scaffolder.ActionContext) error {
	client, repo, err := p.client(ac)
	if err != nil {
		return err
	}
	source, err := ac.WorkspacePath(ac.String("sourcePath"))
	if err != nil {
		return err
	}
	files, err := scaffolder.WorkspaceFiles(source)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: nothing to publish in %s", scaffolder.ErrInvalidInput, ac.String("sourcePath"))
	}

	created, err := client.CreateRepo(ctx, repo.Owner, integration.CreateRepoRequest{
		Name:        repo.Name,
		Description: ac.String("description"),
		Private:     ac.String("repoVisibility") != "public",
		Homepage:    ac.String("homepage"),
	})
	if err != nil {
		return err
	}
	ac.Log("Created repository %s/%s", repo.Owner, repo.Name)

	message := ac.String("gitCommitMessage")
	if message == "" {
		message = "initial commit"
	}
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(source, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		if err := client.PutFile(ctx, repo, rel, data, message, ""); err != nil {
			return err
		}
	}
	ac.Log("Uploaded %d files", len(files))

	remote := created.HTMLURL
	if remote == "" {
		remote = fmt.Sprintf("https://%s/%s/%s", repo.Host, repo.Owner, repo.Name)
	}
	branch := created.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	ac.Output("remoteUrl", remote)
	ac.Output("repoContentsUrl", strings.TrimRight(remote, "/")+"/blob/"+branch)
	return nil
}

func (p *publisher) webhook(ctx context.Context, ac *scaffolder.ActionContext) error {
	client, repo, err := p.client(ac)
	if err != nil {
		return err
	}
	target, err := ac.RequireString("webhookUrl")
	if err != nil {
		return err
	}
	id, err := client.CreateWebhook(ctx, repo, integration.Webhook{
		URL:         target,
		Secret:      ac.String("webhookSecret"),
		Events:      ac.Strings("events"),
		ContentType: ac.String("contentType"),
		Active:      ac.Bool("active", true),
		InsecureSSL: ac.Bool("insecureSsl", false),
	})
	if err != nil {
		return err
	}
	ac.Log("Created webhook %d on %s/%s", id, repo.Owner, repo.Name)
	ac.Output("hookId", id)
	return nil
}
