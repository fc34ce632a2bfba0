// Package github is the catalog module that discovers catalog-info.yaml
// files in the repositories of GitHub organizations.
package github

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	integration "github.com/GriffinCanCode/devportal/backend/internal/integrations/github"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/events"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
	"github.com/GriffinCanCode/devportal/backend/internal/services/urlreader"
)

// PushTopic is the event topic GitHub push webhooks arrive on
const PushTopic = "github.push"

// ProviderConfig is one entry of catalog.providers.github
type ProviderConfig struct {
	ID           string
	Host         string
	Organization string
	CatalogPath  string
	RepoFilter   *regexp.Regexp
	Schedule     scheduler.Schedule
}

// ReadProviderConfigs reads catalog.providers.github.<id>
func ReadProviderConfigs(cfg *config.AppConfig) ([]ProviderConfig, error) {
	root := cfg.Sub("catalog.providers.github")
	var out []ProviderConfig
	for _, id := range root.Keys() {
		sub := root.Sub(id)
		org, err := sub.String("organization")
		if err != nil {
			return nil, err
		}
		pc := ProviderConfig{
			ID:           id,
			Host:         sub.OptionalString("host", integration.DefaultHost),
			Organization: org,
			CatalogPath:  "/" + strings.TrimLeft(sub.OptionalString("catalogPath", "catalog-info.yaml"), "/"),
			Schedule: scheduler.ScheduleFrom(sub.Sub("schedule"), scheduler.Schedule{
				Frequency: 30 * time.Minute,
				Timeout:   3 * time.Minute,
			}),
		}
		if pattern := sub.OptionalString("filters.repository", ""); pattern != "" {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid repository filter for provider %s: %w", id, err)
			}
			pc.RepoFilter = re
		}
		out = append(out, pc)
	}
	return out, nil
}

// RepoLister lists organization repositories
type RepoLister interface {
	ListOrgRepos(ctx context.Context, org string) ([]integration.Repository, error)
}

// TaskScheduler is the part of the scheduler the provider uses
type TaskScheduler interface {
	ScheduleTask(opts scheduler.TaskOptions) error
	TriggerTask(id string) error
}

// Provider emits the entities found in one organization
type Provider struct {
	cfg       ProviderConfig
	repos     RepoLister
	reader    catalog.Reader
	scheduler TaskScheduler
	logger    *logging.Logger

	mu         sync.Mutex
	conn       catalog.Connection
	refreshing bool
	pending    bool
}

// NewProvider creates a provider; sched may be nil to refresh only on demand
func NewProvider(cfg ProviderConfig, repos RepoLister, reader catalog.Reader, sched TaskScheduler, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{cfg: cfg, repos: repos, reader: reader, scheduler: sched, logger: logger}
}

func (p *Provider) ProviderName() string {
	return "github-provider:" + p.cfg.ID
}

func (p *Provider) taskID() string {
	return p.ProviderName() + ":refresh"
}

// Connect stores the connection and schedules the periodic refresh
func (p *Provider) Connect(_ context.Context, conn catalog.Connection) error {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	if p.scheduler == nil {
		return nil
	}
	return p.scheduler.ScheduleTask(scheduler.TaskOptions{
		ID:       p.taskID(),
		Schedule: p.cfg.Schedule,
		Fn:       p.Refresh,
	})
}

// Refresh reads the catalog file of every matching repository and
// replaces everything the provider emitted before
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.New("provider is not connected")
	}

	repos, err := p.repos.ListOrgRepos(ctx, p.cfg.Organization)
	if err != nil {
		return err
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })

	var entities []*catalog.Entity
	for _, repo := range repos {
		if repo.Archived {
			continue
		}
		if p.cfg.RepoFilter != nil && !p.cfg.RepoFilter.MatchString(repo.Name) {
			continue
		}
		found, err := p.readRepo(ctx, repo)
		if err != nil {
			p.logger.Warn("Skipping repository", zap.String("repo", repo.Name), zap.Error(err))
			continue
		}
		entities = append(entities, found...)
	}

	p.logger.Info("Read GitHub organization",
		zap.String("organization", p.cfg.Organization),
		zap.Int("repositories", len(repos)),
		zap.Int("entities", len(entities)),
	)
	return conn.ApplyMutation(ctx, catalog.Mutation{Type: catalog.MutationFull, Entities: entities})
}

func (p *Provider) readRepo(ctx context.Context, repo integration.Repository) ([]*catalog.Entity, error) {
	branch := repo.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	base := fmt.Sprintf("https://%s/%s/%s", p.cfg.Host, p.cfg.Organization, repo.Name)
	target := base + "/blob/" + branch + p.cfg.CatalogPath

	data, err := p.reader.Read(ctx, target)
	if errors.Is(err, urlreader.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entities, err := catalog.ParseEntities(data)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		e.SetAnnotation(catalog.AnnotationLocation, "url:"+target)
		e.SetAnnotation(catalog.AnnotationOriginLocation, "url:"+target)
		e.SetAnnotation(catalog.AnnotationSourceLocation, "url:"+base+"/tree/"+branch+"/")
	}
	return entities, nil
}

type pushPayload struct {
	Repository struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
}

// HandlePush requests a refresh when one of the organization's repositories
// receives a push. The refresh runs on the scheduled task, so pushes that
// arrive while it is running collapse into a single extra run.
func (p *Provider) HandlePush(_ context.Context, e events.Event) error {
	var payload pushPayload
	if err := e.Decode(&payload); err != nil {
		return err
	}
	if !strings.EqualFold(payload.Repository.Owner.Login, p.cfg.Organization) {
		return nil
	}
	if p.cfg.RepoFilter != nil && !p.cfg.RepoFilter.MatchString(payload.Repository.Name) {
		return nil
	}
	if p.scheduler != nil {
		return p.scheduler.TriggerTask(p.taskID())
	}
	p.refreshInBackground()
	return nil
}

// refreshInBackground is the trigger used without a scheduler: at most one
// refresh runs and requests made meanwhile queue one more.
func (p *Provider) refreshInBackground() {
	p.mu.Lock()
	if p.refreshing {
		p.pending = true
		p.mu.Unlock()
		return
	}
	p.refreshing = true
	p.mu.Unlock()

	go func() {
		for {
			p.refreshOnce()

			p.mu.Lock()
			if !p.pending {
				p.refreshing = false
				p.mu.Unlock()
				return
			}
			p.pending = false
			p.mu.Unlock()
		}
	}()
}

func (p *Provider) refreshOnce() {
	ctx := context.Background()
	if timeout := p.cfg.Schedule.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn("Push refresh failed", zap.Error(err))
	}
}
