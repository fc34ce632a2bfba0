// Package msgraph is the catalog module that imports users and groups from
// Microsoft Graph.
package msgraph

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
	"github.com/GriffinCanCode/devportal/backend/internal/services/scheduler"
)

const (
	AnnotationUserID  = "graph.microsoft.com/user-id"
	AnnotationGroupID = "graph.microsoft.com/group-id"
)

// ProviderConfig is one entry of catalog.providers.microsoftGraphOrg
type ProviderConfig struct {
	ID          string
	Client      ClientConfig
	UserFilter  string
	GroupFilter string
	Schedule    scheduler.Schedule
}

// ReadProviderConfigs reads catalog.providers.microsoftGraphOrg.<id>
func ReadProviderConfigs(cfg *config.AppConfig) ([]ProviderConfig, error) {
	root := cfg.Sub("catalog.providers.microsoftGraphOrg")
	var out []ProviderConfig
	for _, id := range root.Keys() {
		sub := root.Sub(id)
		tenant, err := sub.String("tenantId")
		if err != nil {
			return nil, err
		}
		clientID, err := sub.String("clientId")
		if err != nil {
			return nil, err
		}
		secret, err := sub.String("clientSecret")
		if err != nil {
			return nil, err
		}
		out = append(out, ProviderConfig{
			ID: id,
			Client: ClientConfig{
				Target:       sub.OptionalString("target", "https://graph.microsoft.com/v1.0"),
				Authority:    sub.OptionalString("authority", "https://login.microsoftonline.com"),
				TenantID:     tenant,
				ClientID:     clientID,
				ClientSecret: secret,
			},
			UserFilter:  sub.OptionalString("user.filter", ""),
			GroupFilter: sub.OptionalString("group.filter", ""),
			Schedule: scheduler.ScheduleFrom(sub.Sub("schedule"), scheduler.Schedule{
				Frequency: time.Hour,
				Timeout:   15 * time.Minute,
			}),
		})
	}
	return out, nil
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-.]+`)

// NormalizeName turns a display value into a valid entity name
func NormalizeName(value string) string {
	name := invalidNameChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "_")
	name = strings.Trim(name, "_-.")
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	if len(name) > 63 {
		name = strings.Trim(name[:63], "_-.")
	}
	return name
}

// UserName derives the entity name from the mail local part
func UserName(u User) string {
	mail := u.Mail
	if mail == "" {
		mail = u.UserPrincipalName
	}
	local, _, _ := strings.Cut(mail, "@")
	return NormalizeName(local)
}

// GroupName derives the entity name from the mail nickname
func GroupName(g Group) string {
	if g.MailNickname != "" {
		return NormalizeName(g.MailNickname)
	}
	return NormalizeName(g.DisplayName)
}

// TaskScheduler is the part of the scheduler the provider uses
type TaskScheduler interface {
	ScheduleTask(opts scheduler.TaskOptions) error
}

// Provider emits User and Group entities for one tenant
type Provider struct {
	cfg       ProviderConfig
	graph     Graph
	scheduler TaskScheduler
	logger    *logging.Logger

	mu   sync.Mutex
	conn catalog.Connection
}

// NewProvider creates a provider
func NewProvider(cfg ProviderConfig, graph Graph, sched TaskScheduler, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Provider{cfg: cfg, graph: graph, scheduler: sched, logger: logger}
}

func (p *Provider) ProviderName() string {
	return "MicrosoftGraphOrgEntityProvider:" + p.cfg.ID
}

func (p *Provider) Connect(_ context.Context, conn catalog.Connection) error {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	if p.scheduler == nil {
		return nil
	}
	return p.scheduler.ScheduleTask(scheduler.TaskOptions{
		ID:       p.ProviderName() + ":refresh",
		Schedule: p.cfg.Schedule,
		Fn:       p.Refresh,
	})
}

// Refresh reads the directory and replaces the provider's entities
func (p *Provider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.New("provider is not connected")
	}

	entities, err := p.Read(ctx)
	if err != nil {
		return err
	}
	return conn.ApplyMutation(ctx, catalog.Mutation{Type: catalog.MutationFull, Entities: entities})
}

// Read builds the User and Group entities with membership resolved
func (p *Provider) Read(ctx context.Context) ([]*catalog.Entity, error) {
	users, err := p.graph.Users(ctx, p.cfg.UserFilter)
	if err != nil {
		return nil, err
	}
	groups, err := p.graph.Groups(ctx, p.cfg.GroupFilter)
	if err != nil {
		return nil, err
	}

	userNames := make(map[string]string, len(users))
	for _, u := range users {
		if name := UserName(u); name != "" {
			userNames[u.ID] = name
		}
	}
	groupNames := make(map[string]string, len(groups))
	for _, g := range groups {
		if name := GroupName(g); name != "" {
			groupNames[g.ID] = name
		}
	}

	memberOf := make(map[string][]string)
	parents := make(map[string][]string)
	for _, g := range groups {
		groupName, ok := groupNames[g.ID]
		if !ok {
			continue
		}
		members, err := p.graph.GroupMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			switch {
			case m.IsUser():
				if _, ok := userNames[m.ID]; ok {
					memberOf[m.ID] = append(memberOf[m.ID], groupName)
				}
			case m.IsGroup():
				if _, ok := groupNames[m.ID]; ok {
					parents[m.ID] = append(parents[m.ID], groupName)
				}
			}
		}
	}

	var out []*catalog.Entity
	for _, g := range groups {
		name, ok := groupNames[g.ID]
		if !ok {
			continue
		}
		spec := map[string]interface{}{
			"type":     "team",
			"children": []interface{}{},
			"profile": map[string]interface{}{
				"displayName": g.DisplayName,
				"email":       g.Mail,
			},
		}
		if ps := parents[g.ID]; len(ps) > 0 {
			sort.Strings(ps)
			spec["parent"] = ps[0]
		}
		out = append(out, &catalog.Entity{
			APIVersion: "backstage.io/v1alpha1",
			Kind:       "Group",
			Metadata: catalog.Metadata{
				Name:        name,
				Description: g.Description,
				Annotations: map[string]string{AnnotationGroupID: g.ID},
			},
			Spec: spec,
		})
	}
	for _, u := range users {
		name, ok := userNames[u.ID]
		if !ok {
			continue
		}
		groupsOf := memberOf[u.ID]
		sort.Strings(groupsOf)
		member := make([]interface{}, 0, len(groupsOf))
		for _, g := range groupsOf {
			member = append(member, g)
		}
		out = append(out, &catalog.Entity{
			APIVersion: "backstage.io/v1alpha1",
			Kind:       "User",
			Metadata: catalog.Metadata{
				Name:        name,
				Annotations: map[string]string{AnnotationUserID: u.ID},
			},
			Spec: map[string]interface{}{
				"profile": map[string]interface{}{
					"displayName": u.DisplayName,
					"email":       u.Mail,
				},
				"memberOf": member,
			},
		})
	}

	p.logger.Info("Read Microsoft Graph directory",
		zap.Int("users", len(users)),
		zap.Int("groups", len(groups)),
	)
	return out, nil
}
