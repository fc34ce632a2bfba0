package msgraph

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/monitoring"
)

const graphScope = "https://graph.microsoft.com/.default"

// User is a Graph user resource
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	JobTitle          string `json:"jobTitle"`
}

// Group is a Graph group resource
type Group struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	MailNickname string `json:"mailNickname"`
	Mail         string `json:"mail"`
	Description  string `json:"description"`
}

// Member is a directory object in a group's member list
type Member struct {
	ODataType string `json:"@odata.type"`
	ID        string `json:"id"`
}

// IsUser reports whether the member is a user
func (m Member) IsUser() bool { return m.ODataType == "#microsoft.graph.user" }

// IsGroup reports whether the member is a group
func (m Member) IsGroup() bool { return m.ODataType == "#microsoft.graph.group" }

// Graph is the part of the Graph API the provider reads
type Graph interface {
	Users(ctx context.Context, filter string) ([]User, error)
	Groups(ctx context.Context, filter string) ([]Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]Member, error)
}

// ClientConfig holds app registration credentials
type ClientConfig struct {
	Target       string
	Authority    string
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Client calls Microsoft Graph with an app-only token
type Client struct {
	http   *httpclient.Client
	tokens oauth2.TokenSource
}

// NewClient creates a client using the client credentials flow
func NewClient(ctx context.Context, cfg ClientConfig, metrics *monitoring.Metrics) *Client {
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.Authority, "/") + "/" + url.PathEscape(cfg.TenantID) + "/oauth2/v2.0/token",
		Scopes:       []string{graphScope},
	}
	opts := httpclient.DefaultOptions("msgraph")
	opts.BaseURL = strings.TrimRight(cfg.Target, "/")
	opts.Metrics = metrics
	return &Client{
		http:   httpclient.New(opts),
		tokens: cc.TokenSource(context.WithoutCancel(ctx)),
	}
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// list follows @odata.nextLink until the collection is exhausted
func list[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire graph token: %w", err)
	}

	var out []T
	next := path
	if len(query) > 0 {
		next += "?" + query.Encode()
	}
	for next != "" {
		var p page[T]
		target := next
		_, err := c.http.Do(ctx, func(req *resty.Request) (*resty.Response, error) {
			req.SetAuthToken(token.AccessToken)
			req.SetHeader("ConsistencyLevel", "eventual")
			req.SetResult(&p)
			return req.Get(target)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, p.Value...)
		next = p.NextLink
	}
	return out, nil
}

func (c *Client) Users(ctx context.Context, filter string) ([]User, error) {
	q := url.Values{"$select": {"id,displayName,mail,userPrincipalName,jobTitle"}, "$top": {"999"}}
	if filter != "" {
		q.Set("$filter", filter)
	}
	return list[User](ctx, c, "/users", q)
}

func (c *Client) Groups(ctx context.Context, filter string) ([]Group, error) {
	q := url.Values{"$select": {"id,displayName,mailNickname,mail,description"}, "$top": {"999"}}
	if filter != "" {
		q.Set("$filter", filter)
	}
	return list[Group](ctx, c, "/groups", q)
}

func (c *Client) GroupMembers(ctx context.Context, groupID string) ([]Member, error) {
	return list[Member](ctx, c, "/groups/"+url.PathEscape(groupID)+"/members", url.Values{"$select": {"id"}})
}
