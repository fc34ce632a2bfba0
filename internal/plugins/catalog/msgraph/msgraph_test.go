package msgraph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/devportal/backend/internal/plugins/catalog"
)

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Alice.Smith":       "alice.smith",
		"  Platform Team  ": "platform_team",
		"R&D / Ops":         "r_d_ops",
		"__weird--":         "weird",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeName(in), in)
	}
	assert.Equal(t, "alice", UserName(User{Mail: "Alice@example.com"}))
	assert.Equal(t, "bob", UserName(User{UserPrincipalName: "bob@example.onmicrosoft.com"}))
	assert.Equal(t, "platform", GroupName(Group{MailNickname: "platform", DisplayName: "Platform Team"}))
}

type fakeGraph struct {
	users   []User
	groups  []Group
	members map[string][]Member
}

func (f *fakeGraph) Users(context.Context, string) ([]User, error)   { return f.users, nil }
func (f *fakeGraph) Groups(context.Context, string) ([]Group, error) { return f.groups, nil }
func (f *fakeGraph) GroupMembers(_ context.Context, id string) ([]Member, error) {
	return f.members[id], nil
}

func TestProviderBuildsRelatedEntities(t *testing.T) {
	graph := &fakeGraph{
		users: []User{
			{ID: "u1", DisplayName: "Alice", Mail: "alice@example.com"},
			{ID: "u2", DisplayName: "Bob", Mail: "bob@example.com"},
		},
		groups: []Group{
			{ID: "g1", DisplayName: "Engineering", MailNickname: "engineering"},
			{ID: "g2", DisplayName: "Platform", MailNickname: "platform"},
		},
		members: map[string][]Member{
			"g1": {{ODataType: "#microsoft.graph.group", ID: "g2"}, {ODataType: "#microsoft.graph.user", ID: "u2"}},
			"g2": {{ODataType: "#microsoft.graph.user", ID: "u1"}, {ODataType: "#microsoft.graph.device", ID: "d1"}},
		},
	}

	p := NewProvider(ProviderConfig{ID: "tenant"}, graph, nil, nil)
	cat := catalog.New(catalog.NewMemoryStore(), nil, nil, nil, nil)
	require.NoError(t, cat.Connect(context.Background(), []catalog.EntityProvider{p}))
	require.NoError(t, p.Refresh(context.Background()))

	ctx := context.Background()
	alice, err := cat.EntityByRef(ctx, catalog.EntityRef{Kind: "user", Namespace: "default", Name: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "u1", alice.Annotation(AnnotationUserID))
	assert.Contains(t, alice.Relations, catalog.Relation{Type: catalog.RelationMemberOf, TargetRef: "group:default/platform"})

	platform, err := cat.EntityByRef(ctx, catalog.EntityRef{Kind: "group", Namespace: "default", Name: "platform"})
	require.NoError(t, err)
	assert.Contains(t, platform.Relations, catalog.Relation{Type: catalog.RelationChildOf, TargetRef: "group:default/engineering"})
	assert.Contains(t, platform.Relations, catalog.Relation{Type: catalog.RelationHasMember, TargetRef: "user:default/alice"})

	engineering, err := cat.EntityByRef(ctx, catalog.EntityRef{Kind: "group", Namespace: "default", Name: "engineering"})
	require.NoError(t, err)
	assert.Contains(t, engineering.Relations, catalog.Relation{Type: catalog.RelationParentOf, TargetRef: "group:default/platform"})
}

func TestClientUsesClientCredentialsAndPaging(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/tenant-1/oauth2/v2.0/token":
			_ = r.ParseForm()
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "graph-token",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		case "/v1.0/users":
			assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))
			if r.URL.Query().Get("page") == "2" {
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"value": []User{{ID: "u2", Mail: "bob@example.com"}},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"value":           []User{{ID: "u1", Mail: "alice@example.com"}},
				"@odata.nextLink": srv.URL + "/v1.0/users?page=2",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(context.Background(), ClientConfig{
		Target:       srv.URL + "/v1.0",
		Authority:    srv.URL,
		TenantID:     "tenant-1",
		ClientID:     "id",
		ClientSecret: "secret",
	}, nil)

	users, err := client.Users(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u2", users[1].ID)
}
