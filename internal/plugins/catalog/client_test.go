package catalog

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientAgainstHandlers(t *testing.T) {
	r, _ := setupRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := NewClient(srv.URL+"/api/catalog", nil)
	ctx := context.Background()

	res, err := client.AddLocation(ctx, "file", "/repo/catalog-info.yaml", true)
	require.NoError(t, err)
	assert.Len(t, res.Entities, 2)

	_, err = client.EntityByRef(ctx, EntityRef{Kind: "component", Namespace: "default", Name: "payments"})
	assert.ErrorIs(t, err, ErrNotFound, "dry run registers nothing")

	res, err = client.AddLocation(ctx, "file", "/repo/catalog-info.yaml", false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Location.ID)

	e, err := client.EntityByRef(ctx, EntityRef{Kind: "component", Namespace: "default", Name: "payments"})
	require.NoError(t, err)
	assert.Equal(t, "payments", e.Metadata.Name)

	_, err = client.AddLocation(ctx, "file", "/repo/catalog-info.yaml", false)
	assert.Error(t, err)
}
