package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/devportal/backend/internal/infrastructure/config"
)

func TestGuestEnabled(t *testing.T) {
	tests := []struct {
		name string
		auth map[string]interface{}
		want bool
	}{
		{"not configured", map[string]interface{}{}, false},
		{"development by default", map[string]interface{}{
			"providers": map[string]interface{}{"guest": map[string]interface{}{}},
		}, true},
		{"production", map[string]interface{}{
			"environment": "production",
			"providers":   map[string]interface{}{"guest": map[string]interface{}{}},
		}, false},
		{"staging", map[string]interface{}{
			"environment": "staging",
			"providers":   map[string]interface{}{"guest": map[string]interface{}{"userEntityRef": "user:default/ci"}},
		}, false},
		{"production with explicit opt in", map[string]interface{}{
			"environment": "production",
			"providers": map[string]interface{}{"guest": map[string]interface{}{
				"dangerouslyAllowOutsideDevelopment": true,
			}},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewAppConfig(map[string]interface{}{"auth": tt.auth})
			assert.Equal(t, tt.want, GuestEnabled(cfg))
		})
	}
}
