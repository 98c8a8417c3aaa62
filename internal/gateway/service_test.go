package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openotp/gateway/internal/bus"
	"github.com/openotp/gateway/internal/config"
	"github.com/openotp/gateway/internal/schema"
)

func testSchemaConfig() config.SchemaConfig {
	return config.SchemaConfig{
		Path:           "../../configs/schema.yaml",
		AvatarClass:    "Avatar",
		AccountClass:   "Account",
		AvatarSetField: "AvatarSet",
	}
}

func TestNewService_ResolvesSchema(t *testing.T) {
	svc, _, _ := newTestService(t)

	assert.Equal(t, "Avatar", svc.AvatarClass().Name)
	assert.NotNil(t, svc.Schema())
	assert.NotNil(t, svc.Router())
	assert.Equal(t, 0, svc.SessionCount())
}

func TestNewService_RejectsBadSecret(t *testing.T) {
	file, err := schema.Load("../../configs/schema.yaml")
	require.NoError(t, err)
	router := bus.NewRouter(zap.NewNop())

	cfg := testGatewayConfig()
	cfg.LoginSecret = "deadbeef"

	_, err = NewService(cfg, testSchemaConfig(), config.ChannelConfig{Min: 1, Max: 2}, file, router, zap.NewNop())
	assert.Error(t, err)
}

func TestNewService_RejectsMissingSchemaElements(t *testing.T) {
	file, err := schema.Load("../../configs/schema.yaml")
	require.NoError(t, err)
	router := bus.NewRouter(zap.NewNop())

	cases := map[string]func(*config.SchemaConfig){
		"avatar class":     func(c *config.SchemaConfig) { c.AvatarClass = "Ghost" },
		"account class":    func(c *config.SchemaConfig) { c.AccountClass = "Ghost" },
		"avatar set field": func(c *config.SchemaConfig) { c.AvatarSetField = "Ghost" },
	}
	for label, mutate := range cases {
		t.Run(label, func(t *testing.T) {
			schemaCfg := testSchemaConfig()
			mutate(&schemaCfg)
			_, err := NewService(testGatewayConfig(), schemaCfg, config.ChannelConfig{Min: 1, Max: 2}, file, router, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

// The override fields carry gateway-side semantics and must exist on the
// avatar class; a schema lacking one is rejected at startup.
func TestNewService_RejectsMissingOverrideField(t *testing.T) {
	doc := `
classes:
  - name: Account
    fields:
      - name: AvatarSet
        type: blob
        keywords: [required, db]
  - name: Avatar
    fields:
      - name: Name
        type: string
        keywords: [required, db]
`
	file, err := schema.Parse([]byte(doc))
	require.NoError(t, err)
	router := bus.NewRouter(zap.NewNop())

	_, err = NewService(testGatewayConfig(), testSchemaConfig(), config.ChannelConfig{Min: 1, Max: 2}, file, router, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AvatarAppearance")
}

func TestService_NextContext(t *testing.T) {
	svc, _, _ := newTestService(t)

	first := svc.NextContext()
	second := svc.NextContext()
	assert.NotZero(t, first)
	assert.Equal(t, first+1, second)
}
