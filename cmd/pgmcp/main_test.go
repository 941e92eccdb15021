package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/pgmcp/internal/config"
	"github.com/xscopehub/pgmcp/internal/gateway"
	"github.com/xscopehub/pgmcp/internal/gateway/gatewaytest"
	"github.com/xscopehub/pgmcp/internal/registry"
	"github.com/xscopehub/pgmcp/internal/types"
	"github.com/xscopehub/pgmcp/pkg/manifest"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "pgmcp "+manifest.Version))
}

func TestBuildRegistry(t *testing.T) {
	cfg := config.Config{Fetch: config.FetchConfig{Enabled: true}}
	gw := gateway.New(&gatewaytest.Conn{}, gateway.Options{})

	reg, err := buildRegistry(cfg, gw, "postgres://db/app", nil, nil, nil)
	require.NoError(t, err)

	for _, method := range []string{"resources/list", "resources/read", "query", "get_recent_flow_instance_errors"} {
		_, ok := reg.Lookup(method)
		assert.True(t, ok, method)
	}
	tools := reg.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "get_recent_flow_instance_errors", tools[0].Name)
	assert.Equal(t, "query", tools[1].Name)

	err = reg.RegisterResource("late", func(ctx context.Context, _ map[string]any) (types.Envelope, error) {
		return types.ResourceList(nil), nil
	})
	assert.ErrorIs(t, err, registry.ErrRegistrySealed)
}

func TestBuildRegistryWithoutFetch(t *testing.T) {
	gw := gateway.New(&gatewaytest.Conn{}, gateway.Options{})

	reg, err := buildRegistry(config.Config{}, gw, "postgres://db/app", nil, nil, nil)
	require.NoError(t, err)
	_, ok := reg.Tool("get_recent_flow_instance_errors")
	assert.False(t, ok)
}

func TestLoadManifestOverrides(t *testing.T) {
	mf, err := loadManifest(config.ServerConfig{Name: "orders", Version: "9.9.9"})
	require.NoError(t, err)
	assert.Equal(t, manifest.Info{Name: "orders", Version: "9.9.9"}, mf.Info())
}
