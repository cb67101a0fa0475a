package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/navgraph/internal/navgraph"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "navgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutPath(t *testing.T) {
	t.Setenv("NAVGRAPH_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
graph:
  layout:
    width: 64
    depth: 32
    node_size: 0.5
    center: {x: 10, y: 0, z: 5}
  settings:
    neighbours: 4
    erosion_iterations: 2
    sample_timeout: 1500ms
sampler:
  kind: flat
storage:
  backend: badger
  data_path: /var/lib/navgraph
sync:
  role: leader
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Graph.Layout.Width)
	assert.Equal(t, 0.5, cfg.Graph.Layout.NodeSize)
	assert.Equal(t, 10.0, cfg.Graph.Layout.Center.X)
	assert.Equal(t, navgraph.NeighboursFour, cfg.Graph.Settings.Neighbours)
	assert.Equal(t, 2, cfg.Graph.Settings.ErosionIterations)
	assert.Equal(t, 1500*time.Millisecond, cfg.Graph.Settings.SampleTimeout)
	assert.True(t, cfg.Graph.Settings.CutCorners, "незаданные поля сохраняют значения по умолчанию")
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "main", cfg.Storage.SnapshotName)
	assert.Equal(t, "leader", cfg.Sync.Role)
	assert.Equal(t, "memory", cfg.EventBus.Kind)
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "server:\n  rest_port: 9000\n")
	t.Setenv("NAVGRAPH_CONFIG", path)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.GetRESTPort())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"layout":     "graph:\n  layout:\n    width: 0\n",
		"neighbours": "graph:\n  settings:\n    neighbours: 5\n",
		"sampler":    "sampler:\n  kind: voxel\n",
		"storage":    "storage:\n  backend: mongo\n",
		"eventbus":   "eventbus:\n  kind: kafka\n",
		"sync":       "sync:\n  role: observer\n",
		"radius":     "sampler:\n  agent_radius: -1\n",
		"yaml":       "graph: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAgentRadiusDrivesCollisionDiameter(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
graph:
  layout: {width: 16, depth: 16, node_size: 0.5}
sampler:
  kind: flat
  agent_radius: 0.75
`))
	require.NoError(t, err)
	assert.True(t, cfg.Graph.Settings.Collision.Enabled)
	assert.InDelta(t, 3.0, cfg.Graph.Settings.Collision.Diameter, 1e-9)
}

func TestCollisionDiameterDrivesAgentRadius(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
graph:
  layout: {width: 16, depth: 16, node_size: 0.5}
  settings:
    collision: {enabled: true, diameter: 4}
`))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cfg.Sampler.AgentRadius, 1e-9)
	assert.InDelta(t, 4.0, cfg.Graph.Settings.Collision.Diameter, 1e-9)
}

func TestRESTPortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("NAVGRAPH_REST_PORT", "")
	assert.Equal(t, 8088, s.GetRESTPort())
	t.Setenv("NAVGRAPH_REST_PORT", "7000")
	assert.Equal(t, 7000, s.GetRESTPort())
	s.RESTPort = 6000
	assert.Equal(t, 6000, s.GetRESTPort())
}
