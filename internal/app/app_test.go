package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"content-system-go/internal/config"
	"content-system-go/internal/fetcher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			MySQL:  config.MySQLConfig{DSN: filepath.Join(dir, "test.db")},
		},
		Cache:    config.CacheConfig{Dir: dir},
		JWT:      config.JWTConfig{Disabled: true},
		Sync:     config.SyncConfig{Mode: "download", BaseDir: dir, Branch: "main", TreeInterval: time.Hour, JiraStatusInterval: time.Hour},
		Products: []config.ProductSeed{{Slug: "juju", Name: "Juju"}},
	}
}

func TestNewWiresDegradedDependencies(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	assert.Equal(t, "file", a.Cache.Kind())
	assert.Nil(t, a.JWT)
	assert.False(t, a.jiraEnabled)
	_, ok := a.Fetcher.(*fetcher.Downloader)
	assert.True(t, ok)
	assert.Equal(t, []string{"download-workers"}, a.Supervisor.Running())

	products, err := a.Pages.ListProducts()
	require.NoError(t, err)
	require.Len(t, products, 1)

	require.NoError(t, a.Close(time.Second))
	assert.Empty(t, a.Supervisor.Running())
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "postgres"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStartJobsSkipsJiraWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Mode = "clone"
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)

	a.StartJobs()
	assert.Equal(t, []string{"load-site-trees"}, a.Supervisor.Running())
	require.NoError(t, a.Close(time.Second))
}
