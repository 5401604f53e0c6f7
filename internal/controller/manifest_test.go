package controller

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

func TestManifest_Components(t *testing.T) {
	components := parseSampleManifest(t).Components("com.example")

	byName := make(map[string]domain.Component)
	for _, c := range components {
		byName[c.ComponentName] = c
	}
	require.Len(t, byName, 6)

	tracker := byName["com.example.analytics.Tracker"]
	assert.Equal(t, domain.ComponentService, tracker.Type)
	assert.Equal(t, "com.example", tracker.PackageName)
	assert.False(t, tracker.Exported)

	assert.True(t, byName["com.example.MainActivity"].Exported)
	assert.Equal(t, domain.ComponentActivity, byName["com.example.SettingsActivity"].Type)
	assert.False(t, byName["com.example.sync.SyncService$Inner"].Exported, "explicit exported=false wins over the filter")
	assert.Equal(t, domain.ComponentProvider, byName["com.example.data.DataProvider"].Type)
}

func TestManifest_ComponentsExportedDefaults(t *testing.T) {
	tests := []struct {
		name      string
		t         domain.ComponentType
		c         ManifestComponent
		targetSdk int
		want      bool
	}{
		{"filter implies exported", domain.ComponentReceiver, ManifestComponent{IntentFilters: []struct{}{{}}}, 34, true},
		{"no filter", domain.ComponentService, ManifestComponent{}, 34, false},
		{"explicit true", domain.ComponentService, ManifestComponent{Exported: "true"}, 34, true},
		{"old provider", domain.ComponentProvider, ManifestComponent{}, 16, true},
		{"new provider", domain.ComponentProvider, ManifestComponent{}, 17, false},
		{"unknown sdk provider", domain.ComponentProvider, ManifestComponent{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.exported(tt.t, tt.targetSdk))
		})
	}
}

func TestResolveClassName(t *testing.T) {
	assert.Equal(t, "com.example.Main", resolveClassName("com.example", ".Main"))
	assert.Equal(t, "com.example.Main", resolveClassName("com.example", "Main"))
	assert.Equal(t, "org.lib.Worker", resolveClassName("com.example", "org.lib.Worker"))
	assert.Empty(t, resolveClassName("com.example", "@0x7f0a0001"))
	assert.Empty(t, resolveClassName("com.example", ""))
}

func TestManifest_ComponentsUsesManifestPackageForRelativeNames(t *testing.T) {
	m := &Manifest{Package: "com.example.core"}
	m.Application.Services = []ManifestComponent{{Name: ".Worker"}}

	components := m.Components("com.example")
	require.Len(t, components, 1)
	assert.Equal(t, "com.example", components[0].PackageName)
	assert.Equal(t, "com.example.core.Worker", components[0].ComponentName)
}

func TestDecodeManifest_Truncated(t *testing.T) {
	_, err := DecodeManifest([]byte{0x03, 0x00})
	assert.Error(t, err)
}

func TestAPKManifestReader_Errors(t *testing.T) {
	dir := t.TempDir()
	reader := NewAPKManifestReader()

	_, err := reader.ReadManifest(context.Background(), filepath.Join(dir, "missing.apk"))
	assert.Error(t, err)

	apk := filepath.Join(dir, "empty.apk")
	f, err := os.Create(apk)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("classes.dex")
	require.NoError(t, err)
	_, err = w.Write([]byte("dex"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = reader.ReadManifest(context.Background(), apk)
	assert.ErrorContains(t, err, "no AndroidManifest.xml")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = reader.ReadManifest(ctx, apk)
	assert.ErrorIs(t, err, context.Canceled)
}
