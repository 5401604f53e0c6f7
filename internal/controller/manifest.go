package controller

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shogo82148/androidbinary"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// ManifestReader reads the manifest of an APK on the device.
type ManifestReader interface {
	ReadManifest(ctx context.Context, apkPath string) (*Manifest, error)
}

// Manifest is the part of AndroidManifest.xml that declares components.
type Manifest struct {
	Package string `xml:"package,attr"`
	UsesSdk struct {
		TargetSdk string `xml:"http://schemas.android.com/apk/res/android targetSdkVersion,attr"`
	} `xml:"uses-sdk"`
	Application struct {
		Activities []ManifestComponent `xml:"activity"`
		Aliases    []ManifestComponent `xml:"activity-alias"`
		Services   []ManifestComponent `xml:"service"`
		Receivers  []ManifestComponent `xml:"receiver"`
		Providers  []ManifestComponent `xml:"provider"`
	} `xml:"application"`
}

// ManifestComponent is one <activity>, <service>, <receiver> or <provider>.
type ManifestComponent struct {
	Name          string     `xml:"http://schemas.android.com/apk/res/android name,attr"`
	Exported      string     `xml:"http://schemas.android.com/apk/res/android exported,attr"`
	IntentFilters []struct{} `xml:"intent-filter"`
}

// Components resolves the declared components of packageName. Class names
// are relative to the manifest package; android:exported falls back to the
// platform default when absent.
func (m *Manifest) Components(packageName string) []domain.Component {
	base := m.Package
	if base == "" {
		base = packageName
	}
	targetSdk, _ := strconv.Atoi(m.UsesSdk.TargetSdk)

	groups := []struct {
		t     domain.ComponentType
		items []ManifestComponent
	}{
		{domain.ComponentActivity, m.Application.Activities},
		{domain.ComponentActivity, m.Application.Aliases},
		{domain.ComponentService, m.Application.Services},
		{domain.ComponentReceiver, m.Application.Receivers},
		{domain.ComponentProvider, m.Application.Providers},
	}

	var result []domain.Component
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, item := range g.items {
			name := resolveClassName(base, item.Name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			result = append(result, domain.Component{
				ComponentRef: domain.ComponentRef{PackageName: packageName, ComponentName: name, Type: g.t},
				Exported:     item.exported(g.t, targetSdk),
			})
		}
	}
	return result
}

func (c ManifestComponent) exported(t domain.ComponentType, targetSdk int) bool {
	switch c.Exported {
	case "true":
		return true
	case "false":
		return false
	}
	if t == domain.ComponentProvider {
		// Providers stopped being exported by default with API 17.
		return targetSdk > 0 && targetSdk < 17
	}
	return len(c.IntentFilters) > 0
}

// resolveClassName expands ".Foo" and "Foo" against the manifest package.
// Unresolved resource references are dropped.
func resolveClassName(base, name string) string {
	switch {
	case name == "" || strings.HasPrefix(name, "@"):
		return ""
	case strings.HasPrefix(name, "."):
		return base + name
	case !strings.Contains(name, "."):
		return base + "." + name
	}
	return name
}

// APKManifestReader decodes the binary AndroidManifest.xml inside an APK.
type APKManifestReader struct{}

// NewAPKManifestReader creates a reader for APKs on the local filesystem.
func NewAPKManifestReader() *APKManifestReader {
	return &APKManifestReader{}
}

// ReadManifest opens apkPath and decodes its manifest.
func (r *APKManifestReader) ReadManifest(ctx context.Context, apkPath string) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	zr, err := zip.OpenReader(apkPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", apkPath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "AndroidManifest.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest of %s: %w", apkPath, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest of %s: %w", apkPath, err)
		}
		return DecodeManifest(data)
	}
	return nil, fmt.Errorf("%s has no AndroidManifest.xml", apkPath)
}

// DecodeManifest decodes a compiled (binary XML) manifest.
func DecodeManifest(data []byte) (*Manifest, error) {
	xf, err := androidbinary.NewXMLFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	var m Manifest
	if err := xf.Decode(&m, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// Ensure APKManifestReader implements ManifestReader.
var _ ManifestReader = (*APKManifestReader)(nil)
