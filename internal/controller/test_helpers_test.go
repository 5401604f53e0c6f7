package controller

import (
	"context"
	"encoding/xml"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// mockExecutor is a test double for domain.CommandExecutor.
// Results are matched by exact command, then by prefix.
type mockExecutor struct {
	mu       sync.Mutex
	exact    map[string]*domain.CommandResult
	prefix   map[string]*domain.CommandResult
	err      error
	commands []string
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{
		exact:  make(map[string]*domain.CommandResult),
		prefix: make(map[string]*domain.CommandResult),
	}
}

func (m *mockExecutor) on(command string, r *domain.CommandResult) *mockExecutor {
	m.exact[command] = r
	return m
}

func (m *mockExecutor) onPrefix(prefix string, r *domain.CommandResult) *mockExecutor {
	m.prefix[prefix] = r
	return m
}

func (m *mockExecutor) Exec(ctx context.Context, command string) (*domain.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, command)
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.exact[command]; ok {
		return r, nil
	}
	for p, r := range m.prefix {
		if strings.HasPrefix(command, p) {
			return r, nil
		}
	}
	return &domain.CommandResult{ExitCode: 1, Stderr: "unexpected command"}, nil
}

func (m *mockExecutor) history() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// privilege is a test double for domain.PrivilegeChecker.
type privilege bool

func (p privilege) Check(ctx context.Context) error {
	if !p {
		return domain.ErrPrivilegeUnavailable
	}
	return nil
}

// mockController is a test double for domain.ComponentController
// that tracks enabled state in memory.
type mockController struct {
	name     string
	disabled map[string]bool
	fail     bool
	err      error
	calls    *[]string
}

func newMockController(name string, calls *[]string) *mockController {
	return &mockController{name: name, disabled: make(map[string]bool), calls: calls}
}

func (m *mockController) record(op, pkg, comp string) {
	if m.calls != nil {
		*m.calls = append(*m.calls, m.name+":"+op+":"+domain.FlattenName(pkg, comp))
	}
}

func (m *mockController) Enable(ctx context.Context, pkg, comp string) (bool, error) {
	m.record("enable", pkg, comp)
	if m.err != nil {
		return false, m.err
	}
	if m.fail {
		return false, nil
	}
	delete(m.disabled, domain.FlattenName(pkg, comp))
	return true, nil
}

func (m *mockController) Disable(ctx context.Context, pkg, comp string) (bool, error) {
	m.record("disable", pkg, comp)
	if m.err != nil {
		return false, m.err
	}
	if m.fail {
		return false, nil
	}
	m.disabled[domain.FlattenName(pkg, comp)] = true
	return true, nil
}

func (m *mockController) CheckEnableState(ctx context.Context, pkg, comp string) (bool, error) {
	return !m.disabled[domain.FlattenName(pkg, comp)], nil
}

func (m *mockController) BatchEnable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	return RunBatch(ctx, refs, func(ctx context.Context, r domain.ComponentRef) (bool, error) {
		return m.Enable(ctx, r.PackageName, r.ComponentName)
	}, progress)
}

func (m *mockController) BatchDisable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	return RunBatch(ctx, refs, func(ctx context.Context, r domain.ComponentRef) (bool, error) {
		return m.Disable(ctx, r.PackageName, r.ComponentName)
	}, progress)
}

// mockProcessManager is a test double for domain.ProcessManager.
type mockProcessManager struct {
	names []string
	err   error
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) { return nil, nil }
func (m *mockProcessManager) IsRunning(pid int) bool { return false }
func (m *mockProcessManager) Names() ([]string, error) { return m.names, m.err }

// mockCache is a minimal in-memory domain.ComponentCache.
type mockCache struct {
	rows map[string]domain.ComponentStatus
}

func newMockCache() *mockCache {
	return &mockCache{rows: make(map[string]domain.ComponentStatus)}
}

func (m *mockCache) Get(pkg, comp string) (*domain.ComponentStatus, error) {
	if s, ok := m.rows[domain.FlattenName(pkg, comp)]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *mockCache) Upsert(s domain.ComponentStatus) error {
	m.rows[s.Ref.FlattenedName()] = s
	return nil
}

func (m *mockCache) ListByPackage(pkg string) ([]domain.ComponentStatus, error) { return nil, nil }
func (m *mockCache) Search(keyword string) ([]domain.ComponentStatus, error) { return nil, nil }
func (m *mockCache) DeleteByPackage(pkg string) error { return nil }
func (m *mockCache) Close() error { return nil }

// mockManifests is a test double for ManifestReader keyed by APK path.
type mockManifests struct {
	manifests map[string]*Manifest
	err       error
}

func (m *mockManifests) ReadManifest(ctx context.Context, apkPath string) (*Manifest, error) {
	if m.err != nil {
		return nil, m.err
	}
	if mf, ok := m.manifests[apkPath]; ok {
		return mf, nil
	}
	return nil, errors.New("no such apk: " + apkPath)
}

// sampleManifest matches samplePackageDump. Tracker has no intent filter
// and DataProvider opts out of being exported.
const sampleManifest = `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example">
  <uses-sdk android:minSdkVersion="24" android:targetSdkVersion="34"/>
  <application android:label="Example">
    <activity android:name=".MainActivity">
      <intent-filter>
        <action android:name="android.intent.action.MAIN"/>
      </intent-filter>
    </activity>
    <activity android:name="SettingsActivity"/>
    <service android:name=".sync.SyncService$Inner" android:exported="false">
      <intent-filter>
        <action android:name="com.example.SYNC"/>
      </intent-filter>
    </service>
    <service android:name="com.example.analytics.Tracker"/>
    <receiver android:name="com.example.push.BootReceiver">
      <intent-filter>
        <action android:name="android.intent.action.BOOT_COMPLETED"/>
      </intent-filter>
    </receiver>
    <provider android:name=".data.DataProvider" android:authorities="com.example.data" android:exported="false"/>
  </application>
</manifest>
`

func parseSampleManifest(t *testing.T) *Manifest {
	t.Helper()
	var m Manifest
	require.NoError(t, xml.Unmarshal([]byte(sampleManifest), &m))
	return &m
}

var errBoom = errors.New("boom")

// Ensure test doubles implement their interfaces.
var (
	_ domain.CommandExecutor     = (*mockExecutor)(nil)
	_ domain.ComponentController = (*mockController)(nil)
	_ domain.ProcessManager      = (*mockProcessManager)(nil)
	_ domain.ComponentCache      = (*mockCache)(nil)
	_ ManifestReader             = (*mockManifests)(nil)
)

const samplePackageDump = `Activity Resolver Table:
  Non-Data Actions:
      android.intent.action.MAIN:
        1e3c1a9 com.example/.MainActivity filter 8d2b3ae
          Action: "android.intent.action.MAIN"

Receiver Resolver Table:
  Non-Data Actions:
      android.intent.action.BOOT_COMPLETED:
        77a01f2 com.example/com.example.push.BootReceiver filter 3c1d2e0

Service Resolver Table:
  Non-Data Actions:
      com.example.SYNC:
        5b6f0aa com.example/.sync.SyncService$Inner filter 1f0e9d8

Registered ContentProviders:
  com.example/.data.DataProvider:
    Provider{c0ffee0 com.example/.data.DataProvider}

ContentProvider Authorities:
  [com.example.data]:
    Provider{c0ffee0 com.example/.data.DataProvider}

Packages:
  Package [com.example] (a1b2c3d):
    userId=10123
    pkg=Package{a1b2c3d com.example}
    versionCode=42 minSdk=24 targetSdk=34
    versionName=1.4.2
    User 0: ceDataInode=1234 installed=true hidden=false suspended=false
      gids=[3003]
      disabledComponents:
        com.example.MainActivity
        com.example.analytics.Tracker
      enabledComponents:
        com.example.push.BootReceiver
    User 10: ceDataInode=5678 installed=true hidden=false suspended=false
      disabledComponents:
        com.example.sync.SyncService$Inner

Hidden system packages:
  Package [com.example] (ffff):
    versionCode=1
`
