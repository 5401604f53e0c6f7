package ifw

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/infra"
)

// privilege is a test double for domain.PrivilegeChecker.
type privilege bool

func (p privilege) Check(ctx context.Context) error {
	if !p {
		return domain.ErrPrivilegeUnavailable
	}
	return nil
}

// mockInspector resolves component types from a fixed map.
type mockInspector struct {
	types map[string]domain.ComponentType
}

func (m *mockInspector) GetPackageInfo(ctx context.Context, pkg string) (*domain.PackageInfo, error) {
	return nil, domain.ErrPackageNotFound
}

func (m *mockInspector) GetComponentType(ctx context.Context, pkg, name string) (domain.ComponentType, error) {
	if t, ok := m.types[domain.FlattenName(pkg, name)]; ok {
		return t, nil
	}
	return "", domain.ErrComponentNotFound
}

func (m *mockInspector) IsInstalled(ctx context.Context, pkg string) bool { return true }

// recordingPM is a PM controller double that records calls.
type recordingPM struct {
	calls []string
}

func (r *recordingPM) Enable(ctx context.Context, pkg, name string) (bool, error) {
	r.calls = append(r.calls, "enable:"+domain.FlattenName(pkg, name))
	return true, nil
}

func (r *recordingPM) Disable(ctx context.Context, pkg, name string) (bool, error) {
	r.calls = append(r.calls, "disable:"+domain.FlattenName(pkg, name))
	return true, nil
}

func (r *recordingPM) CheckEnableState(ctx context.Context, pkg, name string) (bool, error) {
	return true, nil
}

func (r *recordingPM) BatchEnable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	return 0, nil
}

func (r *recordingPM) BatchDisable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	return 0, nil
}

func newTestStore(t *testing.T, granted bool) *Store {
	t.Helper()
	root := t.TempDir()
	return NewStore(root, "", infra.NewFileSystemManagerWithHome(root), privilege(granted), zap.NewNop())
}

// Ensure test doubles implement their interfaces.
var (
	_ domain.PackageInspector    = (*mockInspector)(nil)
	_ domain.ComponentController = (*recordingPM)(nil)
)
