package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// device models the blocked state both mechanisms hold for components.
type device struct {
	mu         sync.Mutex
	pmDisabled map[string]bool
	ifwBlocked map[string]bool
	calls      []string
}

func newDevice() *device {
	return &device{pmDisabled: make(map[string]bool), ifwBlocked: make(map[string]bool)}
}

func (d *device) record(call string) {
	d.calls = append(d.calls, call)
}

func (d *device) history() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// backend is a controller double over one of the device's state maps.
type backend struct {
	name    string
	dev     *device
	state   func(d *device) map[string]bool
	err     error
	unknown bool
}

func (b *backend) toggle(ctx context.Context, op, pkg, comp string, blocked bool) (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	key := domain.FlattenName(pkg, comp)
	b.dev.record(b.name + ":" + op + ":" + key)
	if blocked {
		b.state(b.dev)[key] = true
	} else {
		delete(b.state(b.dev), key)
	}
	return true, nil
}

func (b *backend) Enable(ctx context.Context, pkg, comp string) (bool, error) {
	return b.toggle(ctx, "enable", pkg, comp, false)
}

func (b *backend) Disable(ctx context.Context, pkg, comp string) (bool, error) {
	return b.toggle(ctx, "disable", pkg, comp, true)
}

func (b *backend) CheckEnableState(ctx context.Context, pkg, comp string) (bool, error) {
	if b.err != nil {
		return false, b.err
	}
	if b.unknown {
		return false, domain.ErrStateUnknown
	}
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	return !b.state(b.dev)[domain.FlattenName(pkg, comp)], nil
}

func (b *backend) batch(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc, fn func(context.Context, string, string) (bool, error)) (int, error) {
	if b.err != nil {
		return 0, b.err
	}
	n := 0
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := fn(ctx, ref.PackageName, ref.ComponentName)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
		if progress != nil {
			progress(ref)
		}
	}
	return n, nil
}

func (b *backend) BatchEnable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	return b.batch(ctx, refs, progress, b.Enable)
}

func (b *backend) BatchDisable(ctx context.Context, refs []domain.ComponentRef, progress domain.ProgressFunc) (int, error) {
	return b.batch(ctx, refs, progress, b.Disable)
}

func pmBackend(name string, d *device) *backend {
	return &backend{name: name, dev: d, state: func(d *device) map[string]bool { return d.pmDisabled }}
}

func ifwBackend(d *device) *backend {
	return &backend{name: "ifw", dev: d, state: func(d *device) map[string]bool { return d.ifwBlocked }}
}

// mockCache is an in-memory domain.ComponentCache.
type mockCache struct {
	mu   sync.Mutex
	rows map[string]domain.ComponentStatus
	err  error
}

func newMockCache() *mockCache {
	return &mockCache{rows: make(map[string]domain.ComponentStatus)}
}

func (m *mockCache) Get(pkg, comp string) (*domain.ComponentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.rows[domain.FlattenName(pkg, comp)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockCache) Upsert(s domain.ComponentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows[s.Ref.FlattenedName()] = s
	return nil
}

func (m *mockCache) ListByPackage(pkg string) ([]domain.ComponentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ComponentStatus
	for _, s := range m.rows {
		if s.Ref.PackageName == pkg {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.ComponentName < out[j].Ref.ComponentName })
	return out, nil
}

func (m *mockCache) Search(keyword string) ([]domain.ComponentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ComponentStatus
	for k, s := range m.rows {
		if strings.Contains(k, keyword) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockCache) DeleteByPackage(pkg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.rows {
		if s.Ref.PackageName == pkg {
			delete(m.rows, k)
		}
	}
	return nil
}

func (m *mockCache) Close() error { return nil }

// mockInspector serves fixed package infos.
type mockInspector struct {
	packages map[string]*domain.PackageInfo
}

func (m *mockInspector) GetPackageInfo(ctx context.Context, pkg string) (*domain.PackageInfo, error) {
	info, ok := m.packages[pkg]
	if !ok {
		return nil, domain.ErrPackageNotFound
	}
	return info, nil
}

func (m *mockInspector) GetComponentType(ctx context.Context, pkg, comp string) (domain.ComponentType, error) {
	if info, ok := m.packages[pkg]; ok {
		for _, c := range info.Components {
			if c.ComponentName == comp {
				return c.Type, nil
			}
		}
	}
	return "", domain.ErrComponentNotFound
}

func (m *mockInspector) IsInstalled(ctx context.Context, pkg string) bool {
	_, ok := m.packages[pkg]
	return ok
}

var errBoom = errors.New("boom")

// samplePackage declares one component of each type.
func samplePackage() *domain.PackageInfo {
	return &domain.PackageInfo{
		PackageName: "com.app",
		VersionName: "1.0",
		VersionCode: 1,
		Components: []domain.Component{
			{ComponentRef: domain.ComponentRef{PackageName: "com.app", ComponentName: "com.app.Main", Type: domain.ComponentActivity}, Exported: true},
			{ComponentRef: domain.ComponentRef{PackageName: "com.app", ComponentName: "com.app.Boot", Type: domain.ComponentReceiver}},
			{ComponentRef: domain.ComponentRef{PackageName: "com.app", ComponentName: "com.app.Sync", Type: domain.ComponentService}},
			{ComponentRef: domain.ComponentRef{PackageName: "com.app", ComponentName: "com.app.Data", Type: domain.ComponentProvider}},
		},
	}
}

// Ensure test doubles implement their interfaces.
var (
	_ domain.ComponentController = (*backend)(nil)
	_ domain.ComponentCache      = (*mockCache)(nil)
	_ domain.PackageInspector    = (*mockInspector)(nil)
)
