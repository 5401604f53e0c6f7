//go:build integration

package integration

import (
	"os"
	"path/filepath"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/broker"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/cache"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/ifw"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/infra"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/rule"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/usecase"
	"github.com/eliteGoblin/focusd/comp_ctl/test/fixtures"
)

const appPackage = "com.example.app"

// harness wires the real components against a FakeDevice and temp dirs.
type harness struct {
	tmpDir   string
	device   *fixtures.FakeDevice
	cache    *cache.EncryptedCache
	store    *ifw.Store
	pm       *controller.PMController
	client   *broker.Client
	registry *controller.Registry
	repo     *usecase.ComponentRepository
	engine   *rule.Engine
}

func installSampleApp(device *fixtures.FakeDevice) {
	device.Install(appPackage, "3.0.1", 301, map[string]domain.ComponentType{
		appPackage + ".MainActivity":  domain.ComponentActivity,
		appPackage + ".BootReceiver":  domain.ComponentReceiver,
		appPackage + ".SyncService":   domain.ComponentService,
		appPackage + ".AdService$Job": domain.ComponentService,
		appPackage + ".DataProvider":  domain.ComponentProvider,
	})
}

func newHarness(preferred domain.ControllerType) *harness {
	// Unix socket paths are length limited; keep the root short.
	tmpDir, err := os.MkdirTemp("", "cc-it")
	Expect(err).NotTo(HaveOccurred())

	logger := zap.NewNop()
	device := fixtures.NewFakeDevice()
	installSampleApp(device)

	componentCache, err := cache.Open(filepath.Join(tmpDir, "data"), 0)
	Expect(err).NotTo(HaveOccurred())

	granted := infra.StaticPrivilege(true)
	inspector := controller.NewDumpsysInspector(device, device, componentCache, 0, logger)
	pm := controller.NewPMController(device, granted, 0, logger)

	ifwRoot := filepath.Join(tmpDir, "ifw")
	Expect(os.MkdirAll(ifwRoot, 0755)).To(Succeed())
	store := ifw.NewStore(ifwRoot, filepath.Join(tmpDir, "locks"), infra.NewFileSystemManager(), granted, logger)
	ifwController := ifw.NewController(store, inspector, pm, logger)

	client := broker.NewClient(filepath.Join(tmpDir, "broker.sock"), logger)
	registry := controller.NewRegistry(preferred, pm, ifwController, broker.NewController(client, logger))

	return &harness{
		tmpDir:   tmpDir,
		device:   device,
		cache:    componentCache,
		store:    store,
		pm:       pm,
		client:   client,
		registry: registry,
		repo:     usecase.NewComponentRepository(registry, inspector, componentCache, logger),
		engine:   rule.NewEngine(registry, store, inspector, infra.NewFileSystemManager(), logger),
	}
}

func (h *harness) close() {
	_ = h.client.Close()
	_ = h.cache.Close()
	os.RemoveAll(h.tmpDir)
}

func (h *harness) socketPath() string {
	return filepath.Join(h.tmpDir, "broker.sock")
}

func component(name string) string {
	return appPackage + "." + name
}
