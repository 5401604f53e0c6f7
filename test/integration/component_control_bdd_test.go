//go:build integration

package integration

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/broker"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/controller"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/infra"
)

var _ = Describe("Component control", func() {
	var (
		h   *harness
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	AfterEach(func() {
		h.close()
	})

	Describe("with the IFW controller", func() {
		BeforeEach(func() {
			h = newHarness(domain.ControllerIFW)
		})

		It("should block a receiver with a firewall rule only", func() {
			ok, err := h.repo.ControlComponent(ctx, appPackage, component("BootReceiver"), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			Expect(h.store.Path(appPackage)).To(BeARegularFile())
			Expect(h.store.GetEnableState(ctx, appPackage, component("BootReceiver"))).To(BeFalse())
			Expect(h.device.Disabled(appPackage, component("BootReceiver"))).To(BeFalse())

			status, err := h.cache.Get(appPackage, component("BootReceiver"))
			Expect(err).NotTo(HaveOccurred())
			Expect(status).NotTo(BeNil())
			Expect(status.IFWBlocked).To(BeTrue())
			Expect(status.PMBlocked).To(BeFalse())
		})

		It("should clear both mechanisms when unblocking", func() {
			h.device.SetDisabled(appPackage, component("SyncService"), true)
			_, err := h.repo.ControlComponent(ctx, appPackage, component("SyncService"), false)
			Expect(err).NotTo(HaveOccurred())

			ok, err := h.repo.ControlComponent(ctx, appPackage, component("SyncService"), true)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			Expect(h.device.Disabled(appPackage, component("SyncService"))).To(BeFalse())
			Expect(h.store.Path(appPackage)).NotTo(BeAnExistingFile())

			status, err := h.repo.Status(ctx, appPackage, component("SyncService"))
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Reachable()).To(BeTrue())
		})

		It("should block a service that has no intent filter and no cache row", func() {
			h.device.Declare(appPackage, component("analytics.Tracker"), domain.ComponentService, false)

			ok, err := h.repo.ControlComponent(ctx, appPackage, component("analytics.Tracker"), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(h.store.GetEnableState(ctx, appPackage, component("analytics.Tracker"))).To(BeFalse())

			status, err := h.cache.Get(appPackage, component("analytics.Tracker"))
			Expect(err).NotTo(HaveOccurred())
			Expect(status).NotTo(BeNil())
			Expect(status.Ref.Type).To(Equal(domain.ComponentService))
			Expect(status.Exported).To(BeFalse())
		})

		It("should fall back to PM for providers", func() {
			ok, err := h.repo.ControlComponent(ctx, appPackage, component("DataProvider"), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			Expect(h.device.Disabled(appPackage, component("DataProvider"))).To(BeTrue())
			Expect(h.store.Path(appPackage)).NotTo(BeAnExistingFile())
		})

		It("should block every component of a batch", func() {
			refs := []domain.ComponentRef{
				{PackageName: appPackage, ComponentName: component("BootReceiver")},
				{PackageName: appPackage, ComponentName: component("SyncService")},
				{PackageName: appPackage, ComponentName: component("DataProvider")},
			}
			var reported []string
			n, err := h.repo.BatchControl(ctx, refs, false, func(s domain.ComponentStatus) {
				reported = append(reported, s.Ref.ComponentName)
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))
			Expect(reported).To(HaveLen(3))

			Expect(h.store.GetEnableState(ctx, appPackage, component("BootReceiver"))).To(BeFalse())
			Expect(h.store.GetEnableState(ctx, appPackage, component("SyncService"))).To(BeFalse())
			Expect(h.device.Disabled(appPackage, component("DataProvider"))).To(BeTrue())
		})
	})

	Describe("with the PM controller", func() {
		BeforeEach(func() {
			h = newHarness(domain.ControllerPM)
		})

		It("should disable components whose names need shell escaping", func() {
			ok, err := h.repo.ControlComponent(ctx, appPackage, component("AdService$Job"), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			Expect(h.device.Disabled(appPackage, component("AdService$Job"))).To(BeTrue())
			Expect(h.device.Commands()).To(ContainElement(`pm disable --user 0 com.example.app/com.example.app.AdService\$Job`))
			Expect(h.store.Path(appPackage)).NotTo(BeAnExistingFile())
		})

		It("should report a command failure without an error", func() {
			ok, err := h.repo.ControlComponent(ctx, appPackage, component("Missing"), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("RefreshPackage", func() {
		BeforeEach(func() {
			h = newHarness(domain.ControllerIFW)
		})

		It("should discover and cache every declared component", func() {
			h.device.SetDisabled(appPackage, component("MainActivity"), true)

			statuses, err := h.repo.RefreshPackage(ctx, appPackage)
			Expect(err).NotTo(HaveOccurred())
			Expect(statuses).To(HaveLen(5))

			cached, err := h.repo.Cached(appPackage)
			Expect(err).NotTo(HaveOccurred())
			Expect(cached).To(HaveLen(5))

			status, err := h.cache.Get(appPackage, component("MainActivity"))
			Expect(err).NotTo(HaveOccurred())
			Expect(status.PMBlocked).To(BeTrue())
			Expect(status.Ref.Type).To(Equal(domain.ComponentActivity))
		})

		It("should drop cached rows of an uninstalled package", func() {
			_, err := h.repo.RefreshPackage(ctx, appPackage)
			Expect(err).NotTo(HaveOccurred())

			h.device.Uninstall(appPackage)
			_, err = h.repo.RefreshPackage(ctx, appPackage)
			Expect(err).To(MatchError(domain.ErrPackageNotFound))

			cached, err := h.repo.Cached(appPackage)
			Expect(err).NotTo(HaveOccurred())
			Expect(cached).To(BeEmpty())
		})
	})

	Describe("with the broker controller", func() {
		var stop context.CancelFunc

		BeforeEach(func() {
			h = newHarness(domain.ControllerShizuku)
		})

		AfterEach(func() {
			if stop != nil {
				stop()
				stop = nil
			}
		})

		startBroker := func() {
			pm := controller.NewPMController(h.device, infra.StaticPrivilege(true), 0, zap.NewNop())
			server := broker.NewServer(pm, "test", zap.NewNop())
			listener, err := server.Listen(h.socketPath())
			Expect(err).NotTo(HaveOccurred())

			var serveCtx context.Context
			serveCtx, stop = context.WithCancel(context.Background())
			go func() {
				defer GinkgoRecover()
				_ = server.ServeListener(serveCtx, listener)
			}()
		}

		It("should apply changes through the broker", func() {
			startBroker()

			ok, err := h.repo.ControlComponent(ctx, appPackage, component("SyncService"), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(h.device.Disabled(appPackage, component("SyncService"))).To(BeTrue())

			status, err := h.repo.Status(ctx, appPackage, component("SyncService"))
			Expect(err).NotTo(HaveOccurred())
			Expect(status.PMBlocked).To(BeTrue())
			Expect(status.IFWBlocked).To(BeFalse())
		})

		It("should report missing privilege when no broker listens", func() {
			Expect(filepath.Join(h.tmpDir, "broker.sock")).NotTo(BeAnExistingFile())

			_, err := h.repo.ControlComponent(ctx, appPackage, component("SyncService"), false)
			Expect(err).To(MatchError(domain.ErrPrivilegeUnavailable))
			Expect(h.device.Disabled(appPackage, component("SyncService"))).To(BeFalse())
		})
	})
})
