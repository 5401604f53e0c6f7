//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
	"github.com/eliteGoblin/focusd/comp_ctl/internal/rule"
)

var _ = Describe("Rule files", func() {
	var (
		h      *harness
		ctx    context.Context
		outDir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(domain.ControllerIFW)
		outDir = filepath.Join(h.tmpDir, "rules")
		Expect(os.MkdirAll(outDir, 0755)).To(Succeed())
	})

	AfterEach(func() {
		h.close()
	})

	Describe("Export then import", func() {
		It("should restore the exported state", func() {
			_, err := h.repo.ControlComponent(ctx, appPackage, component("BootReceiver"), false)
			Expect(err).NotTo(HaveOccurred())
			h.device.SetDisabled(appPackage, component("MainActivity"), true)

			path, err := h.engine.ExportTo(ctx, appPackage, outDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal(filepath.Join(outDir, appPackage+".json")))

			// Undo everything.
			_, err = h.engine.ResetIfw(ctx)
			Expect(err).NotTo(HaveOccurred())
			h.device.SetDisabled(appPackage, component("MainActivity"), false)
			Expect(h.store.GetEnableState(ctx, appPackage, component("BootReceiver"))).To(BeTrue())

			f, err := os.Open(path)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()
			rf, err := rule.Decode(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(rf.VersionName).To(Equal("3.0.1"))
			Expect(rf.VersionCode).To(Equal(int64(301)))
			// Four filterable components get two rules, the provider one.
			Expect(rf.Components).To(HaveLen(9))

			ok, err := h.engine.Import(ctx, rf)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			Expect(h.store.GetEnableState(ctx, appPackage, component("BootReceiver"))).To(BeFalse())
			Expect(h.device.Disabled(appPackage, component("MainActivity"))).To(BeTrue())
			Expect(h.device.Disabled(appPackage, component("BootReceiver"))).To(BeFalse())
		})

		It("should include components that only the manifest declares", func() {
			h.device.Declare(appPackage, component("analytics.Tracker"), domain.ComponentService, false)
			h.device.SetDisabled(appPackage, component("analytics.Tracker"), true)

			path, err := h.engine.ExportTo(ctx, appPackage, outDir)
			Expect(err).NotTo(HaveOccurred())

			f, err := os.Open(path)
			Expect(err).NotTo(HaveOccurred())
			defer f.Close()
			rf, err := rule.Decode(f)
			Expect(err).NotTo(HaveOccurred())
			Expect(rf.Components).To(HaveLen(11))
			Expect(rf.Components).To(ContainElement(domain.ComponentRule{
				PackageName: appPackage,
				Name:        component("analytics.Tracker"),
				State:       false,
				Type:        domain.ComponentService,
				Method:      domain.MethodPM,
			}))
		})
	})

	Describe("ImportAll", func() {
		It("should skip files of packages that are not installed", func() {
			Expect(os.WriteFile(filepath.Join(outDir, "com.gone.json"),
				[]byte(`{"packageName":"com.gone","components":[{"packageName":"com.gone","name":"com.gone.X","state":false,"type":"ACTIVITY","method":"PM"}]}`), 0644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(outDir, appPackage+".json"),
				[]byte(`{"packageName":"com.example.app","components":[{"packageName":"com.example.app","name":"com.example.app.SyncService","state":false,"type":"SERVICE","method":"IFW"}]}`), 0644)).To(Succeed())

			n, err := h.engine.ImportAll(ctx, outDir, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(h.store.GetEnableState(ctx, appPackage, component("SyncService"))).To(BeFalse())
		})
	})

	Describe("IFW directory round trip", func() {
		It("should copy, reset and re-import firewall documents", func() {
			_, err := h.repo.ControlComponent(ctx, appPackage, component("SyncService"), false)
			Expect(err).NotTo(HaveOccurred())

			n, err := h.engine.ExportIfwDir(ctx, outDir, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			removed, err := h.engine.ResetIfw(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(Equal(1))
			Expect(h.store.Path(appPackage)).NotTo(BeAnExistingFile())

			n, err = h.engine.ImportIfwDir(ctx, outDir, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
			Expect(h.store.GetEnableState(ctx, appPackage, component("SyncService"))).To(BeFalse())
		})
	})
})
