//go:build integration

package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/daemon"
	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/infra"
	"github.com/eliteGoblin/zayproxy/internal/usecase"
	"github.com/eliteGoblin/zayproxy/test/fixtures"
)

type observedChanges struct {
	mu      sync.Mutex
	changes []domain.StateChange
}

func (o *observedChanges) OnStateChange(c domain.StateChange) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, c)
}

func (o *observedChanges) reasons() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.changes))
	for i, c := range o.changes {
		out[i] = c.Reason
	}
	return out
}

var _ = Describe("Proxy reconciliation on macOS", func() {
	var (
		ctx       context.Context
		tmpDir    string
		store     *infra.FileStore
		network   *fixtures.FakeNetworkSetup
		profiles  *usecase.ProfileRegistry
		orch      *usecase.Orchestrator
		observer  *observedChanges
		corporate domain.Profile
		home      domain.Profile
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "zayproxy-integration-*")
		Expect(err).NotTo(HaveOccurred())

		store, err = infra.NewFileStore(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		network = fixtures.NewFakeNetworkSetup("Wi-Fi", "Ethernet")
		adapter := infra.NewProxyAdapter("darwin", network, time.Second, logger)

		profiles = usecase.NewProfileRegistry(store, logger)
		orch = usecase.NewOrchestrator(store, profiles, adapter, logger)
		observer = &observedChanges{}
		orch.Subscribe(observer)

		corporate, err = profiles.Add(domain.Profile{
			Name: "Corporate", Type: domain.ProfileHTTP, Host: "10.0.0.1", Port: 8080,
			BypassList: []string{"localhost", "*.local"},
		})
		Expect(err).NotTo(HaveOccurred())
		home, err = profiles.Add(domain.Profile{
			Name: "Home", Type: domain.ProfileSOCKS5, Host: "127.0.0.1", Port: 1080,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	Context("when the user enables the proxy", func() {
		It("configures every network service and persists the state", func() {
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())

			result, err := orch.Enable(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(domain.OutcomeApplied))

			for _, svc := range []string{"Wi-Fi", "Ethernet"} {
				state := network.Service(svc)
				Expect(state.Web).To(Equal(fixtures.ProxySetting{Enabled: true, Server: "10.0.0.1", Port: 8080}))
				Expect(state.Secure.Enabled).To(BeTrue())
				Expect(state.Bypass).To(Equal([]string{"localhost", "*.local"}))
			}

			st, err := orch.State()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Enabled).To(BeTrue())
			Expect(st.ActiveProfileID()).To(Equal(corporate.ID))
			Expect(observer.reasons()).To(Equal([]string{"switch", "enable"}))
		})

		It("survives reopening the store", func() {
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Enable(ctx)
			Expect(err).NotTo(HaveOccurred())

			reopened, err := infra.NewFileStore(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			defer reopened.Close()

			var enabled bool
			found, err := reopened.Get(domain.KeyEnabled, &enabled)
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(enabled).To(BeTrue())
		})
	})

	Context("when one network service rejects the settings", func() {
		It("stays enabled with a partial result", func() {
			network.FailService("Ethernet")
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())

			result, err := orch.Enable(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(domain.OutcomePartiallyApplied))
			Expect(network.Service("Wi-Fi").Web.Enabled).To(BeTrue())

			st, _ := orch.State()
			Expect(st.Enabled).To(BeTrue())
		})
	})

	Context("when every network service rejects the settings", func() {
		It("reports failure and leaves the proxy disabled", func() {
			network.FailService("Wi-Fi")
			network.FailService("Ethernet")
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.Enable(ctx)
			var failed *domain.ApplyFailedError
			Expect(errors.As(err, &failed)).To(BeTrue())
			Expect(failed.Result.Outcome).To(Equal(domain.OutcomeFailed))

			st, _ := orch.State()
			Expect(st.Enabled).To(BeFalse())
			Expect(st.ActiveProfileID()).To(Equal(corporate.ID))
		})
	})

	Context("when switching profiles while enabled", func() {
		It("turns the old proxy off before applying the new one", func() {
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Enable(ctx)
			Expect(err).NotTo(HaveOccurred())

			result, err := orch.SwitchProfile(ctx, home.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(domain.OutcomeApplied))

			wifi := network.Service("Wi-Fi")
			Expect(wifi.Web.Enabled).To(BeFalse())
			Expect(wifi.Socks).To(Equal(fixtures.ProxySetting{Enabled: true, Server: "127.0.0.1", Port: 1080}))

			st, _ := orch.State()
			Expect(st.Enabled).To(BeTrue())
			Expect(st.ActiveProfileID()).To(Equal(home.ID))
		})
	})

	Context("when the active profile is deleted while enabled", func() {
		It("turns the system proxy off and clears the state", func() {
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Enable(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(orch.DeleteProfile(ctx, corporate.ID)).To(Succeed())

			Expect(network.Service("Wi-Fi").Web.Enabled).To(BeFalse())
			st, _ := orch.State()
			Expect(st.Enabled).To(BeFalse())
			Expect(st.ActiveProfile).To(BeNil())
		})
	})

	Context("when something else changes the system proxy", func() {
		BeforeEach(func() {
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Enable(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("does nothing while the settings still match", func() {
			result, err := orch.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
		})

		It("re-applies the active profile on reconcile", func() {
			network.TurnOffWebProxy("Wi-Fi")

			result, err := orch.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).NotTo(BeNil())
			Expect(network.Service("Wi-Fi").Web.Enabled).To(BeTrue())
			Expect(observer.reasons()).To(ContainElement("reconcile"))
		})

		It("is repaired by the drift watcher", func() {
			var mu sync.Mutex
			config := daemon.DefaultWatcherConfig()
			config.ReconcileInterval = 20 * time.Millisecond
			watcher := daemon.NewWatcher(config, orch, nil, nil, &mu, zap.NewNop())

			watchCtx, cancel := context.WithCancel(ctx)
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = watcher.Run(watchCtx)
			}()
			DeferCleanup(func() {
				cancel()
				<-done
			})

			network.TurnOffWebProxy("Wi-Fi")
			Eventually(func() bool {
				return network.Service("Wi-Fi").Web.Enabled
			}, 2*time.Second, 20*time.Millisecond).Should(BeTrue())
		})
	})

	Context("when the proxy is disabled", func() {
		It("turns every category off and never reconciles", func() {
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Enable(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.Disable(ctx)
			Expect(err).NotTo(HaveOccurred())
			for _, svc := range []string{"Wi-Fi", "Ethernet"} {
				state := network.Service(svc)
				Expect(state.Web.Enabled).To(BeFalse())
				Expect(state.Secure.Enabled).To(BeFalse())
				Expect(state.Socks.Enabled).To(BeFalse())
				Expect(state.Auto.Enabled).To(BeFalse())
			}

			before := len(network.Calls())
			result, err := orch.Reconcile(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeNil())
			Expect(network.Calls()).To(HaveLen(before))
		})
	})

	Context("when a configuration is imported", func() {
		It("keeps a restorable backup of the previous configuration", func() {
			backups := infra.NewBackupManager(tmpDir, zap.NewNop())
			transfer := usecase.NewConfigTransfer(store, backups, orch, zap.NewNop())

			replacement := []domain.Profile{{
				ID: "imported", Name: "Imported", Type: domain.ProfileHTTP, Host: "proxy.example.com", Port: 3128,
			}}
			Expect(transfer.Import(ctx, domain.ConfigDocument{Profiles: &replacement})).To(Succeed())

			list, err := profiles.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))

			snapshots, err := backups.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(snapshots).To(HaveLen(1))
			Expect(filepath.Dir(snapshots[0].Path)).To(Equal(filepath.Join(tmpDir, "backups")))

			Expect(transfer.Restore(ctx, "")).To(Succeed())
			list, err = profiles.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
		})

		It("turns the system proxy off before replacing the applied profile", func() {
			_, err := orch.SwitchProfile(ctx, corporate.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Enable(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(network.Service("Wi-Fi").Web.Enabled).To(BeTrue())

			transfer := usecase.NewConfigTransfer(store, nil, orch, zap.NewNop())
			Expect(transfer.Import(ctx, domain.ConfigDocument{ActiveProfile: &home})).To(Succeed())

			for _, service := range []string{"Wi-Fi", "Ethernet"} {
				Expect(network.Service(service).Web.Enabled).To(BeFalse())
				Expect(network.Service(service).Secure.Enabled).To(BeFalse())
			}
			st, err := orch.State()
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Enabled).To(BeFalse())
			Expect(st.ActiveProfileID()).To(Equal(home.ID))
		})
	})
})
