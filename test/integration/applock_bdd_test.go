//go:build integration

package integration

import (
	"context"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_lock/internal/config"
	"github.com/eliteGoblin/focusd/app_lock/internal/daemon"
	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
	"github.com/eliteGoblin/focusd/app_lock/internal/infra"
	"github.com/eliteGoblin/focusd/app_lock/internal/usecase"
)

const gamePackage = "com.example.game"

func eventTypes(events []domain.StatisticEvent) []domain.EventType {
	types := make([]domain.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	return types
}

var _ = Describe("AppLock daemon components", func() {
	var (
		dataDir string
		cfg     config.Config
		app     *daemon.App
		ctx     context.Context
		cancel  context.CancelFunc
		wg      sync.WaitGroup
	)

	start := func() {
		var err error
		app, err = daemon.NewApp(cfg, dataDir, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel = context.WithCancel(context.Background())
		wg.Add(2)
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			_ = app.Engine.Run(ctx)
		}()
		go func() {
			defer GinkgoRecover()
			defer wg.Done()
			_ = app.Scheduler.Run(ctx)
		}()
	}

	stop := func() {
		cancel()
		wg.Wait()
		Expect(app.Close()).To(Succeed())
	}

	BeforeEach(func() {
		dataDir = GinkgoT().TempDir()
		cfg = config.Default()
		cfg.Scheduler.TickInterval = config.Duration{Duration: 20 * time.Millisecond}
		start()
	})

	AfterEach(func() {
		stop()
	})

	Describe("blocking", func() {
		BeforeEach(func() {
			Expect(app.Registry.Add(gamePackage, "Game")).To(Succeed())
		})

		Context("when the global lock is off", func() {
			It("should never block a locked app", func() {
				res, err := app.Engine.Dispatch(ctx, usecase.ForegroundChanged(gamePackage))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Decision).To(BeNil())

				total, err := app.Controller.TotalBlockedCount()
				Expect(err).NotTo(HaveOccurred())
				Expect(total).To(BeZero())
			})
		})

		Context("when the global lock is on", func() {
			It("should publish a decision and record the attempt", func() {
				decisions := app.Engine.SubscribeDecisions(ctx)

				state, err := app.Controller.ToggleGlobalLock(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(state.IsLocked).To(BeTrue())

				res, err := app.Engine.Dispatch(ctx, usecase.ForegroundChanged(gamePackage))
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Decision).NotTo(BeNil())

				var got domain.BlockDecision
				Eventually(decisions.C()).Should(Receive(&got))
				Expect(got.PackageName).To(Equal(gamePackage))
				Expect(got.AppName).To(Equal("Game"))

				total, err := app.Controller.TotalBlockedCount()
				Expect(err).NotTo(HaveOccurred())
				Expect(total).To(Equal(1))
			})

			It("should not block the host app or an unlisted app", func() {
				_, err := app.Controller.ToggleGlobalLock(ctx)
				Expect(err).NotTo(HaveOccurred())

				for _, pkg := range []string{config.DefaultHostPackage, "com.example.notes"} {
					res, err := app.Engine.Dispatch(ctx, usecase.ForegroundChanged(pkg))
					Expect(err).NotTo(HaveOccurred())
					Expect(res.Decision).To(BeNil())
				}
			})
		})

		Context("when PIN protection is on", func() {
			It("should dismiss the overlay only for the correct PIN", func() {
				Expect(app.Controller.SetPin("2468", "2468")).To(Succeed())
				_, err := app.Controller.ToggleGlobalLock(ctx)
				Expect(err).NotTo(HaveOccurred())
				_, err = app.Engine.Dispatch(ctx, usecase.ForegroundChanged(gamePackage))
				Expect(err).NotTo(HaveOccurred())

				ok, err := app.Controller.UnlockBlockedApp(ctx, gamePackage, "1111")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeFalse())

				ok, err = app.Controller.UnlockBlockedApp(ctx, gamePackage, "2468")
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())

				events, err := app.Controller.RecentStatistics(10)
				Expect(err).NotTo(HaveOccurred())
				Expect(eventTypes(events)).To(ContainElement(domain.EventManualUnlock))
			})
		})
	})

	Describe("tag taps", func() {
		It("should lock then unlock with an NFC_UNLOCK record", func() {
			state, err := app.Controller.TapTag(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.IsLocked).To(BeTrue())

			state, err = app.Controller.TapTag(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.IsLocked).To(BeFalse())

			events, err := app.Controller.RecentStatistics(10)
			Expect(err).NotTo(HaveOccurred())
			Expect(eventTypes(events)).To(Equal([]domain.EventType{
				domain.EventNFCUnlock, domain.EventLockEnabled,
			}))
		})
	})

	Describe("auto-unlock", func() {
		It("should unlock once the configured duration has elapsed", func() {
			_, err := app.Controller.ToggleGlobalLock(ctx)
			Expect(err).NotTo(HaveOccurred())

			// Backdate the lock past the 20 minute window and reload it.
			past := time.Now().Add(-21 * time.Minute).UnixMilli()
			prefs := infra.NewPreferenceStore(app.DB)
			Expect(prefs.SetMany(map[string]string{
				domain.KeyLockTimestamp:      strconv.FormatInt(past, 10),
				domain.KeyAutoUnlockDuration: "20",
			})).To(Succeed())
			Expect(app.Store.Reload()).To(Succeed())

			Eventually(func() bool { return app.Store.State().IsLocked }, 2*time.Second, 20*time.Millisecond).
				Should(BeFalse())
			Expect(app.Scheduler.Fired()).To(Equal(uint64(1)))

			events, err := app.Controller.RecentStatistics(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(eventTypes(events)).To(Equal([]domain.EventType{domain.EventLockDisabled}))
		})

		It("should keep the lock while time remains", func() {
			Expect(app.Controller.SetAutoUnlockMinutes(5)).To(Succeed())
			_, err := app.Controller.ToggleGlobalLock(ctx)
			Expect(err).NotTo(HaveOccurred())

			Consistently(func() bool { return app.Store.State().IsLocked }, 200*time.Millisecond, 20*time.Millisecond).
				Should(BeTrue())
		})
	})

	Describe("persistence", func() {
		It("should restore the lock state and registry after a restart", func() {
			Expect(app.Registry.Add(gamePackage, "Game")).To(Succeed())
			state, err := app.Controller.ToggleGlobalLock(ctx)
			Expect(err).NotTo(HaveOccurred())

			stop()
			start()

			restored := app.Store.State()
			Expect(restored.IsLocked).To(BeTrue())
			Expect(restored.LockedAt.Equal(state.LockedAt)).To(BeTrue())

			locked, err := app.Registry.IsLocked(gamePackage)
			Expect(err).NotTo(HaveOccurred())
			Expect(locked).To(BeTrue())
		})
	})
})
