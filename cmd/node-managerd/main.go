// Package main — cmd/node-managerd/main.go
//
// node-managerd entrypoint: the BMC power/performance daemon.
//
// Startup sequence:
//  1. Root check — abort if not running as root (RAPL sysfs writes and
//     GPIO access require it).
//  2. Load and validate the fixed-format platform config
//     (/var/lib/node-manager/general.conf.json).
//  3. Load and validate daemon-local tuning config
//     (/etc/node-manager/tuning.yaml).
//  4. Initialise structured logger (zap).
//  5. Open the BoltDB audit ledger and prune stale entries.
//  6. Open the file-backed policy store and restore persisted policies.
//  7. Construct the reading bus, GPIO pool, trigger manager, and control
//     layer (sysfs RAPL writer).
//  8. Construct the budgeting engine and the seven domains.
//  9. Start the Prometheus metrics server.
// 10. Start the RPC transport server (if enabled).
// 11. Register SIGHUP handler for tuning-config hot-reload.
// 12. Run the single-threaded cooperative tick loop until SIGINT/SIGTERM.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (stops the metrics and transport servers).
//  2. Stop the tick loop.
//  3. Close the policy store's in-flight persisters (no-op; each Save is
//     synchronous) and close the audit ledger.
//  4. Flush the logger.
//  5. Exit 0.
//
// On general-config validation failure: exit 1 immediately — the platform
// config is fixed at boot and never hot-reloaded, so there is nothing to
// fall back to. On tuning-config validation failure at SIGHUP: keep
// running on the previous tuning config, per the hot-reload contract
// documented in internal/config/config.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"

	"github.com/openbmc/node-manager/internal/budgeting"
	"github.com/openbmc/node-manager/internal/config"
	"github.com/openbmc/node-manager/internal/domain"
	"github.com/openbmc/node-manager/internal/gpio"
	"github.com/openbmc/node-manager/internal/observability"
	"github.com/openbmc/node-manager/internal/policy"
	"github.com/openbmc/node-manager/internal/reading"
	"github.com/openbmc/node-manager/internal/storage"
	"github.com/openbmc/node-manager/internal/transport"
	"github.com/openbmc/node-manager/internal/trigger"
	"github.com/openbmc/node-manager/internal/control"
)

func main() {
	generalPath := flag.String("general-config", config.DefaultGeneralConfPath, "Path to general.conf.json")
	tuningPath := flag.String("tuning-config", config.DefaultTuningPath, "Path to tuning.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("node-managerd %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Root check ────────────────────────────────────────────────────
	if os.Getuid() != 0 {
		fmt.Fprintln(os.Stderr, "FATAL: node-managerd must run as root (UID 0)")
		os.Exit(1)
	}

	// ── Step 2/3: Load config ─────────────────────────────────────────────────
	general, err := config.LoadGeneralConfig(*generalPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: general config load failed: %v\n", err)
		os.Exit(1)
	}
	tuning, err := config.LoadTuning(*tuningPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: tuning config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 4: Logger ────────────────────────────────────────────────────────
	log, err := buildLogger(tuning.Observability.LogLevel, tuning.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("node-managerd starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("general_config", *generalPath),
		zap.String("tuning_config", *tuningPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 5: Audit ledger ──────────────────────────────────────────────────
	ledger, err := storage.Open(tuning.Storage.LedgerPath, tuning.Storage.RetentionDays)
	if err != nil {
		log.Fatal("ledger open failed", zap.Error(err), zap.String("path", tuning.Storage.LedgerPath))
	}
	defer ledger.Close() //nolint:errcheck
	log.Info("audit ledger opened", zap.String("path", tuning.Storage.LedgerPath))

	if pruned, err := ledger.PruneOldEntries(); err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted", pruned))
	}

	// ── Step 6: Policy store ──────────────────────────────────────────────────
	policyStore := storage.NewPolicyStore(tuning.Storage.PolicyDir)
	restored, err := policyStore.LoadAll()
	if err != nil {
		log.Warn("policy store load failed — starting with no persisted policies", zap.Error(err))
		restored = nil
	}
	log.Info("policy store loaded", zap.Int("count", len(restored)))

	domainOf := func(policyID string) string {
		if rec, ok := restored[policyID]; ok {
			return rec.DomainID.String()
		}
		return "Unknown"
	}
	throttleLog := &storage.PolicyThrottlingLogger{Ledger: ledger, DomainOf: domainOf}

	// ── Step 7: Reading bus, GPIO, trigger manager, control ──────────────────
	bus := reading.NewBus()

	gpioPool := gpio.NewPool(len(general.Gpio.Lines))
	triggerMgr := trigger.NewManager(bus, gpioPool, log)

	lineReq := gpio.NewLineRequester("/dev/gpiochip0", "node-managerd")
	var gpioFds []int
	for _, line := range general.Gpio.Lines {
		fd, err := lineReq.RequestOutput(line.Index, 0)
		if err != nil {
			log.Warn("gpio line request failed", zap.String("name", line.Name), zap.Int("index", line.Index), zap.Error(err))
			continue
		}
		gpioFds = append(gpioFds, fd)
	}
	defer func() {
		for _, fd := range gpioFds {
			unix.Close(fd)
		}
	}()

	domainPaths := map[policy.RaplDomainID]string{
		policy.RaplDcTotalPower:     "intel-rapl:0",
		policy.RaplCpuSubsystem:     "intel-rapl:0:0",
		policy.RaplMemorySubsystem:  "intel-rapl:0:1",
		policy.RaplPcie:             "intel-rapl:0:2",
	}
	writer := control.NewSysfsWriter("/sys/class/powercap", domainPaths)
	ctrl := control.New(writer, log)

	// ── Step 8: Budgeting and domains ────────────────────────────────────────
	distributor := budgeting.NewCompoundDistributor([]budgeting.SubDomainConfig{
		{Rapl: policy.RaplCpuSubsystem, PCoeff: 1.0, EfficiencyAlpha: 0.2, BudgetCorrection: 1.0,
			CapMin: general.PowerRange.CpuSubsystemMinWatts, CapMax: general.PowerRange.CpuSubsystemMaxWatts},
		{Rapl: policy.RaplMemorySubsystem, PCoeff: 1.0, EfficiencyAlpha: 0.2, BudgetCorrection: 1.0,
			CapMin: general.PowerRange.MemorySubsystemMinWatts, CapMax: general.PowerRange.MemorySubsystemMaxWatts},
		{Rapl: policy.RaplPcie, PCoeff: 1.0, EfficiencyAlpha: 0.2, BudgetCorrection: 1.0,
			CapMin: general.PowerRange.PcieMinWatts, CapMax: general.PowerRange.PcieMaxWatts},
		{Rapl: policy.RaplDcTotalPower, PCoeff: 1.0, EfficiencyAlpha: 0.2, BudgetCorrection: 1.0,
			CapMin: general.PowerRange.DcTotalMinWatts, CapMax: general.PowerRange.DcTotalMaxWatts},
	})
	budget := budgeting.New(ctrl, distributor, nil, log)

	// Each domain gets its own DomainFactory: DomainFactory enforces
	// id-uniqueness and the BMC-policy quota within a single domain, and
	// Domain.Run ticks every policy its factory holds with no DomainID
	// filter, so sharing one factory across domains would let every
	// domain's tick see (and act on) every other domain's policies.
	acFactory := policy.NewDomainFactory()
	cpuFactory := policy.NewDomainFactory()
	memFactory := policy.NewDomainFactory()
	hwFactory := policy.NewDomainFactory()
	pcieFactory := policy.NewDomainFactory()
	dcFactory := policy.NewDomainFactory()
	perfFactory := policy.NewDomainFactory()

	domains := make(map[string]*domain.Domain, 7)

	acTotal := domain.NewAcTotalPower(acFactory, budget, log)
	domains[policy.DomainAcTotalPower.String()] = acTotal

	cpuSub := domain.NewCpuSubsystem(cpuFactory, budget, log)
	cpuSub.SetComponentBounds(func(int) (float64, float64) {
		return general.PowerRange.CpuSubsystemMinWatts, general.PowerRange.CpuSubsystemMaxWatts
	})
	domains[policy.DomainCpuSubsystem.String()] = cpuSub

	memSub := domain.NewMemorySubsystem(memFactory, budget, log)
	memSub.SetComponentBounds(func(int) (float64, float64) {
		return general.PowerRange.MemorySubsystemMinWatts, general.PowerRange.MemorySubsystemMaxWatts
	})
	domains[policy.DomainMemorySubsystem.String()] = memSub

	hwProt, forceReadingOnly, err := domain.NewHwProtection(hwFactory, budget, triggerMgr, gpioPool,
		general.GeneralPresets.HwProtectionMaxRatedWatts, log)
	if err != nil {
		log.Fatal("HwProtection domain construction failed", zap.Error(err))
	}
	domains[policy.DomainHwProtection.String()] = hwProt
	_ = forceReadingOnly // wired to the smart supervisor when that acquisition path exists

	pcie, err := domain.NewPcie(pcieFactory, budget, triggerMgr, general.GeneralPresets.AvailableAccelerators, log)
	if err != nil {
		log.Fatal("Pcie domain construction failed", zap.Error(err))
	}
	pcie.SetComponentBounds(func(int) (float64, float64) {
		return general.PowerRange.PcieMinWatts, general.PowerRange.PcieMaxWatts
	})
	domains[policy.DomainPcie.String()] = pcie

	dcTotal, err := domain.NewDcTotalPower(dcFactory, budget, triggerMgr, general.GeneralPresets.DcTotalPowerCapWatts, log)
	if err != nil {
		log.Fatal("DcTotalPower domain construction failed", zap.Error(err))
	}
	dcTotal.SetComponentBounds(func(int) (float64, float64) {
		return general.PowerRange.DcTotalMinWatts, general.PowerRange.DcTotalMaxWatts
	})
	domains[policy.DomainDcTotalPower.String()] = dcTotal

	perf, err := domain.NewPerformance(perfFactory, budget, triggerMgr, log)
	if err != nil {
		log.Fatal("Performance domain construction failed", zap.Error(err))
	}
	domains[policy.DomainPerformance.String()] = perf

	knobWriter := control.NewKnobSysfsWriter("/sys/devices/system/cpu", map[string]string{
		"TurboRatioLimit":  "intel_pstate/turbo_ratio_limit",
		"UncoreFreqMaxMhz": "intel_uncore_frequency/max_freq_khz",
	})

	for _, d := range []*domain.Domain{acTotal, cpuSub, memSub} {
		d.LimitBiasAbsolute = tuning.LimitBiasAbsolute
		d.LimitBiasRelative = tuning.LimitBiasRelative
	}

	factoriesByDomain := map[policy.DomainID]*policy.DomainFactory{
		policy.DomainAcTotalPower:    acFactory,
		policy.DomainCpuSubsystem:    cpuFactory,
		policy.DomainMemorySubsystem: memFactory,
		policy.DomainHwProtection:    hwFactory,
		policy.DomainPcie:            pcieFactory,
		policy.DomainDcTotalPower:    dcFactory,
		policy.DomainPerformance:     perfFactory,
	}
	restorePersistedPolicies(factoriesByDomain, restored, policyStore, throttleLog, triggerMgr, gpioPool, log)

	for _, d := range domains {
		d.SetHostPowerOn(true)
	}

	// ── Step 9: Metrics ───────────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, tuning.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", tuning.Observability.MetricsAddr))

	// ── Step 10: Transport ────────────────────────────────────────────────────
	if tuning.Transport.Enabled {
		registry := transport.NewRegistry(domains, func(domainName string) policy.ValidationContext {
			return validationContextFor(domainName, general)
		})
		srv := transport.NewServer(tuning.Transport.SocketPath, registry, log)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error("transport server error", zap.Error(err))
			}
		}()
		log.Info("transport server started", zap.String("socket", tuning.Transport.SocketPath))
	} else {
		log.Info("transport disabled")
	}

	// ── Step 11: SIGHUP hot-reload (tuning only) ──────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading tuning config...")
			newTuning, err := config.LoadTuning(*tuningPath)
			if err != nil {
				log.Error("tuning config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			for _, d := range []*domain.Domain{acTotal, cpuSub, memSub} {
				d.LimitBiasAbsolute = newTuning.LimitBiasAbsolute
				d.LimitBiasRelative = newTuning.LimitBiasRelative
			}
			tuning = newTuning
			log.Info("tuning config hot-reload successful",
				zap.Float64("limit_bias_absolute", newTuning.LimitBiasAbsolute),
				zap.Float64("limit_bias_relative", newTuning.LimitBiasRelative))
		}
	}()

	// ── Step 12: Tick loop ────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(tuning.TickInterval)
	defer ticker.Stop()

	orderedDomains := []*domain.Domain{acTotal, cpuSub, memSub, hwProt, pcie, dcTotal, perf}

tickLoop:
	for {
		select {
		case sig := <-sigCh:
			log.Info("shutdown signal received", zap.String("signal", sig.String()))
			break tickLoop
		case now := <-ticker.C:
			runTick(now, orderedDomains, budget, perfFactory, knobWriter, metrics, log, tuning.TickInterval)
		}
	}

	// ── Shutdown ───────────────────────────────────────────────────────────────
	cancel()
	log.Info("node-managerd shutdown complete")
}

// runTick drives one cooperative scheduler tick: every domain runs in a
// fixed order (AcTotalPower, CpuSubsystem, MemorySubsystem, HwProtection,
// Pcie, DcTotalPower, Performance), then budgeting reconciles the
// per-RAPL-domain limits those domains just selected, and finally the
// Performance domain's knob policies are pushed to hardware based on the
// selection that just settled. Sensor acquisition and the SMaRT supervisor
// are external collaborators with no in-process representation here, so
// each domain's policies see an empty reading set for policy types that
// are not reading-driven (timer/always triggers still fire correctly;
// reading-driven triggers wait for a wired acquisition source).
func runTick(now time.Time, domains []*domain.Domain, budget *budgeting.Budgeting, perfFactory *policy.DomainFactory, knobWriter domain.KnobWriter, metrics *observability.Metrics, log *zap.Logger, budgetDuration time.Duration) {
	start := time.Now()
	readings := map[string]float64{}

	for _, d := range domains {
		d.Run(now, readings)
	}
	budget.Run(nil)
	domain.ApplyPerformanceKnobs(perfFactory, knobWriter, log)

	elapsed := time.Since(start)
	metrics.TickDurationSeconds.Observe(elapsed.Seconds())
	if elapsed > budgetDuration {
		metrics.TickOverrunsTotal.Inc()
	}
}

// restorePersistedPolicies rebuilds each on-disk policy record as a live
// *policy.Policy wired to the same persister and throttle logger every
// freshly created BMC policy uses, and installs it into the one domain
// factory that owns its DomainID. Persisted records are always power
// policies: performance knob policies are BMC-owned and reconstructed at
// startup by NewPerformance, never user-persisted.
func restorePersistedPolicies(factoriesByDomain map[policy.DomainID]*policy.DomainFactory, records map[string]policy.Record, store *storage.PolicyStore, throttleLog policy.ThrottlingLogger, triggerMgr *trigger.Manager, gpioPool *gpio.Pool, log *zap.Logger) {
	for id, rec := range records {
		factory, ok := factoriesByDomain[rec.DomainID]
		if !ok {
			log.Warn("failed to restore persisted policy — unknown domain", zap.String("id", id), zap.Int("domain", int(rec.DomainID)))
			continue
		}
		p := policy.New(policy.NewPolicyArgs{
			ID:          id,
			DomainID:    rec.DomainID,
			Owner:       rec.Owner,
			Type:        policy.PolicyTypePower,
			Params:      rec.Params,
			Enabled:     rec.Enabled,
			TriggerMgr:  triggerMgr,
			GpioPool:    gpioPool,
			Persister:   store,
			Log:         log,
			ThrottleLog: throttleLog,
		})
		if err := factory.Create(p); err != nil {
			log.Warn("failed to restore persisted policy", zap.String("id", id), zap.Error(err))
		}
	}
}

// validationContextFor derives the RPC write-path validation bounds for a
// domain from the fixed platform config, mirroring what the matching
// domain.New* specialization already enforced at policy-creation time.
func validationContextFor(domainName string, general *config.GeneralConfig) policy.ValidationContext {
	ctx := policy.ValidationContext{
		MaxComponentNumber:   8,
		MaxReportingPeriodMs: 60_000,
		MaxCorrectionTimeMs:  policy.MaxCorrectionTimeMs,
		ReadingAvailable:     true,
	}
	switch domainName {
	case "CpuSubsystem", "MemorySubsystem", "DcTotalPower", "AcTotalPower", "HwProtection":
		ctx.IsPowerDomain = true
	case "Pcie":
		ctx.IsPowerDomain = true
		if n := len(general.GeneralPresets.AvailableAccelerators); n > 0 {
			ctx.MaxComponentNumber = n
		}
	case "Performance":
		ctx.IsPowerDomain = false
	}
	return ctx
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
