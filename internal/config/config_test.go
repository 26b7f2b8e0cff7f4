package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadGeneralConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "general.conf.json")
	const body = `{
		"GeneralPresets": {
			"HwProtectionMaxRatedWatts": 1200,
			"DcTotalPowerCapWatts": 900,
			"AvailableAccelerators": [0, 1]
		},
		"Gpio": {
			"Lines": [{"Index": 0, "Name": "smbalert"}, {"Index": 1, "Name": "hwprot"}]
		},
		"Smart": {
			"SMBAlertSysfsPath": "/sys/class/gpio/smbalert/value",
			"PollIntervalMs": 50
		},
		"PowerRange": {
			"CpuSubsystemMinWatts": 10, "CpuSubsystemMaxWatts": 300,
			"MemorySubsystemMinWatts": 5, "MemorySubsystemMaxWatts": 100,
			"PcieMinWatts": 0, "PcieMaxWatts": 75,
			"DcTotalMinWatts": 50, "DcTotalMaxWatts": 1200
		}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	gc, err := LoadGeneralConfig(path)
	if err != nil {
		t.Fatalf("LoadGeneralConfig: %v", err)
	}
	if gc.GeneralPresets.HwProtectionMaxRatedWatts != 1200 {
		t.Fatalf("expected HwProtectionMaxRatedWatts 1200, got %v", gc.GeneralPresets.HwProtectionMaxRatedWatts)
	}
	if len(gc.GeneralPresets.AvailableAccelerators) != 2 {
		t.Fatalf("expected 2 accelerators, got %d", len(gc.GeneralPresets.AvailableAccelerators))
	}
	if len(gc.Gpio.Lines) != 2 {
		t.Fatalf("expected 2 gpio lines, got %d", len(gc.Gpio.Lines))
	}
}

func TestValidateGeneralConfigRejectsDuplicateGpioIndex(t *testing.T) {
	gc := &GeneralConfig{
		GeneralPresets: GeneralPresets{HwProtectionMaxRatedWatts: 100, DcTotalPowerCapWatts: 100},
		Gpio: GpioConfig{Lines: []GpioLine{
			{Index: 0, Name: "a"},
			{Index: 0, Name: "b"},
		}},
		PowerRange: PowerRange{DcTotalMaxWatts: 100},
	}
	if err := ValidateGeneralConfig(gc); err == nil {
		t.Fatal("expected error for duplicate gpio index")
	}
}

func TestValidateGeneralConfigRejectsInvertedPowerRange(t *testing.T) {
	gc := &GeneralConfig{
		GeneralPresets: GeneralPresets{HwProtectionMaxRatedWatts: 100, DcTotalPowerCapWatts: 100},
		PowerRange:     PowerRange{CpuSubsystemMinWatts: 50, CpuSubsystemMaxWatts: 10},
	}
	if err := ValidateGeneralConfig(gc); err == nil {
		t.Fatal("expected error for inverted CPU power range")
	}
}

func TestDefaultTuningIsValid(t *testing.T) {
	cfg := DefaultTuning()
	if err := ValidateTuning(&cfg); err != nil {
		t.Fatalf("DefaultTuning() failed validation: %v", err)
	}
}

func TestLoadTuningMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	const body = "log_level_placeholder: true\nobservability:\n  log_level: debug\n  log_format: json\n  metrics_addr: 127.0.0.1:9999\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}
	if cfg.Observability.MetricsAddr != "127.0.0.1:9999" {
		t.Fatalf("expected overridden metrics_addr, got %q", cfg.Observability.MetricsAddr)
	}
	if cfg.TickInterval != DefaultTuning().TickInterval {
		t.Fatalf("expected tick_interval to retain default, got %v", cfg.TickInterval)
	}
}

func TestValidateTuningRejectsRelativeSocketPath(t *testing.T) {
	cfg := DefaultTuning()
	cfg.Transport.SocketPath = "relative/path.sock"
	if err := ValidateTuning(&cfg); err == nil {
		t.Fatal("expected error for relative socket path")
	}
}
