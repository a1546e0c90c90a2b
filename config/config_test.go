package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/chzchzchz/momentrx/dft"
	"github.com/chzchzchz/momentrx/moment"
	"github.com/chzchzchz/momentrx/sched"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "momentrx.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pulse.Depth != 4096 || cfg.Moment.Estimator != moment.PulsePair {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Moment.IdleFlush != 250*time.Millisecond {
		t.Fatalf("idle flush %v", cfg.Moment.IdleFlush)
	}
	cc := cfg.CompressEngine(nil)
	if cc.Backend != dft.FFTW || cc.Strategy != sched.Blocking || cc.Threshold != 0.9 {
		t.Fatalf("compress config %+v", cc)
	}
	cal, def := cfg.MomentCalibration(), moment.DefaultCalibration()
	if cal.Noise != def.Noise || cal.Wavelength != def.Wavelength || cal.PRT != def.PRT || cal.GateSpacing != def.GateSpacing {
		t.Fatalf("calibration %+v", cal)
	}
}

func TestFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
moment:
  estimator: multi-lag
  lags: 4
  idle_flush: 1s
calibration:
  noise: [2]
  z_offset: [1.5, -1.5]
source:
  kind: file
  path: /tmp/a.pulse
`)
	t.Setenv("MOMENTRX_MOMENT_WORKERS", "3")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("source", "synthetic", "")
	flags.String("path", "", "")
	if err := flags.Parse([]string{"--path", "/tmp/b.pulse"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Moment.Estimator != moment.MultiLag || cfg.Moment.Lags != 4 || cfg.Moment.IdleFlush != time.Second {
		t.Fatalf("file values lost: %+v", cfg.Moment)
	}
	if cfg.Moment.Workers != 3 {
		t.Fatalf("env override lost: %d workers", cfg.Moment.Workers)
	}
	// An unset flag does not override the file.
	if cfg.Source.Kind != "file" || cfg.Source.Path != "/tmp/b.pulse" {
		t.Fatalf("source %+v", cfg.Source)
	}
	cal := cfg.MomentCalibration()
	if cal.Noise[0] != 2 || cal.Noise[1] != 2 || cal.ZOffset[1] != -1.5 {
		t.Fatalf("calibration %+v", cal)
	}
	if src := cfg.RadioSource(); src.Kind != "file" || src.PRF != 1000 {
		t.Fatalf("radio source %+v", src)
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestDump(t *testing.T) {
	cfg, err := Load(writeConfig(t, "http:\n  addr: :9000\n"), nil)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Dump(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"plan_backend: fftw", "idle_flush: 250ms", "estimator: pulse-pair"} {
		if !strings.Contains(out, want) {
			t.Fatalf("dump missing %q:\n%s", want, out)
		}
	}
	var back Config
	if err := yaml.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatal(err)
	}
	if back.Moment.IdleFlush != cfg.Moment.IdleFlush || back.HTTP.Addr != ":9000" {
		t.Fatalf("dump does not read back: %+v", back)
	}
}
