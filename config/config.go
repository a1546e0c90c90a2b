// Package config loads the pipeline configuration from a momentrx.yaml file,
// MOMENTRX_* environment variables and command line flags.
package config

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/chzchzchz/momentrx/compress"
	"github.com/chzchzchz/momentrx/dft"
	"github.com/chzchzchz/momentrx/moment"
	"github.com/chzchzchz/momentrx/radio"
	"github.com/chzchzchz/momentrx/ring"
	"github.com/chzchzchz/momentrx/sched"
)

type Config struct {
	Pulse        RingConfig         `mapstructure:"pulse" yaml:"pulse"`
	Ray          RingConfig         `mapstructure:"ray" yaml:"ray"`
	Compress     CompressConfig     `mapstructure:"compress" yaml:"compress"`
	Moment       MomentConfig       `mapstructure:"moment" yaml:"moment"`
	Calibration  CalibrationConfig  `mapstructure:"calibration" yaml:"calibration"`
	Backpressure BackpressureConfig `mapstructure:"backpressure" yaml:"backpressure"`
	Source       SourceConfig       `mapstructure:"source" yaml:"source"`
	HTTP         HTTPConfig         `mapstructure:"http" yaml:"http"`
}

type RingConfig struct {
	Depth int `mapstructure:"depth" yaml:"depth"`
	Gates int `mapstructure:"gates" yaml:"gates"`
}

type CompressConfig struct {
	Workers         int    `mapstructure:"workers" yaml:"workers"`
	PlanBackend     string `mapstructure:"plan_backend" yaml:"plan_backend"`
	PlanCapacity    int    `mapstructure:"plan_capacity" yaml:"plan_capacity"`
	Strategy        string `mapstructure:"strategy" yaml:"strategy"`
	CoreOrigin      int    `mapstructure:"core_origin" yaml:"core_origin"`
	RequirePosition bool   `mapstructure:"require_position" yaml:"require_position"`
	// Filters is a gob filter store; empty uses the impulse filter.
	Filters string `mapstructure:"filters" yaml:"filters"`
}

type MomentConfig struct {
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	Estimator    string        `mapstructure:"estimator" yaml:"estimator"`
	Lags         int           `mapstructure:"lags" yaml:"lags"`
	Hops         int           `mapstructure:"hops" yaml:"hops"`
	BinWidth     float64       `mapstructure:"bin_width" yaml:"bin_width"`
	MaxSpan      int           `mapstructure:"max_span" yaml:"max_span"`
	IdleFlush    time.Duration `mapstructure:"idle_flush" yaml:"idle_flush"`
	SNRThreshold float64       `mapstructure:"snr_threshold" yaml:"snr_threshold"`
	SQIThreshold float64       `mapstructure:"sqi_threshold" yaml:"sqi_threshold"`
	Strategy     string        `mapstructure:"strategy" yaml:"strategy"`
	CoreOrigin   int           `mapstructure:"core_origin" yaml:"core_origin"`
}

type CalibrationConfig struct {
	Noise       []float64 `mapstructure:"noise" yaml:"noise"`
	ZOffset     []float64 `mapstructure:"z_offset" yaml:"z_offset"`
	DOffset     float64   `mapstructure:"d_offset" yaml:"d_offset"`
	POffset     float64   `mapstructure:"p_offset" yaml:"p_offset"`
	GateSpacing float64   `mapstructure:"gate_spacing" yaml:"gate_spacing"`
	Wavelength  float64   `mapstructure:"wavelength" yaml:"wavelength"`
	PRT         float64   `mapstructure:"prt" yaml:"prt"`
}

type BackpressureConfig struct {
	Threshold    float64 `mapstructure:"threshold" yaml:"threshold"`
	SkipFraction float64 `mapstructure:"skip_fraction" yaml:"skip_fraction"`
	DutyDepth    int     `mapstructure:"duty_depth" yaml:"duty_depth"`
}

type SourceConfig struct {
	Kind      string   `mapstructure:"kind" yaml:"kind"`
	Path      string   `mapstructure:"path" yaml:"path"`
	Command   []string `mapstructure:"command" yaml:"command"`
	PRF       float64  `mapstructure:"prf" yaml:"prf"`
	Gates     int      `mapstructure:"gates" yaml:"gates"`
	RPM       float64  `mapstructure:"rpm" yaml:"rpm"`
	Amplitude float64  `mapstructure:"amplitude" yaml:"amplitude"`
	Omega     float64  `mapstructure:"omega" yaml:"omega"`
	Noise     float64  `mapstructure:"noise" yaml:"noise"`
	Hops      int      `mapstructure:"hops" yaml:"hops"`
	Pulses    int      `mapstructure:"pulses" yaml:"pulses"`
	Seed      int64    `mapstructure:"seed" yaml:"seed"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Flags maps command line flag names to configuration keys.
var Flags = map[string]string{
	"source":    "source.kind",
	"path":      "source.path",
	"prf":       "source.prf",
	"gates":     "pulse.gates",
	"estimator": "moment.estimator",
	"backend":   "compress.plan_backend",
	"filters":   "compress.filters",
	"http":      "http.addr",
}

func setDefaults(v *viper.Viper) {
	cal := moment.DefaultCalibration()
	v.SetDefault("pulse.depth", 4096)
	v.SetDefault("pulse.gates", 1024)
	v.SetDefault("ray.depth", 1024)
	v.SetDefault("compress.workers", 2)
	v.SetDefault("compress.plan_backend", string(dft.FFTW))
	v.SetDefault("compress.plan_capacity", dft.DefaultCapacity)
	v.SetDefault("compress.strategy", string(sched.Blocking))
	v.SetDefault("compress.core_origin", -1)
	v.SetDefault("compress.require_position", false)
	v.SetDefault("compress.filters", "")
	v.SetDefault("moment.workers", 2)
	v.SetDefault("moment.estimator", moment.PulsePair)
	v.SetDefault("moment.lags", 3)
	v.SetDefault("moment.hops", 2)
	v.SetDefault("moment.bin_width", 1.0)
	v.SetDefault("moment.max_span", 128)
	v.SetDefault("moment.idle_flush", 250*time.Millisecond)
	v.SetDefault("moment.snr_threshold", 0.0)
	v.SetDefault("moment.sqi_threshold", 0.4)
	v.SetDefault("moment.strategy", string(sched.Blocking))
	v.SetDefault("moment.core_origin", -1)
	v.SetDefault("calibration.noise", cal.Noise[:])
	v.SetDefault("calibration.z_offset", cal.ZOffset[:])
	v.SetDefault("calibration.d_offset", cal.DOffset)
	v.SetDefault("calibration.p_offset", cal.POffset)
	v.SetDefault("calibration.gate_spacing", cal.GateSpacing)
	v.SetDefault("calibration.wavelength", cal.Wavelength)
	v.SetDefault("calibration.prt", cal.PRT)
	v.SetDefault("backpressure.threshold", 0.9)
	v.SetDefault("backpressure.skip_fraction", 0.1)
	v.SetDefault("backpressure.duty_depth", 64)
	v.SetDefault("source.kind", "synthetic")
	v.SetDefault("source.path", "")
	v.SetDefault("source.command", []string{})
	v.SetDefault("source.prf", float64(radio.DefaultPRF))
	v.SetDefault("source.gates", 0)
	v.SetDefault("source.rpm", 3.0)
	v.SetDefault("source.amplitude", 1000.0)
	v.SetDefault("source.omega", 0.5)
	v.SetDefault("source.noise", 10.0)
	v.SetDefault("source.hops", 0)
	v.SetDefault("source.pulses", 0)
	v.SetDefault("source.seed", 1)
	v.SetDefault("http.addr", ":8080")
}

// Load reads path, or momentrx.{yaml,toml,json} from /etc/momentrx or the
// working directory when path is empty. A missing default file is not an
// error. Flags present in Flags override the file and environment.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MOMENTRX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("momentrx")
		v.AddConfigPath("/etc/momentrx")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if flags != nil {
		for name, key := range Flags {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func Dump(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func (c *Config) CompressEngine(logger *log.Logger) compress.Config {
	return compress.Config{
		Workers:         c.Compress.Workers,
		Backend:         dft.Backend(c.Compress.PlanBackend),
		PlanCapacity:    c.Compress.PlanCapacity,
		Strategy:        sched.Strategy(c.Compress.Strategy),
		CoreOrigin:      c.Compress.CoreOrigin,
		RequirePosition: c.Compress.RequirePosition,
		DutyDepth:       c.Backpressure.DutyDepth,
		Threshold:       c.Backpressure.Threshold,
		SkipFraction:    c.Backpressure.SkipFraction,
		Logger:          logger,
	}
}

func (c *Config) MomentEngine(logger *log.Logger) moment.Config {
	return moment.Config{
		Workers:    c.Moment.Workers,
		Estimator:  c.Moment.Estimator,
		Lags:       c.Moment.Lags,
		Hops:       c.Moment.Hops,
		BinWidth:   c.Moment.BinWidth,
		MaxSpan:    c.Moment.MaxSpan,
		IdleFlush:  c.Moment.IdleFlush,
		Thresholds: moment.Thresholds{SNR: c.Moment.SNRThreshold, SQI: c.Moment.SQIThreshold},
		Strategy:   sched.Strategy(c.Moment.Strategy),
		CoreOrigin: c.Moment.CoreOrigin,

		DutyDepth:    c.Backpressure.DutyDepth,
		Threshold:    c.Backpressure.Threshold,
		SkipFraction: c.Backpressure.SkipFraction,
		Logger:       logger,
	}
}

// MomentCalibration fills both polarizations from a single noise or offset
// value when only one is given.
func (c *Config) MomentCalibration() moment.Calibration {
	cal := moment.Calibration{
		DOffset:     c.Calibration.DOffset,
		POffset:     c.Calibration.POffset,
		GateSpacing: c.Calibration.GateSpacing,
		Wavelength:  c.Calibration.Wavelength,
		PRT:         c.Calibration.PRT,
	}
	for pol := 0; pol < ring.Polarizations; pol++ {
		if n := len(c.Calibration.Noise); n > 0 {
			cal.Noise[pol] = c.Calibration.Noise[min(pol, n-1)]
		}
		if n := len(c.Calibration.ZOffset); n > 0 {
			cal.ZOffset[pol] = c.Calibration.ZOffset[min(pol, n-1)]
		}
	}
	return cal
}

func (c *Config) RadioSource() radio.SourceConfig {
	s := c.Source
	return radio.SourceConfig{
		Kind:    s.Kind,
		Path:    s.Path,
		Command: s.Command,
		Transceiver: radio.Transceiver{
			Gates:     s.Gates,
			PRF:       s.PRF,
			RPM:       s.RPM,
			Amplitude: s.Amplitude,
			Omega:     s.Omega,
			Noise:     s.Noise,
			Hops:      s.Hops,
			Pulses:    s.Pulses,
			Seed:      s.Seed,
		},
	}
}
