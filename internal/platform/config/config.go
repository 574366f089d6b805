package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse cleanly.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		var n int64
		if err2 := value.Decode(&n); err2 == nil {
			*d = Duration(time.Duration(n))
			return nil
		}
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Vision   VisionConfig   `yaml:"vision"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Security SecurityConfig `yaml:"security"`
	Record   RecordConfig   `yaml:"record"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// VisionConfig controls the native context pool and the processing pipeline.
type VisionConfig struct {
	PoolSize       int            `yaml:"pool_size"`
	AcquireTimeout Duration       `yaml:"acquire_timeout"`
	Pipeline       PipelineConfig `yaml:"pipeline"`
}

// PipelineConfig fixes the numeric contract of the analysis stages.
type PipelineConfig struct {
	MaxSide        int     `yaml:"max_side"`
	BlurRadius     int     `yaml:"blur_radius"`
	EdgeThreshold  int     `yaml:"edge_threshold"`
	MinRegionRatio float64 `yaml:"min_region_ratio"`
	MinAspect      float64 `yaml:"min_aspect"`
	MaxAspect      float64 `yaml:"max_aspect"`
}

// DispatchConfig bounds admission and per-request lifetime.
type DispatchConfig struct {
	QueueBound     int      `yaml:"queue_bound"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// SecurityConfig caps inbound payloads before any native memory is touched.
type SecurityConfig struct {
	MaxFileSize    int64    `yaml:"max_file_size"`
	MaxWidth       int      `yaml:"max_width"`
	MaxHeight      int      `yaml:"max_height"`
	MaxPixels      int64    `yaml:"max_pixels"`
	AllowedFormats []string `yaml:"allowed_formats"`
}

type RecordConfig struct {
	Enabled bool    `yaml:"enabled"`
	SaveDir string  `yaml:"save_dir"`
	Cameras []int   `yaml:"cameras"`
	Width   int     `yaml:"width"`
	Height  int     `yaml:"height"`
	FPS     float64 `yaml:"fps"`
}
