package config

import "time"

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8000,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Vision: VisionConfig{
			PoolSize:       4,
			AcquireTimeout: Duration(5 * time.Second),
			Pipeline: PipelineConfig{
				MaxSide:        1024,
				BlurRadius:     1,
				EdgeThreshold:  48,
				MinRegionRatio: 0.001,
				MinAspect:      0.1,
				MaxAspect:      10.0,
			},
		},
		Dispatch: DispatchConfig{
			QueueBound:     16,
			RequestTimeout: Duration(10 * time.Second),
		},
		Security: SecurityConfig{
			MaxFileSize:    5 * 1024 * 1024,
			MaxWidth:       4096,
			MaxHeight:      4096,
			MaxPixels:      4096 * 4096,
			AllowedFormats: []string{"jpeg", "jpg", "png", "webp", "gif", "bmp"},
		},
		Record: RecordConfig{
			Enabled: false,
			SaveDir: "~/recordings",
			Cameras: []int{0, 1},
			Width:   1280,
			Height:  720,
			FPS:     24.0,
		},
	}
}
