package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token" yaml:"auth_token"`
	MaxClients int    `mapstructure:"max_clients" yaml:"max_clients"`

	FrameRate   int     `mapstructure:"frame_rate" yaml:"frame_rate"`
	TileSize    int     `mapstructure:"tile_size" yaml:"tile_size"`
	ImageFormat string  `mapstructure:"image_format" yaml:"image_format"`
	JPEGQuality int     `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	ScaleFactor float64 `mapstructure:"scale_factor" yaml:"scale_factor"`

	// CaptureStrategies restricts and orders the capture strategies tried at
	// bind time. Empty means every strategy registered for the platform.
	CaptureStrategies []string `mapstructure:"capture_strategies" yaml:"capture_strategies"`

	MaxInputQueue   int `mapstructure:"max_input_queue" yaml:"max_input_queue"`
	SendQueueSize   int `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	EncodeWorkers   int `mapstructure:"encode_workers" yaml:"encode_workers"`
	EncodeQueueSize int `mapstructure:"encode_queue_size" yaml:"encode_queue_size"`

	EnableWebRTC bool     `mapstructure:"enable_webrtc" yaml:"enable_webrtc"`
	ICEServers   []string `mapstructure:"ice_servers" yaml:"ice_servers"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		ListenAddr:      ":8900",
		MaxClients:      16,
		FrameRate:       10,
		TileSize:        128,
		ImageFormat:     "png",
		JPEGQuality:     75,
		ScaleFactor:     1.0,
		MaxInputQueue:   32,
		SendQueueSize:   64,
		EncodeWorkers:   min(runtime.NumCPU(), 8),
		EncodeQueueSize: 256,
		ICEServers:      []string{"stun:stun.l.google.com:19302"},
		LogLevel:        "info",
		LogFormat:       "text",
		LogMaxSizeMB:    50,
		LogMaxBackups:   3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("screenhost")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SCREENHOST")
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindEnv registers every key so AutomaticEnv overrides apply during
// Unmarshal even when the key is absent from the file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"listen_addr", "auth_token", "max_clients", "frame_rate", "tile_size",
		"image_format", "jpeg_quality", "scale_factor", "capture_strategies",
		"max_input_queue", "send_queue_size", "encode_workers", "encode_queue_size",
		"enable_webrtc", "ice_servers", "log_level", "log_format", "log_file",
		"log_max_size_mb", "log_max_backups",
	} {
		_ = v.BindEnv(key)
	}
}

func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("listen_addr", cfg.ListenAddr)
	v.Set("auth_token", cfg.AuthToken)
	v.Set("max_clients", cfg.MaxClients)
	v.Set("frame_rate", cfg.FrameRate)
	v.Set("tile_size", cfg.TileSize)
	v.Set("image_format", cfg.ImageFormat)
	v.Set("jpeg_quality", cfg.JPEGQuality)
	v.Set("scale_factor", cfg.ScaleFactor)
	v.Set("capture_strategies", cfg.CaptureStrategies)
	v.Set("max_input_queue", cfg.MaxInputQueue)
	v.Set("send_queue_size", cfg.SendQueueSize)
	v.Set("encode_workers", cfg.EncodeWorkers)
	v.Set("encode_queue_size", cfg.EncodeQueueSize)
	v.Set("enable_webrtc", cfg.EnableWebRTC)
	v.Set("ice_servers", cfg.ICEServers)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)

	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir(), "screenhost.yaml")
	}
	if dir := filepath.Dir(cfgPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	// may contain the auth token
	return os.Chmod(cfgPath, 0o600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Screenhost")
	case "darwin":
		return "/Library/Application Support/Screenhost"
	default:
		return "/etc/screenhost"
	}
}
