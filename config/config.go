package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Model    ModelConfig    `mapstructure:"model"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	UploadDir    string   `mapstructure:"upload_dir"`
	OutputDir    string   `mapstructure:"output_dir"`
	AllowedTypes []string `mapstructure:"allowed_types"`
	CleanupTemp  bool     `mapstructure:"cleanup_temp"`
}

// ModelConfig 推理后端与超分参数，实例构造后不可变更
type ModelConfig struct {
	Backend       string    `mapstructure:"backend"` // native, graph, remote, hosted
	Scale         int       `mapstructure:"scale"`
	ModelPaths    []string  `mapstructure:"model_paths"`    // 单权重或两个权重（插值模式）
	InterpWeights []float64 `mapstructure:"interp_weights"` // 插值权重，与 model_paths 等长
	TileSize      int       `mapstructure:"tile_size"`      // 0 表示整图直接推理
	TilePad       int       `mapstructure:"tile_pad"`
	PrePad        int       `mapstructure:"pre_pad"`
	Precision     string    `mapstructure:"precision"` // full, half
	Device        int       `mapstructure:"device"`    // GPU编号，-1 表示CPU
	Outscale      float64   `mapstructure:"outscale"`  // 0 表示按网络倍数输出

	GraphPath   string `mapstructure:"graph_path"`   // graph 后端的 onnx 图路径
	OrtLibPath  string `mapstructure:"ort_lib_path"` // onnxruntime 动态库路径
	Endpoint    string `mapstructure:"endpoint"`     // remote 后端地址
	ModelName   string `mapstructure:"model_name"`
	ModelVer    string `mapstructure:"model_version"`
	Repository  string `mapstructure:"repository"` // hosted 后端的仓库标识
	HubEndpoint string `mapstructure:"hub_endpoint"`
	WeightsDir  string `mapstructure:"weights_dir"` // hosted 权重落盘目录
}

type PipelineConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	Writers   int `mapstructure:"writers"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 20*1024*1024)
	v.SetDefault("upload.upload_dir", "./uploads")
	v.SetDefault("upload.output_dir", "./results")
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg"})
	v.SetDefault("upload.cleanup_temp", true)

	v.SetDefault("model.backend", "graph")
	v.SetDefault("model.scale", 4)
	v.SetDefault("model.tile_size", 0)
	v.SetDefault("model.tile_pad", 10)
	v.SetDefault("model.pre_pad", 10)
	v.SetDefault("model.precision", "full")
	v.SetDefault("model.device", -1)
	v.SetDefault("model.graph_path", "./weights/realesrgan-x4.onnx")
	v.SetDefault("model.hub_endpoint", "https://huggingface.co")
	v.SetDefault("model.weights_dir", "./weights")

	v.SetDefault("pipeline.queue_size", 4)
	v.SetDefault("pipeline.writers", 2)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      20 * 1024 * 1024,
			UploadDir:    "./uploads",
			OutputDir:    "./results",
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
			CleanupTemp:  true,
		},
		Model: ModelConfig{
			Backend:     "graph",
			Scale:       4,
			TileSize:    0,
			TilePad:     10,
			PrePad:      10,
			Precision:   "full",
			Device:      -1,
			GraphPath:   "./weights/realesrgan-x4.onnx",
			HubEndpoint: "https://huggingface.co",
			WeightsDir:  "./weights",
		},
		Pipeline: PipelineConfig{
			QueueSize: 4,
			Writers:   2,
		},
	}
}
