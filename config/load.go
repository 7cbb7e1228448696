package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix 是环境变量前缀。层级用双下划线分隔：
	//
	//	MOVIEREC_CHECKPOINT__RELOAD_INTERVAL=30s -> checkpoint.reload_interval
	EnvPrefix = "MOVIEREC_"

	// ConfigPathEnvVar 指定配置文件路径。
	ConfigPathEnvVar = "MOVIEREC_CONFIG"
)

// DefaultConfigPaths 是未显式指定时依次查找的配置文件。
var DefaultConfigPaths = []string{
	"movierec.yaml",
	"config/movierec.yaml",
	"/etc/movierec/movierec.yaml",
}

// Load 加载配置：默认值 -> 配置文件（path 为空时按 MOVIEREC_CONFIG 与默认路径查找，可不存在）-> 环境变量。
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform: MOVIEREC_COLD_START__POOL_LIMIT -> cold_start.pool_limit。
// MOVIEREC_CONFIG 本身不是配置项，返回空串跳过。
func envTransform(key string) string {
	if key == ConfigPathEnvVar {
		return ""
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}
