package config

import (
	"github.com/spf13/viper"
)

const NodeNameEnvVar = "NODE_NAME"

type Config struct {
	EnableOvsTracing         bool   `mapstructure:"ovsTracingEnabled"`
	EnableDropTracing        bool   `mapstructure:"dropTracingEnabled"`
	EnablePrometheusExporter bool   `mapstructure:"prometheusExporterEnabled"`
	PerfBufferPages          int    `mapstructure:"perfBufferPages"`
	OvsEventsMapPath         string `mapstructure:"ovsEventsMapPath"`
	DropEventsMapPath        string `mapstructure:"dropEventsMapPath"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("ovsTracingEnabled", true)
	viper.SetDefault("dropTracingEnabled", true)
	viper.SetDefault("perfBufferPages", 64)
	viper.SetDefault("ovsEventsMapPath", "/sys/fs/bpf/datapath-agent/ovs_events")
	viper.SetDefault("dropEventsMapPath", "/sys/fs/bpf/datapath-agent/drop_events")

	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		return Config{}, err
	}

	var config Config
	err = viper.Unmarshal(&config)
	return config, err
}
