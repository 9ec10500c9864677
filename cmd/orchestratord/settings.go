package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// settings holds the process-level configuration layered CLI flags > env
// vars > config file > defaults, per the recognized env vars named in
// the external-interfaces section.
type settings struct {
	InferenceHost string
	HTTPHost      string
	HTTPPort      int
	LogLevel      string

	DataDir    string
	PolicyDir  string
	ConfigDir  string
	SigningKey string
	SkipAuth   bool
	redisAddr  string
}

// RedisAddr returns the short-term memory's Redis address.
func (s *settings) RedisAddr() string { return s.redisAddr }

func loadSettings(cmd *cobra.Command, configPath string) (*settings, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("inference_host", "http://localhost:11434")
	v.SetDefault("http_host", "0.0.0.0")
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "data")
	v.SetDefault("policy_path", "configs/policy")
	v.SetDefault("config_dir", "configs")
	v.SetDefault("signing_key", "")
	v.SetDefault("skip_auth", false)
	v.SetDefault("redis_addr", "localhost:6379")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	_ = v.BindPFlag("inference_host", cmd.Flags().Lookup("inference-host"))
	_ = v.BindPFlag("http_host", cmd.Flags().Lookup("http-host"))
	_ = v.BindPFlag("http_port", cmd.Flags().Lookup("http-port"))
	_ = v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))

	s := &settings{
		InferenceHost: v.GetString("inference_host"),
		HTTPHost:      v.GetString("http_host"),
		HTTPPort:      v.GetInt("http_port"),
		LogLevel:      v.GetString("log_level"),
		DataDir:       v.GetString("data_dir"),
		PolicyDir:     v.GetString("policy_path"),
		ConfigDir:     v.GetString("config_dir"),
		SigningKey:    v.GetString("signing_key"),
		SkipAuth:      v.GetBool("skip_auth"),
		redisAddr:     v.GetString("redis_addr"),
	}
	return s, nil
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().String("inference-host", "", "inference backend base URL (default http://localhost:11434)")
	cmd.Flags().String("http-host", "", "HTTP bind host (default 0.0.0.0)")
	cmd.Flags().Int("http-port", 0, "HTTP bind port (default 8080)")
	cmd.Flags().String("log-level", "", "zap log level (default info)")
}
