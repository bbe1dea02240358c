// Package config defines the authoritative service configuration and the
// yaml/env loading chain that produces it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"
)

// PoolConfig binds one dispatch pool to the platform adapter serving it.
type PoolConfig struct {
	Name            string
	Platform        string // apns | fcm | web
	Workers         int
	AllowDuplicates bool
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// ClaimTTL bounds how long a peer claim can outlive a crashed
	// instance before Redis expires it.
	ClaimTTL time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	APNS       apns.Config
	Vapid      web.Config

	Pools []PoolConfig

	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Credential overrides: secrets arrive through the environment in
	// deployed environments, never through the embedded yaml.
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		cfg.APNS.P8KeyContent = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		cfg.Vapid.PublicKey = val
	}

	// Final validation
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if len(cfg.Pools) == 0 {
		return nil, fmt.Errorf("at least one dispatch pool is required")
	}
	seen := make(map[string]bool, len(cfg.Pools))
	for _, pool := range cfg.Pools {
		if pool.Name == "" {
			return nil, fmt.Errorf("pool name is required")
		}
		if seen[pool.Name] {
			return nil, fmt.Errorf("duplicate pool name: %s", pool.Name)
		}
		seen[pool.Name] = true
		switch pool.Platform {
		case "apns", "fcm", "web":
		default:
			return nil, fmt.Errorf("pool %s: unknown platform %q", pool.Name, pool.Platform)
		}
	}

	return cfg, nil
}
