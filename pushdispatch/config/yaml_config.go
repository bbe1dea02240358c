package config

import (
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/platform/apns"
	"github.com/tinywideclouds/go-push-dispatch/internal/platform/web"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	Enabled         bool   `yaml:"enabled"`
	ClaimTTLSeconds int    `yaml:"claim_ttl_seconds"`
}

type YamlAPNSConfig struct {
	KeyID       string `yaml:"key_id"`
	TeamID      string `yaml:"team_id"`
	BundleID    string `yaml:"bundle_id"`
	P8Key       string `yaml:"p8_key"`
	Development bool   `yaml:"development"`
}

type YamlVapidConfig struct {
	PublicKey       string `yaml:"public_key"`
	PrivateKey      string `yaml:"private_key"`
	SubscriberEmail string `yaml:"subscriber_email"`
}

type YamlPoolConfig struct {
	Name            string `yaml:"name"`
	Platform        string `yaml:"platform"`
	Workers         int    `yaml:"workers"`
	AllowDuplicates bool   `yaml:"allow_duplicates"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string           `yaml:"project_id"`
	ListenAddr             string           `yaml:"listen_addr"`
	TopicID                string           `yaml:"topic_id"`
	SubscriptionID         string           `yaml:"subscription_id"`
	SubscriptionDLQTopicID string           `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int              `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig   `yaml:"cors"`
	RedisConfig            YamlRedisConfig  `yaml:"redis"`
	APNSConfig             YamlAPNSConfig   `yaml:"apns"`
	VapidConfig            YamlVapidConfig  `yaml:"vapid"`
	Pools                  []YamlPoolConfig `yaml:"pools"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	claimTTL := 15 * time.Minute
	if baseCfg.RedisConfig.ClaimTTLSeconds > 0 {
		claimTTL = time.Duration(baseCfg.RedisConfig.ClaimTTLSeconds) * time.Second
	}

	cfg := &Config{
		ProjectID:              baseCfg.ProjectID,
		ListenAddr:             baseCfg.ListenAddr,
		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			ClaimTTL: claimTTL,
		},
		APNS: apns.Config{
			KeyID:        baseCfg.APNSConfig.KeyID,
			TeamID:       baseCfg.APNSConfig.TeamID,
			BundleID:     baseCfg.APNSConfig.BundleID,
			P8KeyContent: baseCfg.APNSConfig.P8Key,
			Development:  baseCfg.APNSConfig.Development,
		},
		Vapid: web.Config{
			PublicKey:       baseCfg.VapidConfig.PublicKey,
			PrivateKey:      baseCfg.VapidConfig.PrivateKey,
			SubscriberEmail: baseCfg.VapidConfig.SubscriberEmail,
		},
	}

	for _, pool := range baseCfg.Pools {
		cfg.Pools = append(cfg.Pools, PoolConfig{
			Name:            pool.Name,
			Platform:        pool.Platform,
			Workers:         pool.Workers,
			AllowDuplicates: pool.AllowDuplicates,
		})
	}

	if baseCfg.NumPipelineWorkers == 0 {
		logger.Debug("Defaulting pipeline workers", "value", 5)
		cfg.NumPipelineWorkers = 5
	}
	if baseCfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(baseCfg.SubscriptionID)
	}

	return cfg, nil
}
