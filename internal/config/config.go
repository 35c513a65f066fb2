package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN         string `env:"DATABASE_DSN,required=true"`
	RedisURL            string `env:"REDIS_URL,required=true"`
	RabbitMQURL         string `env:"RABBITMQ_URL,required=true"`
	SignalingGatewayURL string `env:"SIGNALING_GATEWAY_URL,required=true"`
	APIKey              string `env:"API_KEY,required=true"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	TimerSweepIntervalMS int `env:"TIMER_SWEEP_INTERVAL_MS,default=1000"`
	TimerSweepLimit      int `env:"TIMER_SWEEP_LIMIT,default=100"`
	RingTimeoutSec       int `env:"RING_TIMEOUT_SEC,default=30"`
	MaxCallDurationSec   int `env:"MAX_CALL_DURATION_SEC,default=7200"`

	OrchestratorTickMS int `env:"ORCHESTRATOR_TICK_MS,default=2000"`
	ReserveBatch       int `env:"RESERVE_BATCH,default=10"`
	MaxDialsPerTick    int `env:"MAX_DIALS_PER_TICK,default=10"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=16"`
	WorkerPrefetch    int `env:"WORKER_PREFETCH,default=8"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) TimerSweepInterval() time.Duration {
	return time.Duration(c.TimerSweepIntervalMS) * time.Millisecond
}

func (c *Config) RingTimeout() time.Duration {
	return time.Duration(c.RingTimeoutSec) * time.Second
}

func (c *Config) MaxCallDuration() time.Duration {
	return time.Duration(c.MaxCallDurationSec) * time.Second
}

func (c *Config) OrchestratorTick() time.Duration {
	return time.Duration(c.OrchestratorTickMS) * time.Millisecond
}
