// internal/workers/agent/booking-contract-toggle/config.go
package bookingcontracttoggle

import (
	"time"

	"agent-engine/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func LoadConfig(cfg *config.Config) *Config {
	wc := config.GetWorkerConfig(cfg, TaskType)
	return &Config{
		Timeout: config.GetDuration(wc.Timeout),
	}
}
