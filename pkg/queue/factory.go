package queue

import (
	"fmt"

	"npuprof/pkg/config"
	"npuprof/pkg/interfaces"
	"npuprof/pkg/queue/asynq"
)

// CreateQueueProvider creates queue provider
func CreateQueueProvider(cfg *config.Config, providerType string) (interfaces.QueueProvider, error) {
	switch providerType {
	case "asynq", "redis", "":
		return asynq.NewManager(cfg.Redis, cfg.Queue)
	default:
		return nil, fmt.Errorf("unsupported queue provider type: %s", providerType)
	}
}
