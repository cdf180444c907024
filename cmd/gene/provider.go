package main

import (
	"log/slog"

	"github.com/ashureev/gene-chat/internal/config"
	"github.com/ashureev/gene-chat/internal/provider"
)

// newProvider builds the configured completion provider. The returned func
// releases it.
func newProvider(cfg config.ProviderConfig, logger *slog.Logger) (provider.Provider, string, func(), error) {
	if cfg.Kind == config.ProviderGrpc {
		c, err := provider.NewGrpc(provider.DefaultGrpcConfig(cfg.GrpcAddr), logger)
		if err != nil {
			return nil, "", nil, err
		}
		return c, config.ProviderGrpc, c.Close, nil
	}

	p, err := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, "", nil, err
	}
	return p, config.ProviderOpenAI, func() {}, nil
}
