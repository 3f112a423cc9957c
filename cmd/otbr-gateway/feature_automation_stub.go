//go:build no_automation

package main

import (
	"log/slog"

	"otbr-gateway/internal/gateway"
	"otbr-gateway/internal/web"
)

type autoStopper struct{}

func (a *autoStopper) Stop() {}

func initAutomation(_ *gateway.Gateway, _ *Config, _ *slog.Logger) (*autoStopper, []web.ServerOption) {
	return &autoStopper{}, nil
}
