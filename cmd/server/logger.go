package main

import (
	"github.com/sventek/iot-device-hub/internal/config"
	"github.com/sventek/iot-device-hub/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
