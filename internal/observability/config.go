package observability

import (
	"strings"

	"github.com/smallbiznis/registrar/internal/config"
)

// Config is the observability view of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "registrar"
	}
	protocol := cfg.Telemetry.OtelProtocol
	if protocol != "http" && protocol != "http/protobuf" {
		protocol = "grpc"
	}
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             cfg.Telemetry.LogLevel,
		LogFormat:            cfg.Telemetry.LogFormat,
		OtelEnabled:          cfg.Telemetry.OtelEnabled && strings.TrimSpace(cfg.OTLPEndpoint) != "",
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    cfg.Telemetry.SamplingRatio,
	}
}

// Debug turns on verbose request logging outside production-like
// environments.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
