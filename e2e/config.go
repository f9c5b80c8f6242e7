package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_RELAY_WS is the websocket endpoint of a running relay, the suites skip when it is empty
	RelayWS   string `envconfig:"E2E_RELAY_WS"`
	RelayHTTP string `envconfig:"E2E_RELAY_HTTP" default:"http://localhost:8080"`
	RelayGRPC string `envconfig:"E2E_RELAY_GRPC" default:"localhost:9090"`
	JWTSecret string `envconfig:"E2E_JWT_SECRET"`
	JWTIssuer string `envconfig:"E2E_JWT_ISSUER" default:"chat-relay"`
	// E2E_DEBUG_JSON allows dumping full gRPC request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
