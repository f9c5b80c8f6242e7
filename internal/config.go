package internal

import (
	"chat-relay/domain"
	"chat-relay/runtime"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Host            string        `env:"HOST,default=0.0.0.0" validate:"required"`
	Port            int           `env:"PORT,default=8080" validate:"min=1,max=65535"`
	GrpcPort        int           `env:"GRPC_PORT,default=9090" validate:"min=1,max=65535,nefield=Port"`
	InspectPort     int           `env:"INSPECT_PORT,default=8081" validate:"min=1,max=65535"`
	LogLevel        string        `env:"LOG_LEVEL,default=INFO" validate:"required"`
	BadgerFilepath  string        `env:"BADGER_FILEPATH,required=true" validate:"required"`
	JWTSecret       string        `env:"JWT_SECRET,required=true" validate:"required,min=8"`
	JWTIssuer       string        `env:"JWT_ISSUER,default=chat-relay" validate:"required"`
	MaxPayloadBytes int           `env:"MAX_PAYLOAD_BYTES,default=65536" validate:"min=1"`
	MaxBacklog      int           `env:"MAX_BACKLOG_PER_USER,default=100" validate:"min=1"`
	MaxRetries      int           `env:"MAX_RETRIES,default=5" validate:"min=1"`
	RetryBaseDelay  time.Duration `env:"RETRY_BASE_DELAY,default=200ms" validate:"gt=0"`
	RetryMaxDelay   time.Duration `env:"RETRY_MAX_DELAY,default=10s" validate:"gtefield=RetryBaseDelay"`
	AckTimeout      time.Duration `env:"ACK_TIMEOUT,default=30s" validate:"gte=0"`
	AckMode         string        `env:"ACK_MODE,default=client" validate:"oneof=client transport"`
	AuthTimeout     time.Duration `env:"AUTH_TIMEOUT,default=10s" validate:"gt=0"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT,default=60s" validate:"gte=0"`

	NumberOfWorkers      int           `env:"NUMBER_OF_WORKERS,default=4" validate:"min=1"`
	BufferSize           int           `env:"BUFFER_SIZE,default=1024" validate:"min=1"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64" validate:"min=1"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s" validate:"gt=0"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=15s" validate:"gt=0"`
	DedupCacheSize       int           `env:"DEDUP_CACHE_SIZE,default=4096" validate:"min=1"`
	LockStripes          int           `env:"LOCK_STRIPES,default=64" validate:"min=1"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=5s" validate:"gt=0"`
}

// Validate checks the semantic constraints the env tags cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c Config) Runtime() runtime.Config {
	return runtime.Config{
		NumWorkers:  c.NumberOfWorkers,
		BufferSize:  c.BufferSize,
		SinkTimeout: c.SinkTimeout,
		LockStripes: c.LockStripes,
		Router: runtime.RouterConfig{
			MaxPayloadBytes: c.MaxPayloadBytes,
			DedupCacheSize:  c.DedupCacheSize,
		},
		Ledger: runtime.LedgerConfig{
			MaxBacklogPerUser: c.MaxBacklog,
			MaxRetries:        c.MaxRetries,
			RetryBaseDelay:    c.RetryBaseDelay,
			RetryMaxDelay:     c.RetryMaxDelay,
			AckTimeout:        c.AckTimeout,
		},
	}
}

func (c Config) Session() runtime.SessionConfig {
	return runtime.SessionConfig{
		AuthTimeout:    c.AuthTimeout,
		IdleTimeout:    c.IdleTimeout,
		AckMode:        domain.AckMode(c.AckMode),
		OutboundBuffer: c.ConnectionBufferSize,
	}
}
