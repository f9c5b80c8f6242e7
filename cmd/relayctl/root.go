package main

import (
	"chat-relay/auth"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	wsURL    string
	httpURL  string
	grpcAddr string
	token    string
	secret   string
	issuer   string
	user     string
	logLevel string
	timeout  time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Talk to a chat relay from the terminal",
		Long:          "relayctl opens relay connections to send and listen to messages, and queries presence, delivery status and the user directory.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.wsURL, "ws", "ws://localhost:8080/ws", "relay websocket endpoint")
	flags.StringVar(&opts.httpURL, "http", "http://localhost:8080", "relay HTTP API base URL")
	flags.StringVar(&opts.grpcAddr, "grpc", "localhost:9090", "relay presence gRPC address")
	flags.StringVar(&opts.token, "token", "", "bearer token (defaults to $RELAY_TOKEN)")
	flags.StringVar(&opts.secret, "secret", "", "mint a development token with this HS256 secret instead of --token")
	flags.StringVar(&opts.issuer, "issuer", "chat-relay", "issuer of minted tokens")
	flags.StringVar(&opts.user, "user", "", "identity of minted tokens")
	flags.StringVar(&opts.logLevel, "log-level", "WARN", "client log level")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout of request/response commands")

	rootCmd.AddCommand(
		newTokenCmd(opts),
		newListenCmd(opts),
		newSendCmd(opts),
		newPresenceCmd(opts),
		newStatusCmd(opts),
		newUsersCmd(opts),
	)
	return rootCmd
}

func (o *globalOptions) logger() *slog.Logger {
	return logs.GetLoggerFromString(o.logLevel)
}

// bearer returns --token, a freshly minted development token, or $RELAY_TOKEN.
func (o *globalOptions) bearer() (string, error) {
	if o.token != "" {
		return o.token, nil
	}
	if o.secret != "" {
		if o.user == "" {
			return "", errors.New("--user is required with --secret")
		}
		return auth.NewJWTProvider(o.secret, o.issuer, clock.New()).GenerateToken(o.user, nil, time.Hour)
	}
	if token := lookupEnv("RELAY_TOKEN"); token != "" {
		return token, nil
	}
	return "", errors.New("no credentials: use --token, --secret with --user, or RELAY_TOKEN")
}
