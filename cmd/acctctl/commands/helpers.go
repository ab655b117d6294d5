// Package commands implements the acctctl subcommands.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Sternrassler/eaccounting-client/pkg/auth"
	"github.com/Sternrassler/eaccounting-client/pkg/client"
	"github.com/Sternrassler/eaccounting-client/pkg/logging"
	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	OutputFormatTable = "table"
	OutputFormatJSON  = "json"
	OutputFormatYAML  = "yaml"

	defaultJSONIndent = 2
)

// EnvKeyReplacer maps flag names to environment names (page-size -> ACCT_PAGE_SIZE).
var EnvKeyReplacer = strings.NewReplacer("-", "_")

// AddGlobalFlags registers the persistent flags and binds them to viper.
func AddGlobalFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.acctctl/config.yml)")
	flags.StringP("api", "a", client.DefaultBaseURL, "API base URL")
	flags.StringP("token", "t", "", "access token")
	flags.String("tenant", "", "company the requests belong to")
	flags.String("redis", "", "Redis address for the response cache and shared quota (optional)")
	flags.String("client-id", "", "OAuth client id for token refresh")
	flags.String("client-secret", "", "OAuth client secret for token refresh")
	flags.String("refresh-token", "", "refresh token used when no access token is given")
	flags.String("token-url", auth.DefaultTokenURL, "OAuth token endpoint")
	flags.Float64("rate", 0, "requests per second (default from client)")
	flags.Int("burst", 0, "rate limiter burst (default from client)")
	flags.StringP("output", "o", OutputFormatTable, "output format (table, json, yaml)")
	flags.String("log-level", "warn", "log level (debug, info, warn, error, disabled)")
	flags.BoolP("verbose", "v", false, "verbose output")

	for _, name := range []string{
		"config", "api", "token", "tenant", "redis", "client-id", "client-secret",
		"refresh-token", "token-url", "rate", "burst", "output", "log-level", "verbose",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// SetupLogging configures the global logger from the log-level setting.
func SetupLogging(cmd *cobra.Command, _ []string) error {
	level := viper.GetString("log-level")
	if viper.GetBool("verbose") {
		level = string(logging.LevelDebug)
	}
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(level),
		Pretty: true,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// session is an API client plus the Redis connection behind it, if any.
type session struct {
	client *client.Client
	redis  *redis.Client
}

func (s *session) Close() {
	s.client.Close()
	if s.redis != nil {
		s.redis.Close()
	}
}

// newSession builds a client from the bound flags, environment and config file.
func newSession(ctx context.Context) (*session, error) {
	s := &session{}

	if addr := viper.GetString("redis"); addr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: addr})
		if err := s.redis.Ping(ctx).Err(); err != nil {
			s.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
		}
	}

	tokens, err := tokenProvider(ctx, s.redis)
	if err != nil {
		if s.redis != nil {
			s.redis.Close()
		}
		return nil, err
	}

	cfg := client.DefaultConfig(tokens)
	cfg.BaseURL = viper.GetString("api")
	cfg.Tenant = viper.GetString("tenant")
	cfg.Redis = s.redis
	if rate := viper.GetFloat64("rate"); rate > 0 {
		cfg.RateLimit = rate
	}
	if burst := viper.GetInt("burst"); burst > 0 {
		cfg.Burst = burst
	}
	logger := logging.ForTenant("acctctl", cfg.Tenant)
	cfg.Logger = &logger

	s.client, err = client.New(cfg)
	if err != nil {
		if s.redis != nil {
			s.redis.Close()
		}
		return nil, fmt.Errorf("create client: %w", err)
	}
	return s, nil
}

func tokenProvider(ctx context.Context, rdb *redis.Client) (auth.TokenProvider, error) {
	if token := viper.GetString("token"); token != "" {
		return auth.NewStaticHolder(token), nil
	}

	clientID := viper.GetString("client-id")
	if clientID == "" {
		return nil, errors.New("no credentials: set --token (ACCT_TOKEN) or --client-id with a refresh token")
	}

	oauthCfg := auth.DefaultOAuthConfig(clientID, viper.GetString("client-secret"), "")
	oauthCfg.Endpoint.TokenURL = viper.GetString("token-url")

	var seed *oauth2.Token
	if refresh := viper.GetString("refresh-token"); refresh != "" {
		seed = &oauth2.Token{RefreshToken: refresh}
	}

	opts := []auth.HolderOption{auth.WithLogger(logging.NewLogger("auth"))}
	if rdb != nil {
		key := viper.GetString("tenant")
		if key == "" {
			key = clientID
		}
		opts = append(opts, auth.WithStore(auth.NewRedisStore(rdb), key))
	}

	holder := auth.NewHolder(oauthCfg, seed, opts...)
	if rdb != nil {
		if err := holder.Restore(ctx); err != nil && !errors.Is(err, auth.ErrTokenNotFound) {
			return nil, fmt.Errorf("restore token: %w", err)
		}
	}
	if holder.Current() == nil {
		return nil, errors.New("no refresh token: set --refresh-token (ACCT_REFRESH_TOKEN)")
	}
	return holder, nil
}

// render writes data in the configured output format. Table output uses
// header and rows; json and yaml encode data.
func render(w io.Writer, data any, header []string, rows [][]string) error {
	switch viper.GetString("output") {
	case OutputFormatJSON:
		return renderJSON(w, data)
	case OutputFormatYAML:
		return renderYAML(w, data)
	case OutputFormatTable, "":
		return renderTable(w, header, rows)
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", viper.GetString("output"))
	}
}

func renderJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding data to JSON: %w", err)
	}
	return nil
}

func renderYAML(w io.Writer, data any) error {
	// round-trip through JSON so field names match the API
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding data to YAML: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("encoding data to YAML: %w", err)
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(defaultJSONIndent)
	if err := encoder.Encode(generic); err != nil {
		return fmt.Errorf("encoding data to YAML: %w", err)
	}
	return encoder.Close()
}

func renderTable(w io.Writer, header []string, rows [][]string) error {
	if len(rows) == 0 {
		_, _ = io.WriteString(w, "No results found\n")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header(toAny(header)...)
	for _, row := range rows {
		_ = table.Append(toAny(row)...)
	}
	return table.Render()
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// commandLogger is used by commands for progress output on stderr.
func commandLogger(name string) zerolog.Logger {
	return logging.ForTenant("acctctl", viper.GetString("tenant")).With().Str("command", name).Logger()
}
