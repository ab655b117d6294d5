package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/eaccounting-client/pkg/auth"
	"github.com/Sternrassler/eaccounting-client/pkg/client"
	"github.com/Sternrassler/eaccounting-client/pkg/logging"
	"github.com/Sternrassler/eaccounting-client/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// apiPrefix is stripped from incoming paths before they are forwarded.
const apiPrefix = "/api"

func main() {
	// Configuration from environment
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	port := getEnv("PORT", "8080")
	userAgent := getEnv("USER_AGENT", "eaccounting-proxy/1.0")
	baseURL := getEnv("API_BASE_URL", client.DefaultBaseURL)
	tenant := getEnv("TENANT", "")

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") != "",
		Output: os.Stderr,
	})
	logger := logging.ForTenant("proxy", tenant)

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Str("redis", redisURL).Msg("Failed to connect to Redis")
	}
	logger.Info().Str("redis", redisURL).Msg("Connected to Redis")

	tokens, err := tokenProvider(ctx, redisClient, tenant, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up credentials")
	}

	cfg := client.DefaultConfig(tokens)
	cfg.BaseURL = baseURL
	cfg.UserAgent = userAgent
	cfg.Redis = redisClient
	cfg.Tenant = tenant

	apiClient, err := client.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API client")
	}
	defer apiClient.Close()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(redisClient, apiClient, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("user_agent", userAgent).Msg("Starting proxy server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Proxy stopped")
}

// tokenProvider prefers a fixed ACCESS_TOKEN. Otherwise it builds a
// refreshing holder from CLIENT_ID/CLIENT_SECRET and a token persisted in
// Redis, seeded by REFRESH_TOKEN on first start.
func tokenProvider(ctx context.Context, rdb *redis.Client, tenant string, logger zerolog.Logger) (auth.TokenProvider, error) {
	if access := os.Getenv("ACCESS_TOKEN"); access != "" {
		return auth.NewStaticHolder(access), nil
	}

	clientID := os.Getenv("CLIENT_ID")
	if clientID == "" {
		return nil, fmt.Errorf("ACCESS_TOKEN or CLIENT_ID is required")
	}
	oauthCfg := auth.DefaultOAuthConfig(clientID, os.Getenv("CLIENT_SECRET"), getEnv("REDIRECT_URL", ""))
	if tokenURL := os.Getenv("TOKEN_URL"); tokenURL != "" {
		oauthCfg.Endpoint.TokenURL = tokenURL
	}

	var seed *oauth2.Token
	if refresh := os.Getenv("REFRESH_TOKEN"); refresh != "" {
		seed = &oauth2.Token{RefreshToken: refresh}
	}

	key := tenant
	if key == "" {
		key = clientID
	}
	holder := auth.NewHolder(oauthCfg, seed,
		auth.WithStore(auth.NewRedisStore(rdb), key),
		auth.WithLogger(logger.With().Str("component", "auth").Logger()),
	)
	if err := holder.Restore(ctx); err != nil && !errors.Is(err, auth.ErrTokenNotFound) {
		return nil, fmt.Errorf("restore token: %w", err)
	}
	if holder.Current() == nil {
		return nil, fmt.Errorf("no stored token and REFRESH_TOKEN not set")
	}
	return holder, nil
}

func newMux(redisClient *redis.Client, apiClient *client.Client, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient, apiClient))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc(apiPrefix+"/", apiProxyHandler(apiClient, logger))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready when Redis answers and the quota window is
// not exhausted.
func readyHandler(redisClient *redis.Client, apiClient *client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}

		if tracker := apiClient.Tracker(); tracker != nil {
			state, err := tracker.GetState(ctx)
			if err == nil && state.NeedsBlock() {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(state.TimeUntilReset().Seconds())+1))
				http.Error(w, "quota exhausted", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// apiProxyHandler forwards read-only requests through the client, so they
// share its pacing, quota tracking and cache.
func apiProxyHandler(apiClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		// /api/customers/42 -> /customers/42
		path := strings.TrimPrefix(r.URL.Path, apiPrefix)
		if strings.Trim(path, "/") == "" {
			http.Error(w, "missing resource path", http.StatusNotFound)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		resp, err := apiClient.Get(ctx, path, r.URL.Query())
		if err != nil {
			writeUpstreamError(w, err, logger)
			return
		}
		defer resp.Body.Close()

		for _, key := range []string{"Content-Type", "ETag", "Cache-Control", "X-Cache"} {
			if v := resp.Header.Get(key); v != "" {
				w.Header().Set(key, v)
			}
		}
		w.WriteHeader(resp.StatusCode)

		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to write response")
		}
	}
}

// writeUpstreamError passes API errors through with their status and maps
// everything else to 502.
func writeUpstreamError(w http.ResponseWriter, err error, logger zerolog.Logger) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Body != "" {
			http.Error(w, apiErr.Body, apiErr.StatusCode)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		if encErr := json.NewEncoder(w).Encode(apiErr); encErr != nil {
			logger.Warn().Err(encErr).Int("status", apiErr.StatusCode).Msg("Failed to write error response")
		}
		return
	}

	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	http.Error(w, fmt.Sprintf("upstream request failed: %v", err), status)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
