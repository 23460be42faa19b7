package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/auth"
	"github.com/inkfold/pilot/backend/internal/cache"
	"github.com/inkfold/pilot/backend/internal/collab"
	"github.com/inkfold/pilot/backend/internal/comments"
	"github.com/inkfold/pilot/backend/internal/config"
	"github.com/inkfold/pilot/backend/internal/database"
	"github.com/inkfold/pilot/backend/internal/extract"
	"github.com/inkfold/pilot/backend/internal/logging"
	"github.com/inkfold/pilot/backend/internal/outline"
	"github.com/inkfold/pilot/backend/internal/positioning"
	"github.com/inkfold/pilot/backend/internal/server"
	"github.com/inkfold/pilot/backend/internal/suggest"
	"github.com/inkfold/pilot/backend/internal/textgen"
	"github.com/inkfold/pilot/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pilot-api",
		Short: "Pilot book-writing backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for the tree cache (empty disables)")
	cmd.PersistentFlags().String("genai-api-key", "", "Gemini API key (overrides env)")
	cmd.PersistentFlags().String("genai-models", defaults.GetString("genai.models"), "Comma-separated generation model fallback list")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "genai.api_key", "genai-api-key")
	bindFlag(cmd, "genai.models", "genai-models")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "pilot-auth",
		Audience:      "pilot-api",
		TokenTTL:      time.Duration(appConfig.TokenTTLMins) * time.Minute,
	})

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}
	outlineService, err := outline.NewService(outline.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	policy, err := access.NewPolicy(access.PolicyConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	authority, err := collab.NewAuthority(collab.AuthorityConfig{
		Database: db, Policy: policy, Outline: outlineService, Logger: logger,
	})
	if err != nil {
		return err
	}
	ledger, err := suggest.NewLedger(suggest.LedgerConfig{
		Database: db, Policy: policy, Outline: outlineService, Logger: logger,
	})
	if err != nil {
		return err
	}
	commentService, err := comments.NewService(comments.ServiceConfig{
		Database: db, Policy: policy, Outline: outlineService, Logger: logger,
	})
	if err != nil {
		return err
	}

	var writer textgen.Writer = textgen.UnavailableWriter{}
	if appConfig.GenaiAPIKey != "" {
		geminiWriter, err := textgen.NewGeminiWriter(ctx, textgen.GeminiWriterConfig{
			APIKey: appConfig.GenaiAPIKey,
			Models: appConfig.GenaiModels,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		writer = geminiWriter
	} else {
		logger.Warn("no generation api key configured, pillar chat will fail upstream")
	}

	positioningService, err := positioning.NewService(positioning.ServiceConfig{
		Database: db, Policy: policy, Outline: outlineService, Writer: writer, Logger: logger,
	})
	if err != nil {
		return err
	}

	// dependents clean up their own rows inside outline cascade deletes
	outlineService.RegisterPurger(authority)
	outlineService.RegisterPurger(ledger)
	outlineService.RegisterPurger(commentService)
	outlineService.RegisterBookPurger(policy)
	outlineService.RegisterBookPurger(positioningService)

	treeCache := cache.NewTreeCache(cache.TreeCacheConfig{Addr: appConfig.RedisAddr, Logger: logger})
	defer treeCache.Close() //nolint:errcheck
	if treeCache != nil {
		logger.Info("tree cache enabled", zap.String("redis_addr", appConfig.RedisAddr))
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Users:        usersService,
		Outline:      outlineService,
		Policy:       policy,
		Authority:    authority,
		Ledger:       ledger,
		Comments:     commentService,
		Positioning:  positioningService,
		TreeCache:    treeCache,
		Extractor:    extract.NewExtractor(logger),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
