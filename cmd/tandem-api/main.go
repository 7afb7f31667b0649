package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tandemlabs/tandem/backend/internal/auth"
	"github.com/tandemlabs/tandem/backend/internal/config"
	"github.com/tandemlabs/tandem/backend/internal/content"
	"github.com/tandemlabs/tandem/backend/internal/database"
	"github.com/tandemlabs/tandem/backend/internal/logging"
	"github.com/tandemlabs/tandem/backend/internal/notify"
	"github.com/tandemlabs/tandem/backend/internal/pairing"
	"github.com/tandemlabs/tandem/backend/internal/reward"
	"github.com/tandemlabs/tandem/backend/internal/server"
	"github.com/tandemlabs/tandem/backend/internal/session"
)

const catalogItemsPerType = 14

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tandem-api",
		Short: "Tandem shared quest and reward backend service",
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
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for the shared session store (empty disables)")
	cmd.PersistentFlags().String("redis-channel", defaults.GetString("redis.channel"), "Redis pub/sub channel for pair events")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().Int("day-offset-hours", defaults.GetInt("reward.day_offset_hours"), "Hours the reward-day boundary shifts from midnight UTC")
	cmd.PersistentFlags().Bool("unlimited-content-mode", defaults.GetBool("reward.unlimited_content_mode"), "Allow replaying content after the daily grant")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "redis.channel", "redis-channel")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "reward.day_offset_hours", "day-offset-hours")
	bindFlag(cmd, "reward.unlimited_content_mode", "unlimited-content-mode")
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

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})

	pairService, err := pairing.NewService(pairing.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	rewardService, err := reward.NewService(reward.ServiceConfig{
		Database:             db,
		Logger:               logger,
		OffsetHours:          appConfig.DayOffsetHours,
		UnlimitedContentMode: appConfig.UnlimitedContentMode,
		Amounts:              appConfig.RewardAmounts,
	})
	if err != nil {
		return err
	}

	catalog, err := buildCatalog(appConfig.ContentTypes)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher()

	var sessionStore *session.Store
	if appConfig.RedisAddress != "" {
		sessionStore, err = session.NewStore(session.Config{
			Address: appConfig.RedisAddress,
			Channel: appConfig.RedisChannel,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer sessionStore.Close() //nolint:errcheck
	}

	contentConfig := content.ServiceConfig{
		Database:    db,
		IDProvider:  content.NewUUIDProvider(),
		Logger:      logger,
		Catalog:     catalog,
		Pairs:       pairService,
		Rewards:     rewardService,
		Notifier:    dispatcher,
		OffsetHours: appConfig.DayOffsetHours,
	}
	if sessionStore != nil {
		contentConfig.Sessions = sessionStore
	}
	contentService, err := content.NewService(contentConfig)
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if sessionStore != nil {
		// Events published by other instances reach this instance's SSE
		// subscribers through the Redis channel.
		if err := sessionStore.StartForwarder(signalCtx, dispatcher.Publish); err != nil {
			logger.Warn("event forwarder unavailable", zap.Error(err))
		}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		PairingService: pairService,
		ContentService: contentService,
		RewardService:  rewardService,
		Realtime:       dispatcher,
		Logger:         logger,
		DayOffsetHours: appConfig.DayOffsetHours,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

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

// buildCatalog seeds a deterministic rotation per content type. A managed
// content source can replace this wholesale; the engine only depends on the
// Catalog interface.
func buildCatalog(contentTypes []string) (content.Catalog, error) {
	entries := make(map[content.ContentType][]content.CatalogItem, len(contentTypes))
	for _, rawType := range contentTypes {
		contentType, err := content.NewContentType(rawType)
		if err != nil {
			return nil, err
		}
		items := make([]content.CatalogItem, 0, catalogItemsPerType)
		for index := 0; index < catalogItemsPerType; index++ {
			payload, err := json.Marshal(map[string]interface{}{
				"content_type": contentType.String(),
				"sequence":     index + 1,
			})
			if err != nil {
				return nil, err
			}
			items = append(items, content.CatalogItem{
				Title:   fmt.Sprintf("%s #%d", contentType, index+1),
				Payload: payload,
			})
		}
		entries[contentType] = items
	}
	return content.NewStaticCatalog(entries)
}
