package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/config"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/database"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/edits"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/server"
	"github.com/MarcoPoloResearchLab/gravity-edits/backend/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "edits-api",
		Short: "Suggested-edit workflow backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand(), newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres connection string")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().Int64("auto-approve-threshold", defaults.GetInt64("moderation.auto_approve_threshold"), "Net score that approves a proposal")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for cross-instance realtime events")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "moderation.auto_approve_threshold", "auto-approve-threshold")
	bindFlag(cmd, "redis.url", "redis-url")
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

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema and apply data migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbConfig, err := config.LoadDatabase(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(viper.GetString("log.level"))
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.Open(dbConfig, logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func newIssueTokenCommand() *cobra.Command {
	var (
		userID      string
		displayName string
		email       string
		roles       []string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a development session token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			authConfig := config.AuthConfig{
				SigningSecret: viper.GetString("auth.signing_secret"),
				Issuer:        viper.GetString("auth.issuer"),
			}
			if authConfig.SigningSecret == "" {
				return fmt.Errorf("auth.signing_secret is required")
			}
			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(authConfig.SigningSecret),
				Issuer:        authConfig.Issuer,
				TTL:           ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(auth.SessionIdentity{
				UserID:      userID,
				DisplayName: displayName,
				Email:       email,
				Roles:       roles,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "User identifier embedded in the session")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name embedded in the session")
	cmd.Flags().StringVar(&email, "email", "", "Email embedded in the session")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to grant (viewer, editor, moderator, admin); repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (defaults to 12h)")
	if err := cmd.MarkFlagRequired("user-id"); err != nil {
		panic(err)
	}
	return cmd
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

	db, err := database.Open(appConfig.Database, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.Auth.SigningSecret),
		Issuer:        appConfig.Auth.Issuer,
		CookieName:    appConfig.Auth.CookieName,
	})
	if err != nil {
		return err
	}

	identities, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := server.NewRealtimeDispatcher()
	if appConfig.RedisURL != "" {
		redisOptions, err := redis.ParseURL(appConfig.RedisURL)
		if err != nil {
			return fmt.Errorf("redis.url: %w", err)
		}
		redisClient := redis.NewClient(redisOptions)
		defer redisClient.Close()

		bridge, err := server.NewRedisBridge(redisClient, server.DefaultRealtimeChannel, dispatcher, logger)
		if err != nil {
			return err
		}
		if err := bridge.Start(signalCtx); err != nil {
			return fmt.Errorf("redis bridge: %w", err)
		}
		defer bridge.Close() //nolint:errcheck
	}

	editsService, err := edits.NewService(edits.ServiceConfig{
		Database:              db,
		Clock:                 time.Now,
		IDProvider:            edits.NewUUIDProvider(),
		Authorizer:            identities,
		Events:                dispatcher,
		Logger:                logger,
		AutoApproveThreshold:  appConfig.Moderation.AutoApproveThreshold,
		MinRejectReasonLength: appConfig.Moderation.MinRejectReasonLength,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator:   sessionValidator,
		Identities:         identities,
		EditsService:       editsService,
		Realtime:           dispatcher,
		CORSAllowedOrigins: appConfig.CORSAllowedOrigins,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}
	httpServer.BaseContext = func(net.Listener) context.Context {
		return signalCtx
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
