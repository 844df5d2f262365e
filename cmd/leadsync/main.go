package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitetrail/leadsync/internal/auth"
	"github.com/sitetrail/leadsync/internal/config"
	"github.com/sitetrail/leadsync/internal/crm"
	"github.com/sitetrail/leadsync/internal/database"
	"github.com/sitetrail/leadsync/internal/importer"
	"github.com/sitetrail/leadsync/internal/leadrebel"
	"github.com/sitetrail/leadsync/internal/logging"
	"github.com/sitetrail/leadsync/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	tokenIssuerName   = "leadsync-auth"
	tokenAudienceName = "leadsync-api"
)

var (
	cfgFile      string
	tokenSubject string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "leadsync",
		Short: "LeadRebel to CRM lead synchronization service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP sync service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import sessions recorded since the last sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd.Context(), func(ctx context.Context, instance *importer.Importer) (importer.Result, error) {
				return instance.ImportSessions(ctx)
			})
		},
	}

	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Backfill external ids onto existing leads by company name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd.Context(), func(ctx context.Context, instance *importer.Importer) (importer.Result, error) {
				return instance.MatchExistingLeads(ctx)
			})
		},
	}

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a service token for the sync endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenMint(cmd)
		},
	}
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "scheduler", "Subject claim for the minted token")

	rootCmd.AddCommand(serveCmd, importCmd, matchCmd, tokenCmd)

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
	cmd.PersistentFlags().String("api-url", defaults.GetString("api.url"), "LeadRebel API base URL")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("api-key", "", "LeadRebel API key (overrides env)")
	cmd.PersistentFlags().String("signing-secret", "", "Service token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "api.url", "api-url")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "api.key", "api-key")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

// buildImporter assembles the importer and its collaborators from
// configuration. The returned cleanup closes the database handle.
func buildImporter(appConfig config.AppConfig, logger *zap.Logger) (*importer.Importer, func(), error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		sqlDB.Close() //nolint:errcheck
	}

	store, err := crm.NewStore(crm.StoreConfig{
		Database:   db,
		IDProvider: crm.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	client, err := leadrebel.NewClient(leadrebel.ClientConfig{
		BaseURL:   appConfig.APIURL,
		APIKey:    appConfig.APIKey,
		Timeout:   appConfig.HTTPTimeout,
		Countries: appConfig.Countries,
		Logger:    logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	instance, err := importer.New(importer.Config{
		Source: client,
		Store:  store,
		Settings: importer.Settings{
			LeadSource:              appConfig.LeadSource,
			LeadOwner:               appConfig.LeadOwner,
			QualificationStatus:     appConfig.QualificationStatus,
			SalutationMr:            appConfig.SalutationMr,
			SalutationMrs:           appConfig.SalutationMrs,
			DefaultPhoneCountryCode: appConfig.DefaultPhoneCountryCode,
			Location:                appConfig.Location(),
		},
		Logger: logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return instance, cleanup, nil
}

func runOperation(ctx context.Context, operation func(context.Context, *importer.Importer) (importer.Result, error)) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	instance, cleanup, err := buildImporter(appConfig, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := operation(ctx, instance)
	if err != nil {
		return err
	}

	fmt.Println(result.Message)
	return nil
}

func runTokenMint(cmd *cobra.Command) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if appConfig.SigningSecret == "" {
		return errors.New("auth.signing_secret is required to mint tokens")
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuerName,
		Audience:      tokenAudienceName,
	})
	token, expiresIn, err := issuer.IssueServiceToken(tokenSubject)
	if err != nil {
		return err
	}

	cmd.Printf("%s\n", token)
	cmd.Printf("expires in %d seconds\n", expiresIn)
	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if appConfig.SigningSecret == "" {
		return errors.New("auth.signing_secret is required for serve")
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	instance, cleanup, err := buildImporter(appConfig, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuerName,
		Audience:      tokenAudienceName,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: tokenManager,
		SyncService:    instance,
		Logger:         logger,
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
