// Command storefrontctl runs operational data tasks against the storefront Firestore database.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/southernsense/storefront/internal/platform/config"
	pfirestore "github.com/southernsense/storefront/internal/platform/firestore"
	"github.com/southernsense/storefront/internal/platform/observability"
	"github.com/southernsense/storefront/internal/platform/secrets"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries the flags shared by every subcommand and the lazily built runtime.
type app struct {
	envFile  string
	logLevel string

	logger  *zap.Logger
	cfg     config.Config
	closers []func()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "storefrontctl",
		Short:        "Operational tools for the Southern Sense storefront",
		SilenceUsage: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file merged under the process environment")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newExportCmd(a),
		newImportCmd(a),
		newExpirePendingCmd(a),
	)
	return root
}

// setup loads configuration, resolving secret:// references through Secret Manager.
func (a *app) setup(ctx context.Context) error {
	if a.logger != nil {
		return nil
	}
	logger, err := observability.NewLogger(a.logLevel)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	a.logger = logger.Named("storefrontctl")
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	env, err := config.EnvironmentValues(config.WithEnvFile(a.envFile))
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	fetcherOpts := []secrets.Option{secrets.WithLogger(a.logger.Named("secrets"))}
	if project := firstNonEmpty(env["API_SECRET_DEFAULT_PROJECT_ID"], env["API_FIREBASE_PROJECT_ID"]); project != "" {
		fetcherOpts = append(fetcherOpts, secrets.WithDefaultProject(project))
	}
	if credentials := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_FILE"]); credentials != "" {
		fetcherOpts = append(fetcherOpts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	fetcher, err := secrets.NewFetcher(ctx, fetcherOpts...)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	a.closers = append(a.closers, func() { _ = fetcher.Close() })

	cfg, err := config.Load(ctx,
		config.WithEnvFile(a.envFile),
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid configuration: %s", strings.Join(invalid.Fields(), ", "))
		}
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}

func (a *app) firestoreProvider() *pfirestore.Provider {
	provider := pfirestore.NewProvider(a.cfg.Firestore, pfirestore.WithCredentialsFile(a.cfg.Firebase.CredentialsFile))
	a.closers = append(a.closers, func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

// close runs registered closers in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
