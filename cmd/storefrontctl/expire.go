package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/southernsense/storefront/internal/di"
	"github.com/southernsense/storefront/internal/platform/cartstore"
	firestoreRepo "github.com/southernsense/storefront/internal/repositories/firestore"
	"github.com/southernsense/storefront/internal/services"
)

const minExpireAge = 5 * time.Minute

// pendingExpirer is the part of the checkout service the command drives.
type pendingExpirer interface {
	ExpirePending(ctx context.Context, olderThan time.Duration) (services.ExpirePendingResult, error)
}

func newExpirePendingCmd(a *app) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "expire-pending",
		Short: "Expire abandoned pending orders, finalizing any the provider already captured",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.setup(ctx); err != nil {
				return err
			}
			checkout, err := a.checkoutService(ctx)
			if err != nil {
				return err
			}
			return runExpirePending(ctx, checkout, olderThan, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "expire pending orders created before now minus this age")
	return cmd
}

func (a *app) checkoutService(ctx context.Context) (services.CheckoutService, error) {
	registry, err := firestoreRepo.NewRegistry(a.firestoreProvider(), nil)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := cartstore.Open(a.cfg.Redis, a.cfg.Cart)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = closeStore() })

	manager, err := di.NewPaymentManager(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	container, err := di.NewContainer(ctx, a.cfg, registry, di.Infrastructure{
		CartStore: store,
		Payments:  manager,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, err
	}
	return container.Services.Checkout, nil
}

func runExpirePending(ctx context.Context, checkout pendingExpirer, olderThan time.Duration, out io.Writer) error {
	if olderThan < minExpireAge {
		return fmt.Errorf("--older-than must be at least %s", minExpireAge)
	}
	result, err := checkout.ExpirePending(ctx, olderThan)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "expired %d pending orders created before %s (%d paid after provider lookup, %d skipped)\n",
		result.Expired, result.Cutoff.UTC().Format(time.RFC3339), result.Reconciled, result.Skipped)
	return err
}
