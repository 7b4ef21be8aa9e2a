package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/miragespace/premium/db"
	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/external"
	"github.com/miragespace/premium/premium"
	"github.com/miragespace/premium/reminder"
	"github.com/miragespace/premium/subscription"
	"github.com/miragespace/premium/webhook"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type app struct {
	logger    *zap.Logger
	dbURI     string
	stripeKey string

	subscriptionManager *subscription.Manager
}

func (a *app) connect() error {
	if a.subscriptionManager != nil {
		return nil
	}
	gormDB, err := db.New(db.Options{
		URI:    a.dbURI,
		Logger: a.logger,
	})
	if err != nil {
		return err
	}
	a.subscriptionManager, err = subscription.NewManager(subscription.ManagerOptions{
		DB:     gormDB,
		Logger: a.logger,
	})
	return err
}

func (a *app) premiumManager() (*premium.Manager, error) {
	if err := a.connect(); err != nil {
		return nil, err
	}
	return premium.NewManager(premium.ManagerOptions{
		SubscriptionManager: a.subscriptionManager,
		Logger:              a.logger,
	})
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	a := &app{logger: logger}

	root := &cobra.Command{
		Use:           "premiumctl",
		Short:         "Operate the premium entitlement engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&a.dbURI, "db", os.Getenv("POSTGRES_URI"), "database URI (PostgreSQL, or a SQLite file)")
	root.PersistentFlags().StringVar(&a.stripeKey, "stripe-key", os.Getenv("STRIPE_KEY"), "Stripe secret key, needed by resync")

	root.AddCommand(
		newProfileCmd(a),
		newUpsertCmd(a),
		newRemindersCmd(a),
		newResyncCmd(a),
	)
	return root
}

func newProfileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "profile <userId>",
		Short: "Print the premium profile of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.premiumManager()
			if err != nil {
				return err
			}
			profile, err := m.GetProfile(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, profile)
		},
	}
}

func newUpsertCmd(a *app) *cobra.Command {
	var tier, status, source string
	cmd := &cobra.Command{
		Use:   "upsert <userId>",
		Short: "Create or update the subscription of a user",
		Example: `  premiumctl upsert user-1 --tier PREMIUM
  premiumctl upsert user-1 --tier CONCIERGE --status TRIALING --source support`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := entitlement.ParseTier(tier)
			if err != nil {
				return err
			}
			var s subscription.Status
			if len(status) > 0 {
				if s, err = subscription.ParseStatus(status); err != nil {
					return err
				}
			}
			m, err := a.premiumManager()
			if err != nil {
				return err
			}
			profile, err := m.Upsert(context.Background(), premium.UpsertRequest{
				UserID: args[0],
				Tier:   t,
				Status: s,
				Source: source,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, profile)
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "STANDARD, PREMIUM or CONCIERGE")
	cmd.Flags().StringVar(&status, "status", "", "subscription status, ACTIVE when empty")
	cmd.Flags().StringVar(&source, "source", "premiumctl", "recorded as the metadata source")
	cmd.MarkFlagRequired("tier")
	return cmd
}

func newRemindersCmd(a *app) *cobra.Command {
	reminders := &cobra.Command{
		Use:   "reminders",
		Short: "Payment reminder commands",
	}

	var at string
	dispatch := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one reminder batch, logging instead of publishing",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if len(at) > 0 {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
				now = parsed
			}
			if err := a.connect(); err != nil {
				return err
			}
			d, err := reminder.NewDispatcher(reminder.DispatcherOptions{
				SubscriptionManager: a.subscriptionManager,
				Notifier:            &reminder.LogNotifier{Logger: a.logger},
				Logger:              a.logger,
			})
			if err != nil {
				return err
			}
			result, err := d.Dispatch(context.Background(), now)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	dispatch.Flags().StringVar(&at, "now", "", "evaluate at this RFC3339 time instead of the wall clock")

	reminders.AddCommand(dispatch)
	return reminders
}

func newResyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resync <stripeSubscriptionId>",
		Short: "Fetch a subscription from Stripe and reconcile it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := external.NewStripeClient(a.stripeKey)
			if sc == nil {
				return fmt.Errorf("--stripe-key is required")
			}
			if err := a.connect(); err != nil {
				return err
			}
			r, err := webhook.NewReconciler(webhook.ReconcilerOptions{
				SubscriptionManager: a.subscriptionManager,
				Provider:            webhook.StripeProvider{},
				StripeClient:        sc,
				Logger:              a.logger,
			})
			if err != nil {
				return err
			}
			outcome, err := r.Resync(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"stripeSubscriptionId": args[0],
				"outcome":              string(outcome),
			})
		},
	}
}
