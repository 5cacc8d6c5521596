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

	firebase "firebase.google.com/go/v4"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/code-payments/iap-bridge/bridge"
	"github.com/code-payments/iap-bridge/config"
	"github.com/code-payments/iap-bridge/event"
	"github.com/code-payments/iap-bridge/event/nats"
	"github.com/code-payments/iap-bridge/iap"
	"github.com/code-payments/iap-bridge/iap/android"
	"github.com/code-payments/iap-bridge/iap/memory"
	"github.com/code-payments/iap-bridge/metrics"
	"github.com/code-payments/iap-bridge/push"
	pushmemory "github.com/code-payments/iap-bridge/push/memory"
	"github.com/code-payments/iap-bridge/rpc"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.DevLogging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	m := metrics.New()

	store, verifier, err := newStore(ctx, log, cfg)
	if err != nil {
		return err
	}
	if cfg.VerifierPublicKey != nil {
		verifier = memory.NewVerifier(cfg.VerifierPublicKey)
	}

	bus := event.NewBus[event.Type, *event.Event]()

	opts := []bridge.Option{
		bridge.WithMetrics(m),
		bridge.WithCatalogTTL(cfg.CatalogTTL),
	}
	if verifier != nil {
		opts = append(opts, bridge.WithVerifier(verifier))
	}
	b := bridge.New(log.Named("bridge"), store, bus, opts...)

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(log.Named("nats"), cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer func() {
			if err := conn.Drain(); err != nil {
				log.Warn("Failed to drain NATS connection", zap.Error(err))
			}
		}()

		remove := bus.AddHandler(nats.NewPublisher(log.Named("nats"), conn, cfg.NATS.Subject, m))
		defer remove()
	}

	serverOpts := []rpc.ServerOption{
		rpc.WithServerMetrics(m),
		rpc.WithStreamBuffer(cfg.StreamBufferSize, cfg.StreamTimeout),
	}

	if cfg.FCMCredentialsFile != "" {
		app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.FCMCredentialsFile))
		if err != nil {
			return fmt.Errorf("failed to initialize firebase: %w", err)
		}
		client, err := app.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("failed to initialize firebase messaging: %w", err)
		}

		tokens := pushmemory.NewInMemory()
		forwarder := push.NewForwarder(log.Named("push"), push.NewFCMPusher(log.Named("push"), tokens, client))
		remove := bus.AddHandler(forwarder)
		defer forwarder.Wait()
		defer remove()

		serverOpts = append(serverOpts, rpc.WithPushTokens(tokens))
	}

	grpcServer := rpc.NewGRPCServer(log.Named("grpc"))
	rpc.RegisterBridgeServer(grpcServer, rpc.NewServer(log.Named("rpc"), b, serverOpts...))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("Serving gRPC", zap.String("addr", cfg.GRPCAddr), zap.String("store", cfg.Store))
		errCh <- grpcServer.Serve(lis)
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("Serving metrics", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case serveErr = <-errCh:
		log.Error("Server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	grpcServer.GracefulStop()
	if _, err := b.EndConnection(shutdownCtx); err != nil {
		log.Warn("Failed to end connection", zap.Error(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("Failed to shut down metrics server", zap.Error(err))
		}
	}

	return serveErr
}

func newStore(ctx context.Context, log *zap.Logger, cfg *config.Config) (iap.Store, iap.Verifier, error) {
	switch cfg.Store {
	case config.StorePlay:
		serviceAccount, err := os.ReadFile(cfg.Play.ServiceAccountFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read service account: %w", err)
		}
		svc, err := android.NewService(ctx, serviceAccount)
		if err != nil {
			return nil, nil, err
		}
		store := android.NewStore(log.Named("play"), svc, cfg.Play.PackageName, cfg.Play.Region)
		return store, android.NewVerifier(svc, cfg.Play.PackageName), nil

	default:
		platform := iap.Platform(cfg.MemoryPlatform)
		store := memory.NewStore(platform)
		addDemoCatalog(store, platform)
		log.Info("Using simulated store", zap.String("platform", string(platform)))
		return store, nil, nil
	}
}

// addDemoCatalog gives the simulated store a consumable, a non-consumable and
// a subscription.
func addDemoCatalog(store *memory.Store, platform iap.Platform) {
	if platform == iap.PlatformIOS {
		store.AddProduct(
			&iap.StoreKitProduct{
				ProductID:    "coin_100",
				DisplayName:  "100 Coins",
				Description:  "A pile of coins",
				Price:        decimal.RequireFromString("0.99"),
				CurrencyCode: "USD",
				DisplayPrice: "$0.99",
				Type:         "consumable",
			},
			&iap.StoreKitProduct{
				ProductID:    "remove_ads",
				DisplayName:  "Remove Ads",
				Price:        decimal.RequireFromString("2.99"),
				CurrencyCode: "USD",
				DisplayPrice: "$2.99",
				Type:         "nonConsumable",
			},
			&iap.StoreKitProduct{
				ProductID:    "premium",
				DisplayName:  "Premium",
				Price:        decimal.RequireFromString("4.99"),
				CurrencyCode: "USD",
				DisplayPrice: "$4.99",
				Type:         "autoRenewable",
				Subscription: &iap.StoreKitSubscriptionInfo{
					PeriodUnit:  "month",
					PeriodValue: 1,
				},
			},
		)
		return
	}

	store.AddProduct(
		&iap.PlayProductDetails{
			ProductID:   "coin_100",
			ProductType: "inapp",
			Title:       "100 Coins (Demo)",
			Name:        "100 Coins",
			Description: "A pile of coins",
			OneTimePurchaseOfferDetails: &iap.PlayOneTimeOffer{
				PriceAmountMicros: 990000,
				PriceCurrencyCode: "USD",
				FormattedPrice:    "$0.99",
			},
		},
		&iap.PlayProductDetails{
			ProductID:   "remove_ads",
			ProductType: "inapp",
			Title:       "Remove Ads (Demo)",
			Name:        "Remove Ads",
			OneTimePurchaseOfferDetails: &iap.PlayOneTimeOffer{
				PriceAmountMicros: 2990000,
				PriceCurrencyCode: "USD",
				FormattedPrice:    "$2.99",
			},
		},
		&iap.PlayProductDetails{
			ProductID:   "premium",
			ProductType: "subs",
			Title:       "Premium (Demo)",
			Name:        "Premium",
			SubscriptionOfferDetails: []*iap.PlaySubscriptionOffer{
				{
					BasePlanID: "monthly",
					OfferToken: "offer-monthly",
					PricingPhases: []*iap.PlayPricingPhase{
						{
							FormattedPrice:    "$4.99",
							PriceCurrencyCode: "USD",
							BillingPeriod:     "P1M",
							PriceAmountMicros: 4990000,
							RecurrenceMode:    1,
						},
					},
				},
			},
		},
	)
}
