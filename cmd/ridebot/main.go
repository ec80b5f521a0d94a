// ridebot plays the rider or driver side of a shared ride session
// against a document store, without a UI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/example/ride-session/internal/config"
	"github.com/example/ride-session/internal/docserver"
	"github.com/example/ride-session/internal/docstore"
	"github.com/example/ride-session/internal/driver"
	"github.com/example/ride-session/internal/events"
	"github.com/example/ride-session/internal/fare"
	"github.com/example/ride-session/internal/logging"
	"github.com/example/ride-session/internal/matching"
	"github.com/example/ride-session/internal/models"
	"github.com/example/ride-session/internal/rider"
	"github.com/example/ride-session/internal/settlement"
	"github.com/example/ride-session/internal/storage"
)

type options struct {
	role        string
	name        string
	email       string
	driverEmail string
	secret      string
	destination string
	pay         string
	rating      int
	declines    int
	trips       int
	step        time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var opts options
	flagSet := pflag.NewFlagSet("ridebot", pflag.ContinueOnError)
	flagSet.StringVar(&opts.role, "role", "rider", "rider, driver, pair or history")
	flagSet.StringVar(&cfg.StoreURL, "store-url", cfg.StoreURL, "document store base URL")
	flagSet.StringVar(&cfg.SessionID, "session", cfg.SessionID, "session id to join; empty creates a new session")
	flagSet.StringVar(&opts.name, "name", "", "display name used when registering")
	flagSet.StringVar(&opts.email, "email", "", "account email")
	flagSet.StringVar(&opts.secret, "password", "", "account secret")
	flagSet.StringVar(&opts.driverEmail, "driver-email", "", "pair: driver account email, defaults to driver-<email>")
	flagSet.StringVar(&opts.destination, "destination", "Downtown", "rider: trip destination")
	flagSet.StringVar(&opts.pay, "pay", string(models.PaymentCreditCard), "rider: payment method")
	flagSet.IntVar(&opts.rating, "rating", 5, "rating to give the other party (1-5)")
	flagSet.IntVar(&opts.declines, "decline", 0, "driver: number of requests to decline before accepting")
	flagSet.IntVar(&opts.trips, "trips", 1, "driver: trips to serve before exiting, 0 for no limit")
	flagSet.DurationVar(&opts.step, "step", time.Second, "delay between simulated user actions")
	flagSet.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve /metrics and /healthz on this address")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.email == "" || opts.secret == "" {
		return errors.New("--email and --password are required")
	}
	if opts.name == "" {
		opts.name = opts.email
	}
	if opts.driverEmail == "" {
		opts.driverEmail = "driver-" + opts.email
	}

	logger := logging.NewLogger(cfg.LogLevel, "ridebot")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}

	publisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer func() { _ = publisher.Close() }()

	store := docstore.NewHTTPStore(cfg.StoreURL + docserver.BlobPath)
	sessionID, created, err := docstore.Bootstrap(ctx, store, cfg.SessionID)
	if err != nil {
		return err
	}
	if created {
		share, _ := docstore.ShareURL(cfg.StoreURL, sessionID)
		logger.Info("session created", "session_id", sessionID, "share_url", share)
	}

	accessor := storage.NewAccessor(store, sessionID, logger)
	accessor.Events = publisher
	accessor.MaxAttempts = cfg.MaxAttempts

	user, err := signIn(ctx, accessor, opts.name, opts.email, opts.secret)
	if err != nil {
		return err
	}
	logger = logger.With("user_id", user.ID, "session_id", sessionID)
	cash := settlement.StoreSignal{Store: accessor}

	switch opts.role {
	case "rider":
		bot, err := newRiderBot(cfg, opts, user, accessor, cash, logger)
		if err != nil {
			return err
		}
		return bot.Run(ctx)
	case "driver":
		return newDriverBot(cfg, opts, user, accessor, cash, logger).Run(ctx)
	case "pair":
		return runPair(ctx, cfg, opts, user, accessor, logger)
	case "history":
		return printHistory(ctx, accessor, user)
	default:
		return fmt.Errorf("unknown role %q", opts.role)
	}
}

func newRiderBot(cfg config.ClientConfig, opts options, user models.User, a *storage.Accessor, cash settlement.Signal, logger *slog.Logger) (*riderBot, error) {
	method := models.PaymentMethod(opts.pay)
	if !method.Valid() {
		return nil, fmt.Errorf("unknown payment method %q", opts.pay)
	}
	m := rider.New(user, a, cash, logger)
	m.TrackInterval = cfg.TrackInterval
	m.CashInterval = cfg.CashInterval
	return &riderBot{m: m, destination: opts.destination, method: method, rating: opts.rating, step: opts.step, logger: logger}, nil
}

func newDriverBot(cfg config.ClientConfig, opts options, user models.User, a *storage.Accessor, cash settlement.Signal, logger *slog.Logger) *driverBot {
	m := driver.New(user, a, cash, matching.NewSnoozeSet(cfg.SnoozeCooldown), logger)
	m.MatchInterval = cfg.MatchInterval
	m.PaymentInterval = cfg.PaymentInterval
	return &driverBot{m: m, declines: opts.declines, trips: opts.trips, rating: opts.rating, step: opts.step, logger: logger}
}

// runPair plays one trip with both parties in this process. The cash
// handshake stays in memory and never touches the session document.
func runPair(ctx context.Context, cfg config.ClientConfig, opts options, riderUser models.User, a *storage.Accessor, logger *slog.Logger) error {
	driverUser, err := signIn(ctx, a, opts.name+" (driver)", opts.driverEmail, opts.secret)
	if err != nil {
		return err
	}
	var cash settlement.LocalSignal
	rb, err := newRiderBot(cfg, opts, riderUser, a, &cash, logger.With("role", "rider"))
	if err != nil {
		return err
	}
	opts.trips = 1
	db := newDriverBot(cfg, opts, driverUser, a, &cash, logger.With("role", "driver", "driver_id", driverUser.ID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	driverErr := make(chan error, 1)
	go func() { driverErr <- db.Run(ctx) }()
	if err := rb.Run(ctx); err != nil {
		cancel()
		<-driverErr
		return err
	}
	return <-driverErr
}

func printHistory(ctx context.Context, a *storage.Accessor, user models.User) error {
	trips, err := a.GetTripsForUser(ctx, user.ID)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s stars, %d ratings)\n", user.Name, fare.FormatRating(user.Rating), user.NumRatings)
	for _, t := range trips {
		role := "rider"
		if t.RiderID != user.ID {
			role = "driver"
		}
		when := time.UnixMilli(t.CreatedAt).Format(time.DateTime)
		fmt.Printf("%s  %-6s  %-20s  %s -> %s  %s\n", when, role, t.Status, t.Pickup, t.Destination, fare.Format(t.Fare))
	}
	return nil
}

func newPublisher(cfg config.EventConfig, logger *slog.Logger) (events.Publisher, error) {
	switch cfg.Sink {
	case config.SinkKafka:
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.SinkAMQP:
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	case config.SinkNone:
		return events.Nop{}, nil
	default:
		return events.LogPublisher{Logger: logger}, nil
	}
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}
