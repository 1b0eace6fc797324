// README: Entry point; loads config, wires services, starts HTTP server and background schedulers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/sirupsen/logrus"

	"toda/internal/config"
	httptransport "toda/internal/http"
	"toda/internal/infra"
	"toda/internal/logging"
	"toda/internal/maps"
	"toda/internal/modules/booking"
	"toda/internal/modules/chat"
	"toda/internal/modules/driver"
	"toda/internal/modules/feed"
	"toda/internal/modules/pricing"
	"toda/internal/modules/queue"
	"toda/internal/modules/rating"
	"toda/internal/notify"
	"toda/internal/store"
)

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app *firebase.App
	if cfg.Store.Backend == "firebase" || !cfg.HTTP.AuthDisabled || cfg.Firebase.FCMEnabled {
		app, err = infra.NewFirebaseApp(ctx, infra.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
			DatabaseURL:     cfg.Firebase.DatabaseURL,
		})
		if err != nil {
			log.WithError(err).Fatal("firebase init")
		}
	}

	var tree store.Tree
	switch cfg.Store.Backend {
	case "firebase":
		client, err := infra.NewRealtimeDB(ctx, app)
		if err != nil {
			log.WithError(err).Fatal("realtime database init")
		}
		fb := store.NewFirebase(client, log.WithField("component", "store"))
		go fb.RunResync(ctx, cfg.Firebase.ResyncInterval)
		tree = fb
	default:
		log.Warn("using in-memory store; data is lost on restart")
		tree = store.NewMemory()
	}

	publisher := buildPublisher(ctx, cfg, app, log)

	var verifier infra.TokenVerifier
	if cfg.HTTP.AuthDisabled {
		log.Warn("authentication disabled; identity is taken from debug headers")
	} else {
		verifier, err = infra.NewFirebaseVerifier(ctx, app)
		if err != nil {
			log.WithError(err).Fatal("firebase auth init")
		}
	}

	var indexCache driver.IndexCache
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			log.WithError(err).Fatal("redis init")
		}
		defer rdb.Close()
		indexCache = driver.NewRedisIndexCache(rdb, cfg.Redis.RFIDTTL)
	}

	deps := booking.Deps{Publisher: publisher}
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			log.WithError(err).Fatal("postgres init")
		}
		defer pool.Close()
		deps.Events = booking.NewPGEventStore(pool)
	}
	deps.Routes = maps.StraightLine{}
	if cfg.Maps.APIKey != "" {
		client, err := maps.NewClient(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Fatal("maps init")
		}
		deps.Geocoder = maps.NewGeocoder(client)
		deps.Routes = maps.Fallback{Primary: maps.NewRouteService(client), Secondary: maps.StraightLine{}}
	}

	pricingSvc := pricing.NewService(pricing.NewStore(tree), pricing.RateFromConfig(cfg.Fare))
	if err := pricingSvc.Refresh(ctx); err != nil {
		log.WithError(err).Warn("fare matrix refresh failed; using configured defaults")
	}

	driverSvc := driver.NewService(tree, indexCache, publisher, cfg.Location, log.WithField("module", "driver"))
	ratingSvc := rating.NewService(tree, log.WithField("module", "rating"))
	chatSvc := chat.NewService(tree, publisher, log.WithField("module", "chat"))

	deps.Ratings = ratingSvc
	deps.Chat = chatSvc
	deps.Drivers = driverSvc
	deps.Fares = pricingSvc
	bookingSvc := booking.NewService(tree, deps, log.WithField("module", "booking"))

	matcher := queue.NewMatcher(tree, bookingSvc, driverSvc, cfg.Location, log.WithField("module", "matcher"))
	queueSvc := queue.NewService(tree, matcher, driverSvc, bookingSvc, cfg.Matching, cfg.Location, log.WithField("module", "queue"))
	feedSvc := feed.NewService(tree, driverSvc, log.WithField("module", "feed"))

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Bookings:     bookingSvc,
		Queue:        queueSvc,
		Drivers:      driverSvc,
		Feed:         feedSvc,
		Chat:         chatSvc,
		Ratings:      ratingSvc,
		Pricing:      pricingSvc,
		Verifier:     verifier,
		AuthDisabled: cfg.HTTP.AuthDisabled,
		Log:          log.WithField("component", "http"),
	})

	go queueSvc.RunRematch(ctx)
	go driverSvc.RunDailyReset(ctx, time.Minute)

	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log)
	if err := server.Run(ctx); err != nil {
		log.WithError(err).Fatal("http server")
	}
	log.Info("shutdown complete")
}

// buildPublisher fans domain events out to every configured sink. The process
// log is always one of them.
func buildPublisher(ctx context.Context, cfg config.Config, app *firebase.App, log *logrus.Logger) notify.Publisher {
	sinks := notify.Fanout{notify.LogPublisher{Log: log.WithField("component", "events")}}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}
	if cfg.AMQP.URL != "" {
		p, err := notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.WithError(err).Fatal("amqp init")
		}
		sinks = append(sinks, p)
	}
	if cfg.Firebase.FCMEnabled {
		client, err := infra.NewMessaging(ctx, app)
		if err != nil {
			log.WithError(err).Fatal("fcm init")
		}
		sinks = append(sinks, notify.NewFCMPublisher(client))
	}
	return sinks
}
