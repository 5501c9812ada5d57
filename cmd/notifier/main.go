package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/health-notifier/internal/api/handlers/notification"
	"github.com/aliskhannn/health-notifier/internal/api/router"
	"github.com/aliskhannn/health-notifier/internal/api/server"
	"github.com/aliskhannn/health-notifier/internal/channel"
	"github.com/aliskhannn/health-notifier/internal/config"
	"github.com/aliskhannn/health-notifier/internal/migrations"
	"github.com/aliskhannn/health-notifier/internal/model"
	"github.com/aliskhannn/health-notifier/internal/rabbitmq/queue"
	notifrepo "github.com/aliskhannn/health-notifier/internal/repository/notification"
	userrepo "github.com/aliskhannn/health-notifier/internal/repository/user"
	notifsvc "github.com/aliskhannn/health-notifier/internal/service/notification"
	"github.com/aliskhannn/health-notifier/internal/worker"
	"github.com/aliskhannn/health-notifier/pkg/whatsapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()

	if err := godotenv.Load(); err != nil {
		zlog.Logger.Info().Msg("no .env file found, using environment")
	}

	cfg := config.Must()
	val := validator.New()

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDNSs := make([]string, 0, len(cfg.Database.Slaves))

	for _, s := range cfg.Database.Slaves {
		slaveDNSs = append(slaveDNSs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDNSs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if cfg.Migrations.Enabled {
		if err := migrations.Up(ctx, db.Master); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.Database)

	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	var (
		events  *queue.EventQueue
		closers []func() error
	)

	if cfg.RabbitMQ.Enabled() {
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}

		ch, err := conn.Channel()
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
		}

		events, err = queue.NewEventQueue(ch)
		if err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to create event queue")
		}

		closers = append(closers, ch.Close, conn.Close)
	} else {
		zlog.Logger.Info().Msg("rabbitmq host not set, dispatch events disabled")
	}

	bridge := whatsapp.NewClient(cfg.WhatsApp.BaseURL, cfg.WhatsApp.Timeout)
	go bridge.Watch(ctx, cfg.WhatsApp.StatusInterval)

	service := notifsvc.NewService(
		notifrepo.NewRepository(db),
		userrepo.NewRepository(db),
		events,
		rdb,
		cfg.Retry,
	)

	channels := map[model.DeliveryMethod]channel.Channel{
		model.DeliveryWhatsApp: channel.NewWhatsApp(bridge),
	}

	processor := worker.NewProcessor(service, channels, worker.Options{
		Interval:          cfg.Processor.Interval,
		WarmUp:            cfg.Processor.WarmUp,
		BatchSize:         cfg.Processor.BatchSize,
		SendTimeout:       cfg.Processor.SendTimeout,
		DeferWhenNotReady: cfg.Processor.DeferWhenNotReady,
	})
	processor.Start(ctx)

	go logStatus(ctx, processor, cfg.Server.StatusLogEvery)

	handler := notification.NewHandler(service, processor, val)
	r := router.New(handler, cfg.Server.AllowedOrigins)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		zlog.Logger.Info().Str("addr", cfg.Server.HTTPPort).Msg("starting http server")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Processor.ShutdownTimeout)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if err := processor.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("notification pass still running at shutdown")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, s := range db.Slaves {
		if err := s.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ resource")
		}
	}
}

// logStatus logs the processor state every interval until ctx is done.
func logStatus(ctx context.Context, p *worker.Processor, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.Status()
			zlog.Logger.Info().
				Bool("running", st.IsRunning).
				Bool("processing", st.IsProcessing).
				Bool("whatsapp_ready", st.ChannelReady).
				Msg("notification processor status")
		}
	}
}
