// cmd/notifier/main.go
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	commonaws "notification-pipeline/internal/common/aws"
	"notification-pipeline/internal/common/config"
	"notification-pipeline/internal/common/database"
	commonhttp "notification-pipeline/internal/common/http"
	"notification-pipeline/internal/common/logger"
	"notification-pipeline/internal/common/observability"
	"notification-pipeline/internal/delivery"
	"notification-pipeline/internal/dispatcher"
	"notification-pipeline/internal/models"
	"notification-pipeline/internal/pii"
	"notification-pipeline/internal/queue"
	"notification-pipeline/internal/search"
	"notification-pipeline/internal/templates"
	"notification-pipeline/internal/tracking"
	"notification-pipeline/internal/users"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("info", "console")
		boot.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting notifier...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint)
	defer obs.Shutdown()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry ---
	var audit delivery.Auditor
	if cfg.Database.Elasticsearch.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		if err := es.EnsureIndex(ctx, cfg.Database.Elasticsearch.DeliveryLog, search.IndexMapping); err != nil {
			zapLog.Warn("Failed to ensure audit index", zap.Error(err))
		}
		audit = search.NewAuditIndexer(es.Client, cfg.Database.Elasticsearch.DeliveryLog, log)
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Core components ---
	nc := cfg.Notifications
	q := queue.New(pg.DB, queue.NewPolicy(nc.MaxAttempts, nc.BackoffMinutes))
	tmplStore := templates.NewCachedStore(
		templates.NewStore(pg.DB),
		rdb.Client,
		time.Duration(nc.TemplateCacheTTLSeconds)*time.Second,
		log,
	)
	directory := users.NewDirectory(pg.DB)

	decryptor, err := pii.NewDecryptor(cfg.PII.Keys)
	if err != nil {
		zapLog.Fatal("invalid pii key", zap.Error(err))
	}

	links := dispatcher.NewLinkBuilder(cfg.App.BaseURL, cfg.App.TrackingBaseURL)
	disp := dispatcher.New(
		q, tmplStore, directory, decryptor,
		dispatcher.NewRateLimiter(rdb.Client, nc.RateLimits, log),
		links, log,
	)

	subscriber := dispatcher.NewSubscriber(rdb.Client, nc.EventsChannelPrefix, disp.EventTypes(), disp, log)
	go func() {
		if err := subscriber.Run(ctx); err != nil {
			zapLog.Error("Event subscriber stopped", zap.Error(err))
		}
	}()

	// --- Channel transports ---
	transports, err := buildTransports(ctx, cfg)
	if err != nil {
		zapLog.Fatal("failed to build transports", zap.Error(err))
	}

	// --- Periodic workers ---
	trackingRepo := tracking.NewRepository(pg.DB)
	contacts := delivery.NewContactResolver(directory, decryptor)
	scheduler := delivery.NewScheduler(log)

	deliveryWorkers := map[string]models.Channel{
		config.WorkerEmailDelivery: models.ChannelEmail,
		config.WorkerSMSDelivery:   models.ChannelSMS,
		config.WorkerPushDelivery:  models.ChannelPush,
	}
	for name, channel := range deliveryWorkers {
		wcfg := config.GetWorkerConfig(cfg, name)
		if !wcfg.Enabled {
			zapLog.Info("Worker disabled", zap.String("worker", name))
			continue
		}
		scheduler.Add(delivery.NewWorker(
			delivery.Config{
				Name:              name,
				Channel:           channel,
				Interval:          wcfg.Interval(),
				BatchSize:         wcfg.BatchSize,
				RespectQuietHours: wcfg.RespectQuietHours,
				SendTimeout:       config.GetDuration(wcfg.Timeout),
			},
			delivery.Dependencies{
				Queue:     q,
				Templates: tmplStore,
				Contacts:  contacts,
				Transport: transports[channel],
				Audit:     audit,
				Obs:       obs,
				Logger:    log,
			},
		))
	}

	if wcfg := config.GetWorkerConfig(cfg, config.WorkerReaper); wcfg.Enabled {
		scheduler.Add(delivery.NewReaper(q, time.Duration(nc.StaleClaimMinutes)*time.Minute, wcfg.Interval(), log))
	}
	if wcfg := config.GetWorkerConfig(cfg, config.WorkerJanitor); wcfg.Enabled {
		retention := delivery.DefaultRetention()
		retention.Queue = time.Duration(nc.QueueRetentionDays) * 24 * time.Hour
		retention.Log = time.Duration(nc.LogRetentionDays) * 24 * time.Hour
		retention.Tracking = retention.Log
		scheduler.Add(delivery.NewJanitor(q, trackingRepo, retention, wcfg.Interval(), log))
	}

	scheduler.Start(ctx)

	// --- Tracking, health & metrics server ---
	allow := tracking.NewAllowList(append(
		nc.AllowedRedirectHosts,
		tracking.HostsFromURLs(cfg.App.BaseURL, cfg.App.TrackingBaseURL)...,
	)...)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	tracking.NewHandler(trackingRepo, allow, log).Register(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := pg.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "ready",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			zapLog.Error("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	stop()
	scheduler.Wait()

	zapLog.Info("Notifier stopped gracefully")
}

// buildTransports picks the provider of every channel from the integrations config.
func buildTransports(ctx context.Context, cfg *config.Config) (map[models.Channel]delivery.Transport, error) {
	ic := cfg.Integrations
	transports := make(map[models.Channel]delivery.Transport, 3)

	var snsClient *commonaws.SNSClient
	needsAWS := ic.EmailProvider == "ses" || ic.PushProvider == "sns" || ic.AWS.SNS.Enabled
	if needsAWS {
		awsCfg, err := commonaws.LoadConfig(ctx, ic.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		if ic.EmailProvider == "ses" {
			transports[models.ChannelEmail] = delivery.NewSESSender(
				commonaws.NewSESClient(awsCfg), ic.AWS.SES.FromEmail, ic.AWS.SES.FromName)
		}
		snsClient = commonaws.NewSNSClient(awsCfg)
	}

	if ic.EmailProvider == "smtp" {
		transports[models.ChannelEmail] = delivery.NewSMTPSender(delivery.SMTPConfig{
			Host:     ic.SMTP.Host,
			Port:     ic.SMTP.Port,
			Username: ic.SMTP.Username,
			Password: ic.SMTP.Password,
			UseTLS:   ic.SMTP.UseTLS,
			From:     ic.SMTP.DefaultFrom,
		})
	}

	if snsClient != nil {
		transports[models.ChannelSMS] = delivery.NewSNSSMSSender(snsClient, ic.AWS.SNS.DefaultSMSSenderID, ic.AWS.SNS.SMSType)
	} else {
		transports[models.ChannelSMS] = unavailableTransport(models.ChannelSMS)
	}

	switch ic.PushProvider {
	case "sns":
		transports[models.ChannelPush] = delivery.NewSNSPushSender(snsClient)
	case "http":
		transports[models.ChannelPush] = delivery.NewHTTPPushSender(
			commonhttp.NewClient(config.GetDuration(config.GetWorkerConfig(cfg, config.WorkerPushDelivery).Timeout)),
			ic.PushGateway.URL, ic.PushGateway.APIKey)
	}

	return transports, nil
}

// unavailableTransport fails every send so requests retry and end up failed
// instead of silently disappearing.
func unavailableTransport(channel models.Channel) delivery.Transport {
	return delivery.TransportFunc(func(context.Context, delivery.Message) (delivery.Receipt, error) {
		return delivery.Receipt{}, fmt.Errorf("no %s provider configured", channel)
	})
}
