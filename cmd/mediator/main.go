package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ipms-mediator/internal/app/config"
	"ipms-mediator/internal/app/contracts"
	"ipms-mediator/internal/app/delivery/consumer"
	"ipms-mediator/internal/app/delivery/http/controllers"
	"ipms-mediator/internal/app/delivery/http/middlewares"
	"ipms-mediator/internal/app/delivery/http/routers"
	"ipms-mediator/internal/app/delivery/mllp"
	"ipms-mediator/internal/app/drivers/database"
	"ipms-mediator/internal/app/drivers/logger"
	brokerDriver "ipms-mediator/internal/app/drivers/messaging"
	storageDriver "ipms-mediator/internal/app/drivers/storage"
	"ipms-mediator/internal/app/services/core/concepts"
	"ipms-mediator/internal/app/services/core/identity"
	"ipms-mediator/internal/app/services/core/labworkflow"
	"ipms-mediator/internal/app/services/core/locations"
	"ipms-mediator/internal/app/services/core/saga"
	"ipms-mediator/internal/app/services/core/translation"
	"ipms-mediator/internal/app/services/external/httpclient"
	"ipms-mediator/internal/app/services/external/identityregistry"
	"ipms-mediator/internal/app/services/external/shr"
	"ipms-mediator/internal/app/services/external/terminology"
	"ipms-mediator/internal/app/services/external/translator"
	"ipms-mediator/internal/app/services/shared/channel"
	"ipms-mediator/internal/app/services/shared/facility"
	"ipms-mediator/internal/app/services/shared/hl7sender"
	"ipms-mediator/internal/app/services/shared/journal"
	"ipms-mediator/internal/app/services/shared/locker"
	"ipms-mediator/internal/app/services/shared/redis"
	"ipms-mediator/internal/app/services/shared/storage"
	"ipms-mediator/internal/pkg/constvars"
	"ipms-mediator/internal/pkg/exceptions"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	driverConfig := config.NewDriverConfig()
	internalConfig := config.NewInternalConfig()
	if err := internalConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zapLogger := logger.NewZapLogger(driverConfig, internalConfig)

	mongoDB := database.NewMongoDB(driverConfig)
	redisClient := database.NewRedisClient(driverConfig)
	chiRouter := chi.NewRouter()

	bootstrap := &config.Bootstrap{
		Router:         chiRouter,
		MongoDB:        mongoDB,
		Redis:          redisClient,
		Logger:         zapLogger,
		DriverConfig:   driverConfig,
		InternalConfig: internalConfig,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrapingTheApp(ctx, bootstrap); err != nil {
		zapLogger.Fatal("Failed to bootstrap the mediator", zap.Error(err))
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", internalConfig.App.Port),
		Handler: chiRouter,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()
	zapLogger.Info("Mediator started",
		zap.String(constvars.LoggingListenAddressKey, server.Addr),
		zap.String(constvars.LoggingBrokerDriverKey, internalConfig.Broker.Driver),
	)

	<-ctx.Done()

	log.Println("Waiting for pending requests and batches to be processed..")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Second*time.Duration(internalConfig.App.ShutdownTimeout),
	)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := bootstrap.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Mediator forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}

func bootstrapingTheApp(ctx context.Context, bootstrap *config.Bootstrap) error {
	cfg := bootstrap.InternalConfig
	zapLogger := bootstrap.Logger

	// Redis
	redisRepository := redis.NewRedisRepository(bootstrap.Redis)
	lockService := locker.NewLockService(redisRepository, zapLogger)

	// MongoDB
	sagaJournal := journal.NewJournalMongoRepository(bootstrap.MongoDB, zapLogger)

	// Broker
	topics := append([]string{cfg.Retry.DeadLetterTopic}, constvars.WorkflowTopics...)
	producerTransport, consumerTransport, closeBroker, err := newBrokerTransports(ctx, bootstrap, topics)
	if err != nil {
		return err
	}
	producer := channel.NewTransactionalProducer(producerTransport, cfg.Retry.DeadLetterTopic, zapLogger)

	// MLLP client
	hl7Pool := hl7sender.NewPool(hl7sender.Options{
		DialTimeout: cfg.IPMS.DialTimeout,
		AckTimeout:  cfg.IPMS.AckTimeout,
		RetryDelay:  cfg.Retry.HL7RetryDelay,
		DeadLetter:  producer,
	}, zapLogger)

	// Archive
	var archive contracts.MessageArchive
	if cfg.IPMS.ArchiveEnabled {
		minioClient := storageDriver.NewMinio(bootstrap.DriverConfig)
		archive = storage.NewMinioArchive(minioClient, bootstrap.DriverConfig.Minio.BucketName, zapLogger)
	}

	// Collaborators
	shrClient := shr.NewSHRFhirClient(httpclient.New("shr", cfg.SHR, zapLogger), zapLogger)
	terminologyClient := terminology.NewTerminologyClient(httpclient.New("terminology", cfg.Terminology.Collaborator, zapLogger), zapLogger)
	translatorClient := translator.NewTranslatorClient(httpclient.New("translator", cfg.Translator, zapLogger), zapLogger)
	identityRegistryClient := identityregistry.NewIdentityRegistryClient(httpclient.New("identity-registry", cfg.IdentityRegistry, zapLogger), zapLogger)

	// Facility mapping
	facilityTable, err := facility.LoadFile(cfg.Facility.MappingFile)
	if err != nil {
		zapLogger.Warn("Facility mapping unavailable, locations will not be mapped",
			zap.String(constvars.LoggingMappingFileKey, cfg.Facility.MappingFile),
			zap.Error(err),
		)
		facilityTable = facility.NewTable()
	}

	// Workflow
	ipmsWorkflow := labworkflow.NewIPMSWorkflow(labworkflow.Dependencies{
		Producer:   producer,
		DeadLetter: producer,
		Locker:     lockService,
		SHR:        shrClient,
		HL7:        hl7Pool,
		Archive:    archive,
		Concepts:   concepts.NewConceptMapper(terminologyClient, cfg.Terminology, zapLogger),
		Locations:  locations.NewLocationMapper(facilityTable, cfg.Facility, zapLogger),
		Identity:   identity.NewIdentityReconciler(identityRegistryClient, cfg.Identity, cfg.Retry, producer, zapLogger),
		Translator: translation.NewTranslator(translatorClient, zapLogger),
	}, cfg, zapLogger)
	engine := saga.NewEngine(labworkflow.NewIPMSStepTable(ipmsWorkflow), lockService, sagaJournal, cfg.Lock, zapLogger)

	// Consumers and listeners
	batchConsumer := channel.NewBatchConsumer(consumerTransport, cfg.Broker.ConsumerGroup, engine.Topics(), cfg.Broker.BatchSize, cfg.Broker.PollTimeout, zapLogger)
	runner := consumer.NewRunner(batchConsumer, engine, producer, cfg.Broker.ConsumerRestartWait, zapLogger)
	listener := mllp.NewListener(cfg.IPMS.ListenAddress, ipmsWorkflow, cfg.IPMS.AckTimeout, zapLogger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = runner.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := listener.ListenAndServe(ctx); err != nil {
			zapLogger.Error("MLLP listener stopped",
				zap.String(constvars.LoggingListenAddressKey, cfg.IPMS.ListenAddress),
				zap.Error(err),
			)
		}
	}()

	bootstrap.OnShutdown(func(shutdownCtx context.Context) error {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
		if err := runner.Close(); err != nil {
			return err
		}
		if err := hl7Pool.Close(); err != nil {
			return err
		}
		return producer.Close()
	})
	bootstrap.OnShutdown(closeBroker)

	// HTTP
	healthChecks := map[string]controllers.HealthCheck{
		"redis": func(ctx context.Context) error {
			return bootstrap.Redis.Ping(ctx).Err()
		},
		"mongodb": func(ctx context.Context) error {
			return bootstrap.MongoDB.Client().Ping(ctx, nil)
		},
	}
	requestTimeout := 30 * time.Second

	routers.SetupRoutes(
		bootstrap.Router,
		cfg,
		middlewares.NewMiddlewares(zapLogger, cfg),
		controllers.NewLabOrderController(zapLogger, ipmsWorkflow, requestTimeout),
		controllers.NewHL7Controller(zapLogger, ipmsWorkflow, requestTimeout),
		controllers.NewHealthController(zapLogger, healthChecks),
	)
	return nil
}

// newBrokerTransports connects the producer and consumer transports for the
// configured BROKER_DRIVER. The returned closer releases the shared broker
// connection and must run after both transports are closed.
func newBrokerTransports(ctx context.Context, bootstrap *config.Bootstrap, topics []string) (channel.ProducerTransport, channel.ConsumerTransport, func(ctx context.Context) error, error) {
	driverConfig := bootstrap.DriverConfig
	cfg := bootstrap.InternalConfig

	switch cfg.Broker.Driver {
	case constvars.BrokerDriverRabbitMQ:
		conn, err := brokerDriver.NewRabbitMQ(driverConfig)
		if err != nil {
			return nil, nil, nil, exceptions.ErrBrokerConnect(err, constvars.BrokerDriverRabbitMQ)
		}
		closeConn := func(ctx context.Context) error {
			if conn.IsClosed() {
				return nil
			}
			return conn.Close()
		}
		producerTransport, err := channel.NewRabbitMQProducerTransport(conn, driverConfig.RabbitMQ.Exchange, topics, bootstrap.Logger)
		if err != nil {
			_ = conn.Close()
			return nil, nil, nil, exceptions.ErrBrokerConnect(err, constvars.BrokerDriverRabbitMQ)
		}
		consumerTransport, err := channel.NewRabbitMQConsumerTransport(conn, driverConfig.RabbitMQ.Exchange, cfg.Broker.BatchSize, bootstrap.Logger)
		if err != nil {
			_ = conn.Close()
			return nil, nil, nil, exceptions.ErrBrokerConnect(err, constvars.BrokerDriverRabbitMQ)
		}
		return producerTransport, consumerTransport, closeConn, nil
	default:
		transactionalID := driverConfig.Kafka.TransactionalID
		if transactionalID == "" {
			hostname, _ := os.Hostname()
			transactionalID = fmt.Sprintf("%s-%s", driverConfig.Kafka.ClientID, hostname)
		}
		producerTransport, err := channel.NewKafkaProducerTransport(ctx, brokerDriver.NewKafkaProducerConfig(driverConfig, transactionalID), bootstrap.Logger)
		if err != nil {
			return nil, nil, nil, exceptions.ErrBrokerConnect(err, constvars.BrokerDriverKafka)
		}
		consumerTransport, err := channel.NewKafkaConsumerTransport(brokerDriver.NewKafkaConsumerConfig(driverConfig, cfg.Broker.ConsumerGroup), bootstrap.Logger)
		if err != nil {
			return nil, nil, nil, exceptions.ErrBrokerConnect(err, constvars.BrokerDriverKafka)
		}
		noop := func(ctx context.Context) error { return nil }
		return producerTransport, consumerTransport, noop, nil
	}
}
