// Точка входа Sync Module — модуль синхронизации системы оповещения BenevAlert.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт клиент внешнего фида и брокер сообщений, собирает сервисный слой
// (куратор кэша, реконсиляция структур и волонтёров, оркестратор проходов),
// запускает фоновые задачи (периодическая реконсиляция, consumer задач,
// topologymetrics), HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/benevalert/sync-module/internal/api/handlers"
	"github.com/benevalert/sync-module/internal/api/middleware"
	"github.com/benevalert/sync-module/internal/config"
	"github.com/benevalert/sync-module/internal/database"
	"github.com/benevalert/sync-module/internal/queue"
	"github.com/benevalert/sync-module/internal/repository"
	"github.com/benevalert/sync-module/internal/server"
	"github.com/benevalert/sync-module/internal/service"
	"github.com/benevalert/sync-module/internal/upstream"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Sync Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("SM_DEPHEALTH_GROUP") == "" {
		logger.Warn("SM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Клиент внешнего фида (опционально: без SM_FEED_URL работаем по кэшу)
	var fetcher upstream.Fetcher
	if cfg.FeedURL != "" {
		var feedHTTPClient *http.Client
		if cfg.FeedCACertPath != "" {
			feedHTTPClient, err = upstream.HTTPClientWithCA(cfg.FeedCACertPath)
			if err != nil {
				logger.Error("Ошибка загрузки CA-сертификата фида",
					slog.String("path", cfg.FeedCACertPath),
					slog.String("error", err.Error()),
				)
				os.Exit(1)
			}
			logger.Info("CA-сертификат фида загружен", slog.String("path", cfg.FeedCACertPath))
		}

		fetcher = upstream.NewClient(cfg.FeedURL, cfg.FeedUsername, cfg.FeedPassword, feedHTTPClient, logger)
		logger.Info("Клиент внешнего фида создан", slog.String("url", cfg.FeedURL))
	} else {
		logger.Info("SM_FEED_URL не задан, загрузка фида отключена — работаем по кэшу")
	}

	// 6. Брокер сообщений (опционально: без SM_AMQP_URL события отключены)
	var publisher queue.Publisher = queue.NopPublisher{}
	var dispatcher queue.Dispatcher = queue.NopDispatcher{}
	var amqpClient *queue.AMQPClient
	if cfg.AMQPURL != "" {
		amqpClient, err = queue.NewAMQPClient(cfg.AMQPURL, logger)
		if err != nil {
			logger.Error("Ошибка подключения к AMQP-брокеру", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
		dispatcher = amqpClient
		logger.Info("AMQP-брокер подключен")
	} else {
		logger.Info("SM_AMQP_URL не задан, события и асинхронные проходы отключены")
	}

	// 7. Repositories
	recordRepo := repository.NewUpstreamRecordRepository(pool)
	structureRepo := repository.NewStructureRepository(pool)
	volunteerRepo := repository.NewVolunteerRepository(pool)
	badgeRepo := repository.NewBadgeRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	syncStateRepo := repository.NewSyncStateRepository(pool)

	// 8. Services
	curator := service.NewCurator(recordRepo, logger)
	structureSync := service.NewStructureSyncService(curator, structureRepo, publisher, logger)
	volunteerSync := service.NewVolunteerSyncService(
		curator, volunteerRepo, structureRepo, badgeRepo, userRepo,
		publisher,
		cfg.DefaultRegion, cfg.AdminBadgeID, cfg.EmailDomainDenylist,
		logger,
	)
	refreshSvc := service.NewRefreshService(
		curator, structureSync, volunteerSync, syncStateRepo,
		dispatcher, cfg.SyncInterval,
		logger,
	)
	if fetcher != nil {
		fetchSvc := service.NewFetchService(fetcher, curator, cfg.RefetchAfter, logger)
		refreshSvc.SetFetchService(fetchSvc)
	}

	// 9. Consumer задач реконсиляции (при подключенном брокере)
	var consumer *queue.Consumer
	if amqpClient != nil {
		consumer = queue.NewConsumer(cfg.AMQPURL, refreshSvc, logger)
	}

	// 10. Readiness checker и health handler
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker)

	// 11. API handler управления синхронизацией
	syncHandler := handlers.NewSyncHandler(refreshSvc, recordRepo, structureRepo, volunteerRepo, logger)

	// 12. JWT middleware (опционально: без SM_JWT_JWKS_URL API без аутентификации)
	var jwtAuth *middleware.JWTAuth
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err = middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.FeedCACertPath,
			cfg.JWTIssuer,
			cfg.RoleAdminGroups,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer jwtAuth.Close()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("SM_JWT_JWKS_URL не задан, API запущен без аутентификации")
	}

	// 13. Запуск фоновых задач
	refreshSvc.Start(ctx)
	if consumer != nil {
		consumer.Start(ctx)
	}

	// 13.1 topologymetrics — мониторинг зависимостей (PostgreSQL + фид)
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"sync-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.FeedURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, healthHandler, syncHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if consumer != nil {
		consumer.Stop()
	}
	refreshSvc.Stop()

	logger.Info("Sync Module остановлен")
}
