// Пакет config — загрузка и валидация конфигурации Sync Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Sync Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Внешний фид ---

	// Базовый URL фида (пусто — загрузка отключена, работаем по кэшу)
	FeedURL string
	// Учётные данные API-аккаунта фида
	FeedUsername string
	FeedPassword string
	// Путь к CA-сертификату для TLS-соединений с фидом (опционально)
	FeedCACertPath string
	// Возраст записи кэша, после которого требуется повторная загрузка
	RefetchAfter time.Duration

	// --- Синхронизация ---

	// Интервал полного прохода реконсиляции
	SyncInterval time.Duration
	// Регион по умолчанию для разбора телефонных номеров (ISO 3166-1 alpha-2)
	DefaultRegion string
	// External_id бейджа, дающего административные права
	AdminBadgeID string
	// Домены организации: email на этих доменах выбирается в последнюю очередь
	EmailDomainDenylist []string

	// --- Брокер сообщений ---

	// URL AMQP-брокера (пусто — события и async fan-out отключены)
	AMQPURL string

	// --- JWT (защита trigger API) ---

	// URL JWKS endpoint SSO организации (пусто — API без аутентификации)
	JWTJWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string
	// Группы SSO, которым разрешён запуск синхронизации (через запятую)
	RoleAdminGroups []string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Мониторинг зависимостей ---

	// Имя группы topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// SM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("SM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SM_PORT: %w", err)
	}
	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("SM_PORT: значение %d вне допустимого диапазона 1024-65535", cfg.Port)
	}

	// SM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SM_LOG_LEVEL: %w", err)
	}

	// SM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// SM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("SM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// SM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("SM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SM_DB_PORT: %w", err)
	}

	// SM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("SM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// SM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("SM_DB_USER")
	if err != nil {
		return nil, err
	}

	// SM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("SM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// SM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("SM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("SM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Внешний фид ---

	// SM_FEED_URL — базовый URL фида (опционально)
	cfg.FeedURL = strings.TrimRight(getEnvDefault("SM_FEED_URL", ""), "/")

	// SM_FEED_USERNAME / SM_FEED_PASSWORD — обязательны, если фид включён
	cfg.FeedUsername = getEnvDefault("SM_FEED_USERNAME", "")
	cfg.FeedPassword = getEnvDefault("SM_FEED_PASSWORD", "")
	if cfg.FeedURL != "" && (cfg.FeedUsername == "" || cfg.FeedPassword == "") {
		return nil, fmt.Errorf("SM_FEED_USERNAME и SM_FEED_PASSWORD обязательны при заданном SM_FEED_URL")
	}

	// SM_FEED_CA_CERT_PATH — путь к CA-сертификату фида (опционально)
	cfg.FeedCACertPath = getEnvDefault("SM_FEED_CA_CERT_PATH", "")

	// SM_REFETCH_AFTER — возраст записи кэша до повторной загрузки (по умолчанию 24h)
	cfg.RefetchAfter, err = getEnvDuration("SM_REFETCH_AFTER", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SM_REFETCH_AFTER: %w", err)
	}

	// --- Синхронизация ---

	// SM_SYNC_INTERVAL — интервал полного прохода (по умолчанию 6h)
	cfg.SyncInterval, err = getEnvDuration("SM_SYNC_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SM_SYNC_INTERVAL: %w", err)
	}

	// SM_DEFAULT_REGION — регион разбора телефонов (по умолчанию FR)
	cfg.DefaultRegion = strings.ToUpper(getEnvDefault("SM_DEFAULT_REGION", "FR"))
	if len(cfg.DefaultRegion) != 2 {
		return nil, fmt.Errorf("SM_DEFAULT_REGION: ожидается двухбуквенный код региона, получено %q", cfg.DefaultRegion)
	}

	// SM_ADMIN_BADGE_ID — бейдж административных прав (по умолчанию nomination-1)
	cfg.AdminBadgeID = getEnvDefault("SM_ADMIN_BADGE_ID", "nomination-1")

	// SM_EMAIL_DOMAIN_DENYLIST — домены организации (по умолчанию croix-rouge.fr)
	cfg.EmailDomainDenylist = parseCSV(getEnvDefault("SM_EMAIL_DOMAIN_DENYLIST", "croix-rouge.fr"))

	// --- Брокер сообщений ---

	// SM_AMQP_URL — URL AMQP-брокера (опционально)
	cfg.AMQPURL = getEnvDefault("SM_AMQP_URL", "")

	// --- JWT ---

	// SM_JWT_JWKS_URL — JWKS endpoint SSO (опционально)
	cfg.JWTJWKSURL = getEnvDefault("SM_JWT_JWKS_URL", "")

	// SM_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("SM_JWT_ISSUER", "")

	// SM_ROLE_ADMIN_GROUPS — группы запуска синхронизации (по умолчанию "alerting-admins")
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("SM_ROLE_ADMIN_GROUPS", "alerting-admins"))

	// SM_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("SM_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// SM_JWT_LEEWAY — отклонение времени при проверке JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("SM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_JWT_LEEWAY: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// SM_DEPHEALTH_GROUP — группа topologymetrics (по умолчанию benevalert)
	cfg.DephealthGroup = getEnvDefault("SM_DEPHEALTH_GROUP", "benevalert")

	// SM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// SM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("SM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (для лейблов мониторинга зависимостей).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
