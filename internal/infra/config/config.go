// Пакет config отвечает за сбор и предоставление конфигурации сервиса
// репликации сообщений. Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения (лимиты, пути, списки),
//  3. собирает упорядоченный список бот-токенов и список админов,
//  4. фиксирует результат в потокобезопасном singleton.
//
// Бизнес-контекст: конфиг среды задаёт учётные данные MTProto-клиента
// (наблюдатель исходных чатов), пул бот-токенов для публикации в целевые
// чаты, размеры очереди и пула воркеров, скоростные лимиты на бота и прочие
// «ручки». Пары источник→назначение при этом живут не здесь, а в базе.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это
// «операционные» настройки запуска: учётные данные MTProto, пул бот-токенов,
// размеры очереди/пула воркеров, лимиты, пути к файлам состояния и логам.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID       int
	APIHash     string
	PhoneNumber string
	// BotTokens — упорядоченный список токенов Bot API. Позиция в списке и есть
	// bot_index, на который ссылаются пары и метрики.
	BotTokens []string
	// AdminUserIDs — кто имеет право на админ-команды. Пустой список = доступ
	// открыт для всех (режим разработки).
	AdminUserIDs []int64

	MaxWorkers             int
	MessageQueueSize       int
	RateLimitMessages      int
	RateLimitWindowSec     int
	HealthCheckIntervalSec int
	MaxRetries             int
	SimilarityThreshold    int

	DatabasePath string
	SessionFile  string
	StateFile    string

	LogLevel string
	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool

	ThrottleRPS    int
	DedupWindowSec int
	DebounceEditMS int
	TestDC         bool
	// RunTimeoutSec > 0 включает авто-остановку через указанное число секунд
	// (ограниченные по времени прогоны против тестового DC).
	RunTimeoutSec int

	CLIEnable bool
	// Web Server
	WebServerEnable  bool
	WebServerAddress string
	WebAuthToken     string
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; после загрузки поля не
// меняются, перезагрузка конфига в рантайме не предусмотрена.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultMaxWorkers          = 10
	defaultMessageQueueSize    = 1000
	defaultRateLimitMessages   = 30
	defaultRateLimitWindowSec  = 60
	defaultHealthCheckInterval = 30
	defaultMaxRetries          = 3
	defaultSimilarityThreshold = 5
	defaultThrottleRPS         = 1
	defaultDedupWindowSec      = 120
	defaultDebounceEditMS      = 500
	defaultLogLevel            = "info"
	defaultDatabasePath        = "data/luffy.db"
	defaultSessionFile         = "data/session.bin"
	defaultStateFile           = "data/state.bbolt"
	// Файловое логирование (LOG_FILE не имеет дефолта - должен быть явно указан для активации)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
	defaultCLIEnable         = true
	// Web Server
	defaultWebServerEnable  = false
	defaultWebServerAddress = "127.0.0.1:8080"

	// numberedTokenSlots — сколько переменных BOT_TOKEN_<n> сканируется в
	// дополнение к списку BOT_TOKENS.
	numberedTokenSlots = 10
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// Load — точка входа для инициализации глобальной конфигурации всего приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат в
// singleton cfgInstance.
//
// Повторный вызов запрещен (возвращается ошибка), чтобы избежать гонок
// конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}

	phone := strings.TrimSpace(os.Getenv("PHONE_NUMBER"))
	if phone == "" {
		return nil, errors.New("env PHONE_NUMBER must be set")
	}

	botTokens := collectBotTokens()
	if len(botTokens) == 0 {
		return nil, errors.New("env BOT_TOKENS must contain at least one bot token")
	}

	var warnings []string

	adminIDs := parseInt64List("ADMIN_USER_IDS", &warnings)
	maxWorkers := parseIntDefault("MAX_WORKERS", defaultMaxWorkers, intRange(1, 50), &warnings)
	queueSize := parseIntDefault("MESSAGE_QUEUE_SIZE", defaultMessageQueueSize, atLeast(100), &warnings)
	rateLimitMsgs := parseIntDefault("RATE_LIMIT_MESSAGES", defaultRateLimitMessages, greaterThanZero, &warnings)
	rateLimitWindow := parseIntDefault("RATE_LIMIT_WINDOW", defaultRateLimitWindowSec, greaterThanZero, &warnings)
	healthInterval := parseIntDefault("HEALTH_CHECK_INTERVAL", defaultHealthCheckInterval, greaterThanZero, &warnings)
	maxRetries := parseIntDefault("MAX_RETRIES", defaultMaxRetries, nonNegative, &warnings)
	similarity := parseIntDefault("SIMILARITY_THRESHOLD", defaultSimilarityThreshold, intRange(1, 20), &warnings)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	dedupWindow := parseIntDefault("DEDUP_WINDOW_SEC", defaultDedupWindowSec, nonNegative, &warnings)
	debounceMS := parseIntDefault("DEBOUNCE_EDIT_MS", defaultDebounceEditMS, nonNegative, &warnings)
	runTimeout := parseIntDefault("RUN_TIMEOUT_SEC", 0, nonNegative, &warnings)
	logLevel := sanitizeLogLevel("LOG_LEVEL", os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	databasePath := sanitizeFile("DATABASE_PATH", os.Getenv("DATABASE_PATH"), defaultDatabasePath, &warnings)
	sessionFile := sanitizeFile("SESSION_FILE", os.Getenv("SESSION_FILE"), defaultSessionFile, &warnings)
	stateFile := sanitizeFile("STATE_FILE", os.Getenv("STATE_FILE"), defaultStateFile, &warnings)
	testDC := strings.EqualFold(strings.TrimSpace(os.Getenv("TEST_DC")), "true")
	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel("LOG_FILE_LEVEL", os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)
	cliEnable := parseBoolDefault("CLI_ENABLE", defaultCLIEnable, &warnings)
	// Web Server
	webServerEnable := parseBoolDefault("WEB_SERVER_ENABLE", defaultWebServerEnable, &warnings)
	webServerAddress := sanitizeFile("WEB_SERVER_ADDRESS", os.Getenv("WEB_SERVER_ADDRESS"),
		defaultWebServerAddress, &warnings)
	webAuthToken := strings.TrimSpace(os.Getenv("WEB_AUTH_TOKEN"))

	env := EnvConfig{
		APIID:                  apiID,
		APIHash:                apiHash,
		PhoneNumber:            phone,
		BotTokens:              botTokens,
		AdminUserIDs:           adminIDs,
		MaxWorkers:             maxWorkers,
		MessageQueueSize:       queueSize,
		RateLimitMessages:      rateLimitMsgs,
		RateLimitWindowSec:     rateLimitWindow,
		HealthCheckIntervalSec: healthInterval,
		MaxRetries:             maxRetries,
		SimilarityThreshold:    similarity,
		DatabasePath:           databasePath,
		SessionFile:            sessionFile,
		StateFile:              stateFile,
		LogLevel:               logLevel,
		// Файловое логирование
		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
		ThrottleRPS:       throttleRPS,
		DedupWindowSec:    dedupWindow,
		DebounceEditMS:    debounceMS,
		TestDC:            testDC,
		RunTimeoutSec:     runTimeout,
		CLIEnable:         cliEnable,
		// Web Server
		WebServerEnable:  webServerEnable,
		WebServerAddress: webServerAddress,
		WebAuthToken:     webAuthToken,
	}

	cfg := &Config{
		Env:      env,
		warnings: warnings,
	}

	return cfg, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перезапустить приложение.
func Env() EnvConfig {
	return cfgInstance.Env
}

// collectBotTokens собирает пул токенов: сначала CSV из BOT_TOKENS, затем
// нумерованные BOT_TOKEN_1..BOT_TOKEN_10. Дубликаты отбрасываются, порядок
// сохраняется — индекс в итоговом списке и есть bot_index.
func collectBotTokens() []string {
	seen := make(map[string]struct{})
	var tokens []string

	add := func(raw string) {
		t := strings.TrimSpace(raw)
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		tokens = append(tokens, t)
	}

	for _, part := range strings.Split(os.Getenv("BOT_TOKENS"), ",") {
		add(part)
	}
	for i := 1; i <= numberedTokenSlots; i++ {
		add(os.Getenv(fmt.Sprintf("BOT_TOKEN_%d", i)))
	}

	return tokens
}

// parseInt64List читает CSV-список идентификаторов пользователей. Некорректные
// элементы пропускаются с предупреждением; пустой результат — валидное значение.
func parseInt64List(name string, warnings *[]string) []int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]int64, 0, len(parts))
	seen := make(map[int64]struct{}, len(parts))
	for _, part := range parts {
		token := strings.TrimSpace(part)
		if token == "" {
			continue
		}
		v, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			appendWarningf(warnings, "env %s entry %q is not a valid integer; skipped", name, token)
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых приложение не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero / nonNegative — простые валидаторы чисел. Используются в
// parseIntDefault, чтобы навязать смысловые ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }

// intRange возвращает валидатор диапазона [min, max] включительно.
func intRange(min, max int) func(int) bool {
	return func(v int) bool { return v >= min && v <= max }
}

// atLeast возвращает валидатор нижней границы.
func atLeast(min int) func(int) bool {
	return func(v int) bool { return v >= min }
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal и пишет предупреждение.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// sanitizeLogLevel нормализует уровень логирования и ограничивает значения
// набором {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(name, level, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env %s value %q is invalid; using default %q", name, level, defaultVal)
		return defaultVal
	}
}

// sanitizeFile возвращает валидное имя файла конфигурации. Если переменная не
// задана, подставляет fallback и пишет предупреждение.
func sanitizeFile(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}
