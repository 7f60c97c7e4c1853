package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/clipsync/server/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	port = configVar[int]{
		envKey:       "PORT",
		flagKey:      "port",
		defaultValue: 8000,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	inactiveTimeout = configVar[int]{
		envKey:       "INACTIVE_TIMEOUT",
		flagKey:      "inactive-timeout",
		defaultValue: 300,
	}
	minVideoTimeoutHours = configVar[float64]{
		envKey:       "MIN_VIDEO_TIMEOUT_HOURS",
		flagKey:      "min-video-timeout-hours",
		defaultValue: 2,
	}
	videoDurationMultiplier = configVar[float64]{
		envKey:       "VIDEO_DURATION_MULTIPLIER",
		flagKey:      "video-duration-multiplier",
		defaultValue: 5,
	}
	isEncryptedPassword = configVar[bool]{
		envKey:       "IS_ENCRYPTED_PASSWORD",
		flagKey:      "is-encrypted-password",
		defaultValue: false,
	}
	logLevel = configVar[string]{
		envKey:       "LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	logToFiles = configVar[bool]{
		envKey:       "LOG_TO_FILES",
		flagKey:      "log-to-files",
		defaultValue: false,
	}
	errorLogPath = configVar[string]{
		envKey:       "ERROR_LOG_PATH",
		flagKey:      "error-log-path",
		defaultValue: "/var/log/clipsync/error.log",
	}
	combinedLogPath = configVar[string]{
		envKey:       "COMBINED_LOG_PATH",
		flagKey:      "combined-log-path",
		defaultValue: "/var/log/clipsync/combined.log",
	}
	nodeEnv = configVar[string]{
		envKey:       "NODE_ENV",
		flagKey:      "node-env",
		defaultValue: "development",
	}
	rateLimitRequests = configVar[int]{
		envKey:       "RATE_LIMIT_REQUESTS",
		flagKey:      "rate-limit-requests",
		defaultValue: 20,
	}
)

// durableStoreDSN resolves §6's "accepted under both MONGODB_URI and
// DATABASE_URL" note — MONGODB_URI is the spec's name, kept for
// compatibility; DATABASE_URL is the conventional Postgres name the
// actual GORM driver expects. Either populates the same DSN; neither set
// means snapshotting is skipped.
func durableStoreDSN() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	return os.Getenv("MONGODB_URI")
}

func bind[T any](v configVar[T]) {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadAppConfig() *app.AppConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Listen port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Int(inactiveTimeout.flagKey, inactiveTimeout.defaultValue, "Inactivity timeout in seconds")
	pflag.Float64(minVideoTimeoutHours.flagKey, minVideoTimeoutHours.defaultValue, "Minimum eviction grace while a video plays, in hours")
	pflag.Float64(videoDurationMultiplier.flagKey, videoDurationMultiplier.defaultValue, "Playing-video eviction grace multiplier")
	pflag.Bool(isEncryptedPassword.flagKey, isEncryptedPassword.defaultValue, "Hash room passwords with bcrypt instead of storing plaintext")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Bool(logToFiles.flagKey, logToFiles.defaultValue, "Tee logs to error/combined log files")
	pflag.String(errorLogPath.flagKey, errorLogPath.defaultValue, "Error log file path")
	pflag.String(combinedLogPath.flagKey, combinedLogPath.defaultValue, "Combined log file path")
	pflag.String(nodeEnv.flagKey, nodeEnv.defaultValue, "Environment name; \"production\" switches logs to JSON")
	pflag.Int(rateLimitRequests.flagKey, rateLimitRequests.defaultValue, "HTTP requests per second per source address")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	bind(port)
	bind(redisHost)
	bind(redisPort)
	bind(redisPassword)
	bind(inactiveTimeout)
	bind(minVideoTimeoutHours)
	bind(videoDurationMultiplier)
	bind(isEncryptedPassword)
	bind(logLevel)
	bind(logToFiles)
	bind(errorLogPath)
	bind(combinedLogPath)
	bind(nodeEnv)
	bind(rateLimitRequests)

	return &app.AppConfig{
		Port:                    viper.GetInt(port.flagKey),
		RedisHost:               viper.GetString(redisHost.flagKey),
		RedisPort:               viper.GetInt(redisPort.flagKey),
		RedisPassword:           viper.GetString(redisPassword.flagKey),
		DurableStoreDSN:         durableStoreDSN(),
		InactiveTimeout:         time.Duration(viper.GetInt(inactiveTimeout.flagKey)) * time.Second,
		MinVideoTimeoutHours:    viper.GetFloat64(minVideoTimeoutHours.flagKey),
		VideoDurationMultiplier: viper.GetFloat64(videoDurationMultiplier.flagKey),
		IsEncryptedPassword:     viper.GetBool(isEncryptedPassword.flagKey),
		LogLevel:                viper.GetString(logLevel.flagKey),
		LogToFiles:              viper.GetBool(logToFiles.flagKey),
		ErrorLogPath:            viper.GetString(errorLogPath.flagKey),
		CombinedLogPath:         viper.GetString(combinedLogPath.flagKey),
		NodeEnv:                 viper.GetString(nodeEnv.flagKey),
		RateLimitRequests:       viper.GetInt(rateLimitRequests.flagKey),
		RateLimitWindow:         time.Second,
	}
}

func main() {
	ctx := context.Background()

	cfg := loadAppConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	log.Fatal(app.Run(ctx, cfg))
}
