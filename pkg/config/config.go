package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the converter service.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Tracing   TracingConfig
	Convert   ConvertConfig
	Fetch     FetchConfig
	RateLimit RateLimitConfig
	Kafka     KafkaConfig
	Archive   ArchiveConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"audioconv"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5m"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=audioconv"`
}

// ConvertConfig controls the ffmpeg transcoding path.
type ConvertConfig struct {
	FFmpegBin         string        `env:"FFMPEG_BIN" envDefault:"ffmpeg"`
	MaxFileSizeBytes  int64         `env:"CONVERT_MAX_FILE_SIZE_BYTES" envDefault:"524288000"`
	MultipartMemBytes int64         `env:"CONVERT_MULTIPART_MEM_BYTES" envDefault:"33554432"`
	Timeout           time.Duration `env:"CONVERT_TIMEOUT" envDefault:"5m"`
	WorkDir           string        `env:"CONVERT_WORK_DIR"`
	MaxConcurrent     int           `env:"CONVERT_MAX_CONCURRENT" envDefault:"8"`
}

// FetchConfig controls the yt-dlp remote fetch path.
type FetchConfig struct {
	YtdlpBin string        `env:"YTDLP_BIN" envDefault:"yt-dlp"`
	Timeout  time.Duration `env:"FETCH_TIMEOUT" envDefault:"5m"`
	// CookiesBase64 is opaque Netscape cookies.txt content, base64 encoded.
	// A request header overrides it per call.
	CookiesBase64 string `env:"YTDLP_COOKIES_BASE64"`
}

type RateLimitConfig struct {
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	ConvertLimit  int           `env:"RATE_LIMIT_CONVERT" envDefault:"10"`
	DownloadLimit int           `env:"RATE_LIMIT_DOWNLOAD" envDefault:"10"`
	InfoLimit     int           `env:"RATE_LIMIT_INFO" envDefault:"20"`
	PruneInterval time.Duration `env:"RATE_LIMIT_PRUNE_INTERVAL" envDefault:"60s"`
}

// KafkaConfig configures the optional conversion lifecycle event stream.
// Leaving Brokers empty disables event emission entirely.
type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic            string        `env:"KAFKA_CONVERSIONS_TOPIC" envDefault:"audioconv.conversions"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

// ArchiveConfig configures the optional artifact archive sink.
type ArchiveConfig struct {
	Enabled   bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	Provider  string `env:"ARCHIVE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"ARCHIVE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"ARCHIVE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"ARCHIVE_BUCKET" envDefault:"audioconv-artifacts"`
	AccessKey string `env:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `env:"ARCHIVE_SECRET_KEY"`
	UseSSL    bool   `env:"ARCHIVE_USE_SSL" envDefault:"false"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
