package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	DeviceID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Graylog GELF over UDP, e.g. graylog:12201. Empty disables.
	GraylogAddress string

	// Capture
	// Device index ("0"), file path or stream URL understood by OpenCV
	CaptureSource       string
	CaptureInterval     time.Duration
	ProcessEveryNFrames int

	// Queue sizes
	FrameQueueSize    int
	ResultQueueSize   int
	OutboundQueueSize int
	// Evict the oldest item instead of the newest when a queue is full
	QueueDropOldest bool

	// Detection model (gRPC)
	ModelGRPCURL        string
	ModelMethod         string
	ModelTimeout        time.Duration // 0 = no deadline
	ModelInputWidth     int
	ModelInputHeight    int
	ConfidenceThreshold float64
	ViolenceThreshold   float64
	ClassTablePath      string
	WorkerIdle          time.Duration

	// Geospatial
	GeoEnabled          bool
	GPSPort             string
	GPSBaudRate         int
	GPSReplayFile       string // NMEA log replayed instead of the serial port
	ElevationRasterPath string
	RasterEPSG          int
	LandUsePath         string
	LandUseProperty     string

	// Reasoning service
	ReasoningURL     string
	ReasoningModel   string
	ReasoningTimeout time.Duration

	// Transmission
	ServerURL    string
	MaxRetries   int
	RetryDelay   time.Duration
	HTTPTimeout  time.Duration
	ImageQuality int // JPEG quality (1-100)

	// Event assembly
	EventCooldown time.Duration

	// NATS mirror for assembled events
	NatsEnabled        bool
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	EventsSubject      string

	// InfluxDB stats reporting
	InfluxEnabled  bool
	InfluxURL      string
	InfluxToken    string
	InfluxOrg      string
	InfluxBucket   string
	InfluxInterval time.Duration

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	loadDotEnv()

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DeviceID:    getEnv("DEVICE_ID", "edge-1"),
		Port:        getEnvInt("PORT", 8090),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		GraylogAddress: getEnv("GRAYLOG_ADDRESS", ""),

		// Capture
		CaptureSource:       getEnv("CAPTURE_SOURCE", "0"),
		CaptureInterval:     getEnvDuration("CAPTURE_INTERVAL", 10*time.Millisecond),
		ProcessEveryNFrames: getEnvInt("PROCESS_EVERY_N_FRAMES", 1),

		// Queues
		FrameQueueSize:    getEnvInt("FRAME_QUEUE_SIZE", 10),
		ResultQueueSize:   getEnvInt("RESULT_QUEUE_SIZE", 10),
		OutboundQueueSize: getEnvInt("OUTBOUND_QUEUE_SIZE", 10),
		QueueDropOldest:   getEnvBool("QUEUE_DROP_OLDEST", false),

		// Detection model
		ModelGRPCURL:        getEnv("MODEL_GRPC_URL", "localhost:50051"),
		ModelMethod:         getEnv("MODEL_METHOD", "/sentinel.detection.v1.Detector/Detect"),
		ModelTimeout:        getEnvDuration("MODEL_TIMEOUT", 0),
		ModelInputWidth:     getEnvInt("MODEL_INPUT_WIDTH", 640),
		ModelInputHeight:    getEnvInt("MODEL_INPUT_HEIGHT", 640),
		ConfidenceThreshold: getEnvFloat("CONFIDENCE_THRESHOLD", 0.5),
		ViolenceThreshold:   getEnvFloat("VIOLENCE_THRESHOLD", 0.7),
		ClassTablePath:      getEnv("CLASS_TABLE_PATH", ""),
		WorkerIdle:          getEnvDuration("WORKER_IDLE", 10*time.Millisecond),

		// Geospatial
		GeoEnabled:          getEnvBool("GEO_ENABLED", true),
		GPSPort:             getEnv("GPS_PORT", "/dev/ttyUSB0"),
		GPSBaudRate:         getEnvInt("GPS_BAUD_RATE", 9600),
		GPSReplayFile:       getEnv("GPS_REPLAY_FILE", ""),
		ElevationRasterPath: getEnv("ELEVATION_RASTER", "data/elevation.asc"),
		RasterEPSG:          getEnvInt("RASTER_EPSG", 4326),
		LandUsePath:         getEnv("LANDUSE_PATH", "data/landuse.geojson"),
		LandUseProperty:     getEnv("LANDUSE_PROPERTY", "landuse"),

		// Reasoning service
		ReasoningURL:     getEnv("REASONING_URL", "http://localhost:11434/api/generate"),
		ReasoningModel:   getEnv("REASONING_MODEL", "gemma:2b"),
		ReasoningTimeout: getEnvDuration("REASONING_TIMEOUT", 30*time.Second),

		// Transmission
		ServerURL:    getEnv("SERVER_URL", "http://localhost:8000/api/events"),
		MaxRetries:   getEnvInt("MAX_RETRIES", 3),
		RetryDelay:   getEnvDuration("RETRY_DELAY", 1*time.Second),
		HTTPTimeout:  getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		ImageQuality: getEnvInt("IMAGE_QUALITY", 85),

		EventCooldown: getEnvDuration("EVENT_COOLDOWN", 0),

		// NATS
		NatsEnabled:        getEnvBool("NATS_ENABLED", false),
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		EventsSubject:      getEnv("EVENTS_SUBJECT", "sentinel.events"),

		// InfluxDB
		InfluxEnabled:  getEnvBool("INFLUX_ENABLED", false),
		InfluxURL:      getEnv("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:    getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:      getEnv("INFLUX_ORG", "sentinel"),
		InfluxBucket:   getEnv("INFLUX_BUCKET", "edge"),
		InfluxInterval: getEnvDuration("INFLUX_INTERVAL", 10*time.Second),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// CollectorConfig configures the event sink server
type CollectorConfig struct {
	Version     string
	Environment string
	Port        int
	LogLevel    string

	// sqlite file path, or a postgres:// DSN
	DatabaseURL string
	ImageDir    string
	// Largest accepted event payload in bytes
	MaxBodyBytes int64

	GraylogAddress  string
	ShutdownTimeout time.Duration
}

func LoadCollector() *CollectorConfig {
	loadDotEnv()

	return &CollectorConfig{
		Version:         getEnv("VERSION", "1.0.0"),
		Environment:     getEnv("ENVIRONMENT", "development"),
		Port:            getEnvInt("COLLECTOR_PORT", 8000),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseURL:     getEnv("DATABASE_URL", "sentinel.db"),
		ImageDir:        getEnv("IMAGE_DIR", "images"),
		MaxBodyBytes:    int64(getEnvInt("MAX_BODY_BYTES", 20*1024*1024)), // 20MB
		GraylogAddress:  getEnv("GRAYLOG_ADDRESS", ""),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func isRunningInDocker() bool {
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}
	if isRunningInDocker() {
		return "nats://nats:4222"
	}
	return "nats://localhost:4222"
}
