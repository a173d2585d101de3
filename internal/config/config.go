// ==============================================
// Configuration for the care relay service
// Environment driven, no config files besides .env
// ==============================================

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ==============================================
// Main Configuration Structure
// ==============================================

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Call     CallConfig
	Chat     ChatConfig
}

type AppConfig struct {
	Name        string
	Version     string
	Environment string
	Port        string
	Debug       bool
}

// ==============================================
// Server Configuration
// ==============================================

type ServerConfig struct {
	HTTP      HTTPConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
}

type HTTPConfig struct {
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	SendBufferSize  int
	AllowedOrigins  []string
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// ==============================================
// Database Configuration
// ==============================================

const (
	StoreDriverMongo  = "mongo"
	StoreDriverMemory = "memory"
)

type DatabaseConfig struct {
	Driver  string
	MongoDB MongoConfig
}

type MongoConfig struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	MaxConnIdleTime        time.Duration
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
	HeartbeatInterval      time.Duration
}

// ==============================================
// Security Configuration
// ==============================================

type SecurityConfig struct {
	JWT       JWTConfig
	RateLimit RateLimitConfig
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type RateLimitConfig struct {
	Requests          int // per second
	Burst             int
	WSMessagesPerMin  int
	WSMaxConnsPerUser int
}

// ==============================================
// Call / Chat Configuration
// ==============================================

// Meeting code length bounds. Codes shorter than five characters cannot be
// generated from the random buffer the code generator draws from.
const (
	MinMeetingCodeLength = 5
	MaxMeetingCodeLength = 32
)

type CallConfig struct {
	MeetingCodeLength   int
	MeetingCodeAlphabet string
	MeetingCodeRetries  int
	MissedTimeout       time.Duration
	AbandonTimeout      time.Duration // 0 disables
	SweepInterval       time.Duration
	ICEServers          []ICEServerConfig
}

type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
}

type ChatConfig struct {
	MaxContentLength int
}

// ==============================================
// Loading
// ==============================================

func Load() *Config {
	cfg := &Config{
		App:      loadAppConfig(),
		Server:   loadServerConfig(),
		Database: loadDatabaseConfig(),
		Security: loadSecurityConfig(),
		Call:     loadCallConfig(),
		Chat:     loadChatConfig(),
	}

	cfg.ApplyEnvironmentOverrides()
	return cfg
}

func loadAppConfig() AppConfig {
	return AppConfig{
		Name:        getEnv("APP_NAME", "Telecare Relay"),
		Version:     getEnv("APP_VERSION", "1.0.0"),
		Environment: getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		Debug:       getEnvAsBool("DEBUG", false),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		HTTP: HTTPConfig{
			Host:            getEnv("HTTP_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("HTTP_READ_TIMEOUT", "30s"),
			WriteTimeout:    getEnvAsDuration("HTTP_WRITE_TIMEOUT", "30s"),
			IdleTimeout:     getEnvAsDuration("HTTP_IDLE_TIMEOUT", "60s"),
			ShutdownTimeout: getEnvAsDuration("HTTP_SHUTDOWN_TIMEOUT", "10s"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER", 1024),
			PingPeriod:      getEnvAsDuration("WS_PING_PERIOD", "54s"),
			PongWait:        getEnvAsDuration("WS_PONG_WAIT", "60s"),
			WriteWait:       getEnvAsDuration("WS_WRITE_WAIT", "10s"),
			MaxMessageSize:  getEnvAsInt64("WS_MAX_MESSAGE_SIZE", 64*1024),
			SendBufferSize:  getEnvAsInt("WS_SEND_BUFFER", 256),
			AllowedOrigins:  getEnvAsSlice("WS_ALLOWED_ORIGINS", ""),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ORIGINS", "http://localhost:3000"),
			AllowedMethods: getEnvAsSlice("CORS_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnvAsSlice("CORS_HEADERS", "Origin,Content-Type,Accept,Authorization,X-Requested-With"),
		},
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverMongo)),
		MongoDB: MongoConfig{
			URI:                    getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:               getEnv("MONGODB_DATABASE", "telecare"),
			MaxPoolSize:            getEnvAsUint64("MONGODB_MAX_POOL_SIZE", 100),
			MinPoolSize:            getEnvAsUint64("MONGODB_MIN_POOL_SIZE", 5),
			MaxConnIdleTime:        getEnvAsDuration("MONGODB_MAX_IDLE_TIME", "30m"),
			ConnectTimeout:         getEnvAsDuration("MONGODB_CONNECT_TIMEOUT", "10s"),
			ServerSelectionTimeout: getEnvAsDuration("MONGODB_SERVER_SELECTION_TIMEOUT", "5s"),
			HeartbeatInterval:      getEnvAsDuration("MONGODB_HEARTBEAT_INTERVAL", "10s"),
		},
	}
}

func loadSecurityConfig() SecurityConfig {
	return SecurityConfig{
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", ""),
		},
		RateLimit: RateLimitConfig{
			Requests:          getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
			WSMessagesPerMin:  getEnvAsInt("WS_RATE_LIMIT_PER_MIN", 120),
			WSMaxConnsPerUser: getEnvAsInt("WS_MAX_CONNS_PER_USER", 5),
		},
	}
}

func loadCallConfig() CallConfig {
	return CallConfig{
		MeetingCodeLength:   getEnvAsInt("MEETING_CODE_LENGTH", 6),
		MeetingCodeAlphabet: getEnv("MEETING_CODE_ALPHABET", "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"),
		MeetingCodeRetries:  getEnvAsInt("MEETING_CODE_RETRIES", 5),
		MissedTimeout:       getEnvAsDuration("CALL_MISSED_TIMEOUT", "60s"),
		AbandonTimeout:      getEnvAsDuration("CALL_ABANDON_TIMEOUT", "0s"),
		SweepInterval:       getEnvAsDuration("CALL_SWEEP_INTERVAL", "15s"),
		ICEServers:          loadICEServers(),
	}
}

func loadICEServers() []ICEServerConfig {
	servers := []ICEServerConfig{}

	if stun := getEnvAsSlice("STUN_SERVERS", "stun:stun.l.google.com:19302"); len(stun) > 0 {
		servers = append(servers, ICEServerConfig{URLs: stun})
	}

	if turn := getEnvAsSlice("TURN_SERVERS", ""); len(turn) > 0 {
		servers = append(servers, ICEServerConfig{
			URLs:       turn,
			Username:   getEnv("TURN_USERNAME", ""),
			Credential: getEnv("TURN_CREDENTIAL", ""),
		})
	}

	return servers
}

func loadChatConfig() ChatConfig {
	return ChatConfig{
		MaxContentLength: getEnvAsInt("CHAT_MAX_CONTENT_LENGTH", 4000),
	}
}

// ==============================================
// Helper Functions
// ==============================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsSlice(key string, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ==============================================
// Configuration Validation
// ==============================================

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case StoreDriverMongo, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Database.Driver)
	}

	if c.Security.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Call.MeetingCodeLength < MinMeetingCodeLength || c.Call.MeetingCodeLength > MaxMeetingCodeLength {
		return fmt.Errorf("MEETING_CODE_LENGTH must be between %d and %d, got %d",
			MinMeetingCodeLength, MaxMeetingCodeLength, c.Call.MeetingCodeLength)
	}

	if len(c.Call.MeetingCodeAlphabet) < 2 {
		return fmt.Errorf("MEETING_CODE_ALPHABET needs at least two characters")
	}

	if c.Call.MeetingCodeRetries < 1 {
		return fmt.Errorf("MEETING_CODE_RETRIES must be positive")
	}

	if c.Call.SweepInterval <= 0 {
		return fmt.Errorf("CALL_SWEEP_INTERVAL must be positive")
	}

	if c.Server.WebSocket.PingPeriod >= c.Server.WebSocket.PongWait {
		return fmt.Errorf("WS_PING_PERIOD must be shorter than WS_PONG_WAIT")
	}

	return nil
}

// ==============================================
// Environment-specific Configuration
// ==============================================

func (c *Config) ApplyEnvironmentOverrides() {
	switch c.App.Environment {
	case "development":
		c.applyDevelopmentOverrides()
	case "production":
		c.applyProductionOverrides()
	}
}

func (c *Config) applyDevelopmentOverrides() {
	c.App.Debug = true
	if c.Security.JWT.Secret == "" {
		c.Security.JWT.Secret = "dev-secret-change-me"
	}
	c.Server.CORS.AllowedOrigins = append(c.Server.CORS.AllowedOrigins, "http://localhost:3001")
}

func (c *Config) applyProductionOverrides() {
	c.App.Debug = false
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
