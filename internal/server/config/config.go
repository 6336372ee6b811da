package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime limit the server enforces. It is loaded once at
// startup and passed by pointer; nothing mutates it afterwards.
type Config struct {
	Host    string
	Port    string
	BaseURL string

	// Room / signaling limits
	MaxRooms             int
	MaxPeersPerRoom      int
	RoomCodeLength       int
	RoomTTL              time.Duration
	MaxMessagesPerSecond float64
	MaxConnsPerIP        int

	// File relay limits
	UploadDir    string
	MaxFileSize  int64
	ChunkSize    int
	RelayFileTTL time.Duration

	// Background sweeps
	RoomSweepInterval time.Duration
	FileSweepInterval time.Duration

	// Upload stall guard: each body read must complete within this window.
	UploadStallTimeout time.Duration

	// HTTP rate limiting (upload endpoint)
	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel string
}

func Load() *Config {
	return &Config{
		Host:    getEnv("HOST", "0.0.0.0"),
		Port:    getEnv("PORT", "8766"),
		BaseURL: getEnv("BASE_URL", "http://localhost:8766"),

		MaxRooms:             getEnvInt("MAX_ROOMS", 50000),
		MaxPeersPerRoom:      getEnvInt("MAX_PEERS_PER_ROOM", 2),
		RoomCodeLength:       getEnvInt("ROOM_CODE_LENGTH", 6),
		RoomTTL:              getEnvDuration("ROOM_TTL_HOURS", time.Hour, time.Hour),
		MaxMessagesPerSecond: getEnvFloat64("MAX_MESSAGES_PER_SEC", 200),
		MaxConnsPerIP:        getEnvInt("MAX_CONNS_PER_IP", 20),

		UploadDir:    getEnv("UPLOAD_DIR", "./uploads"),
		MaxFileSize:  getEnvInt64("MAX_FILE_SIZE", 5*1024*1024*1024), // 5GB
		ChunkSize:    getEnvInt("CHUNK_SIZE", 1024*1024),             // 1MB
		RelayFileTTL: getEnvDuration("RELAY_FILE_TTL_HOURS", time.Hour, time.Hour),

		RoomSweepInterval: getEnvDuration("ROOM_SWEEP_MINUTES", time.Minute, time.Minute),
		FileSweepInterval: getEnvDuration("FILE_SWEEP_MINUTES", time.Minute, 5*time.Minute),

		UploadStallTimeout: getEnvDuration("UPLOAD_STALL_SECONDS", time.Second, 30*time.Second),

		RateLimitRPS:   getEnvFloat64("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat64(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration parses the env value as a (possibly fractional) count of
// unit, e.g. ROOM_TTL_HOURS=0.5 with unit time.Hour.
func getEnvDuration(key string, unit, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(f * float64(unit))
		}
	}
	return fallback
}
