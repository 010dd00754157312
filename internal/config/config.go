package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string

	// Runtime mode: "local" runs against the embedded sqlite ledger first
	// and mirrors to the remote store; "remote" serves the networked store.
	Runtime string

	// Local ledger (sqlite) configuration
	SQLitePath string

	// Networked ledger (postgres) configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Remote store configuration (used when Runtime == "local")
	RemoteAddress string
	RemoteTimeout time.Duration

	// Redis configuration
	RedisAddress string

	// JWT configuration
	JWTSecret string

	// Where the anonymous credential cache lives
	StateDir string

	// Realtime pending queue bound per user
	PendingQueueSize int
}

// Load builds the configuration from environment variables, reading a .env
// file when one is present.
func Load() Config {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Println("Generated random JWT secret")
	}

	stateDir := getEnv("STATE_DIR", "")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		stateDir = filepath.Join(home, ".atome-store")
	}

	return Config{
		ServerPort:       getEnv("PORT", "8080"),
		Environment:      getEnv("ENV", "development"),
		Runtime:          getEnv("RUNTIME", "local"),
		SQLitePath:       getEnv("SQLITE_PATH", filepath.Join(stateDir, "atome.db")),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "postgres"),
		DBName:           getEnv("DB_NAME", "atome_store"),
		RemoteAddress:    getEnv("REMOTE_ADDRESS", "http://localhost:8787"),
		RemoteTimeout:    getDurationEnv("REMOTE_TIMEOUT_MS", 2500*time.Millisecond),
		RedisAddress:     getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:        jwtSecret,
		StateDir:         stateDir,
		PendingQueueSize: getIntEnv("PENDING_QUEUE_SIZE", 100),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

// generateRandomSecret generates a random secret of the specified length
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	secret := make([]byte, length)
	for i := range secret {
		secret[i] = charset[int(time.Now().UnixNano())%len(charset)]
	}
	return string(secret)
}
