package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort string
	ServiceName string

	// Upload engine configuration
	DataDir           string
	DefaultStorage    string
	ReservationTTL    time.Duration
	LockWait          time.Duration
	SignedURLTTL      time.Duration
	SmallFileHashSize int64

	// MinIO configuration
	UseMinIO        bool
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool
	MinIOMaxBytes   int64

	// Google Drive configuration
	UseGoogleDrive         bool
	GoogleDriveCredentials string
	GoogleDriveFolderID    string

	// MySQL configuration
	MySQLHost     string
	MySQLPort     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Jaeger configuration
	JaegerEndpoint string
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	config := &Config{
		// Service defaults
		ServicePort: getEnv("SERVICE_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "unishare-uploads"),

		// Upload engine defaults
		DataDir:           getEnv("DATA_DIR", "./data"),
		DefaultStorage:    getEnv("DEFAULT_STORAGE", "local"),
		ReservationTTL:    time.Duration(getEnvAsInt("RESERVATION_TTL_SECONDS", 3600)) * time.Second,
		LockWait:          time.Duration(getEnvAsInt("LOCK_WAIT_SECONDS", 30)) * time.Second,
		SignedURLTTL:      time.Duration(getEnvAsInt("SIGNED_URL_TTL_SECONDS", 3600)) * time.Second,
		SmallFileHashSize: getEnvAsInt64("SMALL_FILE_HASH_BYTES", 10*1024*1024),

		// MinIO defaults
		UseMinIO:        getEnvAsBool("USE_MINIO", false),
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "unishare"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),
		MinIOMaxBytes:   getEnvAsInt64("MINIO_MAX_BYTES", 10*1024*1024*1024),

		// Google Drive defaults
		UseGoogleDrive:         getEnvAsBool("USE_GOOGLE_DRIVE", false),
		GoogleDriveCredentials: getEnv("GOOGLE_DRIVE_CREDENTIALS", "google-service-account.json"),
		GoogleDriveFolderID:    getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),

		// MySQL defaults
		MySQLHost:     getEnv("MYSQL_HOST", "localhost"),
		MySQLPort:     getEnv("MYSQL_PORT", "3306"),
		MySQLUser:     getEnv("MYSQL_USER", "root"),
		MySQLPassword: getEnv("MYSQL_PASSWORD", ""),
		MySQLDatabase: getEnv("MYSQL_DATABASE", "unishare"),

		// Redis defaults
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Jaeger defaults
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:4318"),
	}

	return config, nil
}

// GetDSN returns the MySQL connection string. clientFoundRows makes
// RowsAffected report matched rows rather than changed rows, so a no-op
// UPDATE on an existing session is not mistaken for a missing one.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&clientFoundRows=true",
		c.MySQLUser,
		c.MySQLPassword,
		c.MySQLHost,
		c.MySQLPort,
		c.MySQLDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
