package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/campus-events/backend/pkg/database"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	AWS          AWSConfig
	Enrollment   EnrollmentConfig
	Attendance   AttendanceConfig
	Certificates CertificatesConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Driver   string // postgres or memory
	URL      string // used as-is when set
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret           string
	ExpireHours      int
	AllowStaffSignup bool // lets /auth/register create admin and organizer accounts
}

// AWSConfig holds AWS credentials and the reports bucket. An empty bucket disables
// report archiving.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ReportsBucket        string
	PresignExpireMinutes int
}

// EnrollmentConfig bounds enrollment attempts.
type EnrollmentConfig struct {
	TimeoutSec int
}

// AttendanceConfig controls credential windows and rotation.
type AttendanceConfig struct {
	ToleranceMin       int
	CredentialRotation int // seconds
}

// CertificatesConfig controls certificate issuance.
type CertificatesConfig struct {
	CodeRetries int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// PoolOptions returns the pgx pool sizing.
func (c DatabaseConfig) PoolOptions() database.PoolOptions {
	return database.PoolOptions{MaxConns: int32(c.MaxConns), MaxConnIdleTime: 5 * time.Minute}
}

// Timeout returns the enrollment timeout.
func (c EnrollmentConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Tolerance returns the attendance window tolerance.
func (c AttendanceConfig) Tolerance() time.Duration {
	return time.Duration(c.ToleranceMin) * time.Minute
}

// Rotation returns the default credential rotation period.
func (c AttendanceConfig) Rotation() time.Duration {
	return time.Duration(c.CredentialRotation) * time.Second
}

// CORSOrigins returns the allowed origins as a list.
func (c ServerConfig) CORSOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres)),
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "campus_events"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 20),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:           getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours:      getEnvInt("JWT_EXPIRE_HOURS", 24),
			AllowStaffSignup: getEnv("AUTH_ALLOW_STAFF_SIGNUP", "false") == "true",
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ReportsBucket:        getEnv("AWS_S3_REPORTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Enrollment: EnrollmentConfig{
			TimeoutSec: getEnvInt("ENROLLMENT_TIMEOUT_SEC", 10),
		},
		Attendance: AttendanceConfig{
			ToleranceMin:       getEnvInt("ATTENDANCE_TOLERANCE_MIN", 15),
			CredentialRotation: getEnvInt("CREDENTIAL_ROTATION_SEC", 60),
		},
		Certificates: CertificatesConfig{
			CodeRetries: getEnvInt("CERTIFICATE_CODE_RETRIES", 5),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver)
	}
	if c.Enrollment.TimeoutSec <= 0 {
		return fmt.Errorf("ENROLLMENT_TIMEOUT_SEC must be positive")
	}
	if c.Attendance.ToleranceMin < 0 {
		return fmt.Errorf("ATTENDANCE_TOLERANCE_MIN must not be negative")
	}
	if c.Attendance.CredentialRotation <= 0 {
		return fmt.Errorf("CREDENTIAL_ROTATION_SEC must be positive")
	}
	if c.Certificates.CodeRetries <= 0 {
		return fmt.Errorf("CERTIFICATE_CODE_RETRIES must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
