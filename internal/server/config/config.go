// Package config handles configuration for the server component,
// including defaults, a JSON or YAML file overlay, environment variables
// and command-line flags.
package config

import "time"

// Config holds runtime settings for the smartagro server.
//
// Fields:
//   - HTTPAddr: bind address for the HTTP surface.
//   - DatabaseDriver / DatabaseDSN: credential store ("sqlite" or "postgres").
//   - SecretKey: HMAC secret for signing session cookies (HS256).
//   - SessionTTL: lifetime of the session cookie.
//   - UploadDir / UploadURLPrefix: local image store location and public path.
//   - AllowedExtensions: accepted upload extensions, lower-case, no dot.
//   - UniqueUploadNames: prefix stored files with a uuid instead of overwriting.
//   - ImageWidth / ImageHeight: classifier input size.
//   - MaxImagePixels: largest declared width×height accepted for decoding.
//   - ClassifierAddr / ClassifierTimeout: remote model endpoint and call bound.
//   - ImageStore: "local" or "s3"; S3* fields configure the latter.
type Config struct {
	HTTPAddr          string
	DatabaseDriver    string
	DatabaseDSN       string
	SecretKey         string
	SessionTTL        time.Duration
	PasswordHasher    string
	BcryptCost        int
	UploadDir         string
	UploadURLPrefix   string
	AllowedExtensions []string
	MaxUploadBytes    int64
	UniqueUploadNames bool
	ImageWidth        int
	ImageHeight       int
	MaxImagePixels    int
	ClassifierAddr    string
	ClassifierTimeout time.Duration
	ImageStore        string
	S3RootUser        string
	S3RootPassword    string
	S3Bucket          string
	S3Region          string
	S3BaseEndpoint    string
	S3PresignTTL      time.Duration
	LogBackend        string
	Debug             bool
}

// Image store kinds.
const (
	StoreLocal = "local"
	StoreS3    = "s3"
)

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey must be overridden outside development.
func (c *Config) LoadDefaults() {
	c.HTTPAddr = ":5000"
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "smartagro.db"
	c.SecretKey = "smartagro_secret"
	c.SessionTTL = 24 * time.Hour
	c.PasswordHasher = "bcrypt"
	c.BcryptCost = 12
	c.UploadDir = "static/uploads"
	c.UploadURLPrefix = "/static/uploads"
	c.AllowedExtensions = []string{"png", "jpg", "jpeg"}
	c.MaxUploadBytes = 16 << 20
	c.UniqueUploadNames = false
	c.ImageWidth = 224
	c.ImageHeight = 224
	c.MaxImagePixels = 25_000_000
	c.ClassifierAddr = "127.0.0.1:50051"
	c.ClassifierTimeout = 30 * time.Second
	c.ImageStore = StoreLocal
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "leaves"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
	c.S3PresignTTL = 15 * time.Minute
	c.LogBackend = "slog"
	c.Debug = false
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional config file, the environment and finally command-line
// flags. Malformed sources panic: configuration errors are startup-fatal.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}
