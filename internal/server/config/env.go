package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/flagx"
	"github.com/joho/godotenv"
)

// parseEnv overlays environment variables onto config. A dotenv file named
// by -env-file is loaded first (missing file panics); otherwise ./.env is
// loaded when present. Variables already set in the process win over the
// file. PORT is honoured as a shorthand for HTTP_ADDR=":$PORT".
func parseEnv(config *Config) {
	if path := flagx.EnvFileFlag(); path != "" {
		if err := godotenv.Load(path); err != nil {
			panic(err)
		}
	} else {
		_ = godotenv.Load()
	}

	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			panic(fmt.Errorf("invalid PORT %q: %w", v, err))
		}
		config.HTTPAddr = ":" + v
	}

	envString("HTTP_ADDR", &config.HTTPAddr)
	envString("DATABASE_DRIVER", &config.DatabaseDriver)
	envString("DATABASE_DSN", &config.DatabaseDSN)
	envString("SECRET_KEY", &config.SecretKey)
	envDuration("SESSION_TTL", &config.SessionTTL)
	envString("PASSWORD_HASHER", &config.PasswordHasher)
	envInt("BCRYPT_COST", &config.BcryptCost)
	envString("UPLOAD_DIR", &config.UploadDir)
	envString("UPLOAD_URL_PREFIX", &config.UploadURLPrefix)
	if v, ok := os.LookupEnv("ALLOWED_EXTENSIONS"); ok {
		config.AllowedExtensions = normalizeExtensions(strings.Split(v, ","))
	}
	if v, ok := os.LookupEnv("MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			panic(fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err))
		}
		config.MaxUploadBytes = n
	}
	envBool("UNIQUE_UPLOAD_NAMES", &config.UniqueUploadNames)
	envInt("IMAGE_WIDTH", &config.ImageWidth)
	envInt("IMAGE_HEIGHT", &config.ImageHeight)
	envInt("MAX_IMAGE_PIXELS", &config.MaxImagePixels)
	envString("CLASSIFIER_ADDR", &config.ClassifierAddr)
	envDuration("CLASSIFIER_TIMEOUT", &config.ClassifierTimeout)
	envString("IMAGE_STORE", &config.ImageStore)
	envString("S3_ROOT_USER", &config.S3RootUser)
	envString("S3_ROOT_PASSWORD", &config.S3RootPassword)
	envString("S3_BUCKET", &config.S3Bucket)
	envString("S3_REGION", &config.S3Region)
	envString("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	envDuration("S3_PRESIGN_TTL", &config.S3PresignTTL)
	envString("LOG_BACKEND", &config.LogBackend)
	envBool("DEBUG", &config.Debug)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Errorf("invalid %s %q: %w", key, v, err))
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		panic(fmt.Errorf("invalid %s %q: %w", key, v, err))
	}
	*dst = b
}

func envDuration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		panic(fmt.Errorf("invalid %s %q: %w", key, v, err))
	}
	*dst = d
}
