package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/flagx"
	"github.com/dmitrijs2005/smartagro/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config for file decoding. Pointer fields distinguish
// "absent" from zero values so a partial file only overrides what it sets.
// Durations accept "30s" or integer nanoseconds.
type FileConfig struct {
	HTTPAddr          *string         `json:"http_addr" yaml:"http_addr"`
	DatabaseDriver    *string         `json:"database_driver" yaml:"database_driver"`
	DatabaseDSN       *string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey         *string         `json:"secret_key" yaml:"secret_key"`
	SessionTTL        *timex.Duration `json:"session_ttl" yaml:"session_ttl"`
	PasswordHasher    *string         `json:"password_hasher" yaml:"password_hasher"`
	BcryptCost        *int            `json:"bcrypt_cost" yaml:"bcrypt_cost"`
	UploadDir         *string         `json:"upload_dir" yaml:"upload_dir"`
	UploadURLPrefix   *string         `json:"upload_url_prefix" yaml:"upload_url_prefix"`
	AllowedExtensions []string        `json:"allowed_extensions" yaml:"allowed_extensions"`
	MaxUploadBytes    *int64          `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	UniqueUploadNames *bool           `json:"unique_upload_names" yaml:"unique_upload_names"`
	ImageWidth        *int            `json:"image_width" yaml:"image_width"`
	ImageHeight       *int            `json:"image_height" yaml:"image_height"`
	MaxImagePixels    *int            `json:"max_image_pixels" yaml:"max_image_pixels"`
	ClassifierAddr    *string         `json:"classifier_addr" yaml:"classifier_addr"`
	ClassifierTimeout *timex.Duration `json:"classifier_timeout" yaml:"classifier_timeout"`
	ImageStore        *string         `json:"image_store" yaml:"image_store"`
	S3RootUser        *string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword    *string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket          *string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region          *string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint    *string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3PresignTTL      *timex.Duration `json:"s3_presign_ttl" yaml:"s3_presign_ttl"`
	LogBackend        *string         `json:"log_backend" yaml:"log_backend"`
	Debug             *bool           `json:"debug" yaml:"debug"`
}

// parseFile loads the file named by -c/-config into config. Files ending in
// .yaml or .yml are decoded as YAML, anything else as JSON. No flag, no-op.
// Unreadable or invalid files panic.
func parseFile(config *Config) {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(config)
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.HTTPAddr, fc.HTTPAddr)
	setString(&c.DatabaseDriver, fc.DatabaseDriver)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	setDuration(&c.SessionTTL, fc.SessionTTL)
	setString(&c.PasswordHasher, fc.PasswordHasher)
	if fc.BcryptCost != nil {
		c.BcryptCost = *fc.BcryptCost
	}
	setString(&c.UploadDir, fc.UploadDir)
	setString(&c.UploadURLPrefix, fc.UploadURLPrefix)
	if len(fc.AllowedExtensions) > 0 {
		c.AllowedExtensions = normalizeExtensions(fc.AllowedExtensions)
	}
	if fc.MaxUploadBytes != nil {
		c.MaxUploadBytes = *fc.MaxUploadBytes
	}
	if fc.UniqueUploadNames != nil {
		c.UniqueUploadNames = *fc.UniqueUploadNames
	}
	if fc.ImageWidth != nil {
		c.ImageWidth = *fc.ImageWidth
	}
	if fc.ImageHeight != nil {
		c.ImageHeight = *fc.ImageHeight
	}
	if fc.MaxImagePixels != nil {
		c.MaxImagePixels = *fc.MaxImagePixels
	}
	setString(&c.ClassifierAddr, fc.ClassifierAddr)
	setDuration(&c.ClassifierTimeout, fc.ClassifierTimeout)
	setString(&c.ImageStore, fc.ImageStore)
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setDuration(&c.S3PresignTTL, fc.S3PresignTTL)
	setString(&c.LogBackend, fc.LogBackend)
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

// normalizeExtensions lower-cases, strips leading dots and drops blanks.
func normalizeExtensions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
