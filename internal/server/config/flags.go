package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/smartagro/internal/flagx"
)

// serverFlags lists every flag parseFlags understands; everything else in
// os.Args is left to other flag sets (-c, -env-file).
var serverFlags = []string{
	"-a", "-d", "-D", "-s", "-t", "-u", "-p", "-b", "-g", "-e",
	"-upload-dir", "-extensions", "-unique-names", "-max-pixels", "-classifier", "-classifier-timeout",
	"-store", "-log", "-debug",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string              HTTP bind address (e.g., ":5000")
//	-D string              database driver ("sqlite" or "postgres")
//	-d string              database DSN
//	-s string              session cookie HMAC secret key
//	-t int                 session validity, minutes
//	-u / -p string         S3 root user / password
//	-b / -g / -e string    S3 bucket / region / base endpoint
//	-upload-dir string     local image store directory
//	-extensions string     comma-separated allowed extensions
//	-unique-names bool     uuid-prefix stored uploads
//	-max-pixels int        largest accepted image width×height
//	-classifier string     classifier gRPC address
//	-classifier-timeout d  classifier call timeout (e.g. "10s")
//	-store string          image store ("local" or "s3")
//	-log string            log backend ("slog" or "zap")
//	-debug bool            enable debug logging
//
// Invalid flag values panic.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDriver, "D", config.DatabaseDriver, "database driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	sessionTTL := fs.Int("t", int(config.SessionTTL.Minutes()), "session validity (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.UploadDir, "upload-dir", config.UploadDir, "upload directory")
	extensions := fs.String("extensions", strings.Join(config.AllowedExtensions, ","), "allowed upload extensions")
	fs.BoolVar(&config.UniqueUploadNames, "unique-names", config.UniqueUploadNames, "prefix uploads with a uuid")
	fs.IntVar(&config.MaxImagePixels, "max-pixels", config.MaxImagePixels, "largest accepted image width×height")
	fs.StringVar(&config.ClassifierAddr, "classifier", config.ClassifierAddr, "classifier gRPC address")
	fs.DurationVar(&config.ClassifierTimeout, "classifier-timeout", config.ClassifierTimeout, "classifier call timeout")
	fs.StringVar(&config.ImageStore, "store", config.ImageStore, "image store")
	fs.StringVar(&config.LogBackend, "log", config.LogBackend, "log backend")
	fs.BoolVar(&config.Debug, "debug", config.Debug, "debug logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// minute granularity would truncate file/env values, so only apply when set
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.SessionTTL = time.Duration(*sessionTTL) * time.Minute
		case "extensions":
			config.AllowedExtensions = normalizeExtensions(strings.Split(*extensions, ","))
		}
	})
}
