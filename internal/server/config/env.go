package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/flagx"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every environment variable the server reads.
const envPrefix = "PORTAL_"

// lookupEnv is a seam for tests.
var lookupEnv = os.LookupEnv

// loadDotEnv loads the file named by -env, or ./.env when present, into the
// process environment. Variables already set are not overridden.
func loadDotEnv() error {
	if path := flagx.EnvFileFlag(); path != "" {
		return godotenv.Load(path)
	}
	err := godotenv.Load()
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// parseEnv overlays PORTAL_* variables onto config. Durations use Go
// duration syntax ("15m"); sizes and counts are plain integers.
func parseEnv(config *Config) error {
	if err := loadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}

	strs := map[string]*string{
		"HTTP_ADDR":        &config.HTTPAddr,
		"DATABASE_DSN":     &config.DatabaseDSN,
		"SECRET_KEY":       &config.SecretKey,
		"S3_ROOT_USER":     &config.S3RootUser,
		"S3_ROOT_PASSWORD": &config.S3RootPassword,
		"S3_BUCKET":        &config.S3Bucket,
		"S3_REGION":        &config.S3Region,
		"S3_BASE_ENDPOINT": &config.S3BaseEndpoint,
		"LOG_FORMAT":       &config.LogFormat,
		"LOG_LEVEL":        &config.LogLevel,
		"ADMIN_EMAIL":      &config.AdminEmail,
		"ADMIN_NAME":       &config.AdminName,
		"ADMIN_PASSWORD":   &config.AdminPassword,
	}
	for name, dst := range strs {
		if v, ok := lookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ACCESS_TOKEN_TTL":   &config.AccessTokenValidityDuration,
		"REFRESH_TOKEN_TTL":  &config.RefreshTokenValidityDuration,
		"OTP_TTL":            &config.OTPValidityDuration,
		"OTP_PURGE_INTERVAL": &config.OTPPurgeInterval,
		"SHUTDOWN_TIMEOUT":   &config.ShutdownTimeout,
	}
	for name, dst := range durations {
		v, ok := lookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"OTP_LENGTH":          &config.OTPLength,
		"PASSWORD_ITERATIONS": &config.PasswordIterations,
	}
	for name, dst := range ints {
		v, ok := lookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, name, err)
		}
		*dst = n
	}

	if v, ok := lookupEnv(envPrefix + "MAX_UPLOAD_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_UPLOAD_BYTES: %w", envPrefix, err)
		}
		config.MaxUploadBytes = n
	}

	return nil
}
