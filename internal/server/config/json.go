package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/rewardvault/internal/flagx"
	"github.com/dmitrijs2005/rewardvault/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "24h" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddrHTTP      string         `json:"endpoint_addr_http"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	AdminPasswordHash     string         `json:"admin_password_hash"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	IdempotencyTTL        timex.Duration `json:"idempotency_ttl"`
	LockTimeoutMs         int            `json:"lock_timeout_ms"`
	StatementTimeoutMs    int            `json:"statement_timeout_ms"`
	MaxBulkTargets        int            `json:"max_bulk_targets"`
	ImportChunkSize       int            `json:"import_chunk_size"`
	DefaultExpiryHours    int            `json:"default_expiry_hours"`
	JoinedExpiryHours     int            `json:"joined_expiry_hours"`
	WorkerPollInterval    timex.Duration `json:"worker_poll_interval"`
	S3RootUser            string         `json:"s3_root_user"`
	S3RootPassword        string         `json:"s3_root_password"`
	S3Bucket              string         `json:"s3_bucket"`
	S3Region              string         `json:"s3_region"`
	S3BaseEndpoint        string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, no JSON file is loaded. Zero-valued JSON fields leave the current
// Config value untouched, so a partial file only overrides what it names.
// If the file cannot be read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.AdminPasswordHash, c.AdminPasswordHash)
	setDuration(&config.TokenValidityDuration, c.TokenValidityDuration)
	setDuration(&config.IdempotencyTTL, c.IdempotencyTTL)
	setInt(&config.LockTimeoutMs, c.LockTimeoutMs)
	setInt(&config.StatementTimeoutMs, c.StatementTimeoutMs)
	setInt(&config.MaxBulkTargets, c.MaxBulkTargets)
	setInt(&config.ImportChunkSize, c.ImportChunkSize)
	setInt(&config.DefaultExpiryHours, c.DefaultExpiryHours)
	setInt(&config.JoinedExpiryHours, c.JoinedExpiryHours)
	setDuration(&config.WorkerPollInterval, c.WorkerPollInterval)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
