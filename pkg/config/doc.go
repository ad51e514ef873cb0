// Package config provides application configuration management from a YAML
// file and environment variables.
//
// # Overview
//
// Defaults are built in. A YAML file named by FIELDNOTE_CONFIG_FILE overrides
// them, and environment variables override the file.
//
// # Configuration Structure
//
// Ops server settings:
//
//	FIELDNOTE_HOST="0.0.0.0"
//	FIELDNOTE_PORT="8081"
//	FIELDNOTE_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	FIELDNOTE_DATABASE_URL="postgres://localhost/fieldnote?sslmode=disable"
//	FIELDNOTE_DATABASE_MAX_CONNS="20"
//
// Grant cache settings:
//
//	FIELDNOTE_CACHE_BACKEND="memory"  # none, memory, redis
//	FIELDNOTE_CACHE_TTL="30s"
//	FIELDNOTE_REDIS_URL="redis://localhost:6379"
//
// Push job settings:
//
//	FIELDNOTE_PUSH_INITIAL_DELAY="60s"
//	FIELDNOTE_PUSH_INTERVAL="60s"
//	FIELDNOTE_PUSH_THROTTLE="24h"
//	FIELDNOTE_PUSH_BATCH_SIZE="100"
//	FIELDNOTE_WATCHDOG_SCHEDULE="@every 15m"
//
// Push dispatcher settings:
//
//	FIELDNOTE_NOTIFY_DISPATCHER="http"  # http, log
//	FIELDNOTE_NOTIFY_ENDPOINT="https://exp.host/--/api/v2/push/send"
//	FIELDNOTE_NOTIFY_ACCESS_TOKEN=""
//
// Grant audit settings:
//
//	FIELDNOTE_AUDIT_SINK="db"  # none, db, file
//	FIELDNOTE_AUDIT_DIR="/var/log/fieldnote/audit"
//	FIELDNOTE_AUDIT_MAX_FILES="10"
//
// Observability settings:
//
//	FIELDNOTE_LOG_LEVEL="info"  # debug, info, warn, error
//	FIELDNOTE_METRICS_ENABLED="true"
//	FIELDNOTE_OTEL_ENABLED="false"
//	FIELDNOTE_OTEL_ENDPOINT="otel-collector:4317"
//	FIELDNOTE_OTEL_SAMPLE_RATIO="1.0"
//
// The same settings in YAML:
//
//	scheduler:
//	  interval: 30s
//	  batch_size: 50
//	notify:
//	  dispatcher: log
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	go config.Watch(ctx, os.Getenv(config.FileEnv), logger, func(cfg *config.Config) {
//		logger.SetLevel(cfg.Observability.Level())
//	})
package config
