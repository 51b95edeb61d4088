// Package config provides application configuration management.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then an optional .env file in the working directory, then TASKTRAX_*
// environment variables. The result is validated before it is returned.
//
// # Environment
//
// Server settings:
//
//	TASKTRAX_HOST="0.0.0.0"
//	TASKTRAX_PORT="8080"
//	TASKTRAX_SHUTDOWN_TIMEOUT="30s"
//
// Store settings:
//
//	TASKTRAX_STORE_BACKEND="postgres"  # memory, sqlite, postgres, redis
//	TASKTRAX_SQLITE_PATH="/var/lib/tasktrax/tasktrax.db"
//	TASKTRAX_POSTGRES_URL="postgres://localhost/tasktrax?sslmode=disable"
//	TASKTRAX_REDIS_ADDR="localhost:6379"
//
// Auth settings:
//
//	TASKTRAX_AUTH_MODE="oidc"  # oidc, header
//	TASKTRAX_OIDC_ISSUER="https://accounts.example.com"
//	TASKTRAX_OIDC_CLIENT_ID="tasktrax"
//
// Sync and jobs:
//
//	TASKTRAX_SYNC_LIVENESS_TIMEOUT="2m"
//	TASKTRAX_SYNC_WATCHDOG_SCHEDULE="@every 30s"
//	TASKTRAX_OVERDUE_SCHEDULE="0 * * * *"
//
// Observability settings:
//
//	TASKTRAX_LOG_LEVEL="info"  # debug, info, warn, error
//	TASKTRAX_METRICS_ENABLED="true"
//	TASKTRAX_OTEL_ENABLED="true"
//	TASKTRAX_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig("/etc/tasktrax/config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Store: %s\n", cfg.Store.Backend)
package config
