// Package config defines the configuration surface shared by cmd/relay,
// cmd/brokersim, and cmd/decoder. Flags are registered with
// github.com/spf13/pflag and wired through github.com/spf13/cobra command
// trees (see cmd/relay/main.go); every flag falls back to an environment
// variable via envStr/envInt/envInt64, so the command surface can grow a
// --config file later without another rewrite.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// RelayConfig holds cmd/relay's full configuration: server, Mongo, the
// per-session Feed Session tunables, and audit archival.
type RelayConfig struct {
	// Server
	Port int
	Host string

	// Upstream broker
	BrokerURL         string
	BrokerReconnectMinMs int
	BrokerReconnectMaxMs int

	// Database
	MongoURI string

	// Feed Session tunables
	LiveWindowHalfWidth   int
	FlushIntervalMs       int
	HealthIntervalMs      int
	ATMHysteresisMs       int
	ResetDeadlineMs       int
	OutboundQueueCap      int
	AnalyticsWorkerCount  int
	AnalyticsMinIntervalMs int
	IdleSessionTimeoutS   int
	HeartbeatIntervalS    int
	HeartbeatTimeoutS     int

	// Session audit archival
	AuditDir           string
	AuditMaxGB         int
	AuditIntervalHours int
	AuditAfterHours    int

	// Logging
	LogLevel   string
	LogFile    string
	LogMaxMB   int
	LogMaxDays int
	LogMaxBackups int
}

// RegisterRelayFlags binds fs to rc with environment-variable fallbacks.
// Called with the relay cobra root command's Flags().
func RegisterRelayFlags(fs *pflag.FlagSet, rc *RelayConfig) {
	fs.IntVar(&rc.Port, "port", envInt("RELAY_PORT", 8200), "WebSocket/HTTP listen port")
	fs.StringVar(&rc.Host, "host", envStr("RELAY_HOST", "0.0.0.0"), "Listen host")

	fs.StringVar(&rc.BrokerURL, "broker-url", envStr("BROKER_URL", "ws://localhost:8100/broker"), "Upstream broker feed URL")
	fs.IntVar(&rc.BrokerReconnectMinMs, "broker-reconnect-min-ms", envInt("BROKER_RECONNECT_MIN_MS", 500), "Broker reconnect backoff initial interval (ms)")
	fs.IntVar(&rc.BrokerReconnectMaxMs, "broker-reconnect-max-ms", envInt("BROKER_RECONNECT_MAX_MS", 30000), "Broker reconnect backoff cap (ms)")

	fs.StringVar(&rc.MongoURI, "mongo-uri", envStr("MONGO_URI", "mongodb://localhost:27017/optionrelay"), "MongoDB connection URI")

	fs.IntVar(&rc.LiveWindowHalfWidth, "live-window-half-width", envInt("LIVE_WINDOW_HALF_WIDTH", 8), "Strikes kept live on each side of ATM")
	fs.IntVar(&rc.FlushIntervalMs, "flush-interval-ms", envInt("FLUSH_INTERVAL_MS", 200), "Broadcast flush cadence (ms)")
	fs.IntVar(&rc.HealthIntervalMs, "health-interval-ms", envInt("HEALTH_INTERVAL_MS", 1000), "FEED_HEALTH emission cadence (ms)")
	fs.IntVar(&rc.ATMHysteresisMs, "atm-hysteresis-ms", envInt("ATM_HYSTERESIS_MS", 250), "Minimum gap between ATM-qualifying ticks before a rebuild")
	fs.IntVar(&rc.ResetDeadlineMs, "reset-deadline-ms", envInt("RESET_DEADLINE_MS", 5000), "Max time a session may sit in RESETTING")
	fs.IntVar(&rc.OutboundQueueCap, "outbound-queue-cap", envInt("OUTBOUND_QUEUE_CAP", 64), "Per-transport outbound frame queue capacity (not applied; the broadcaster's queue is fixed at 64 frames)")
	fs.IntVar(&rc.AnalyticsWorkerCount, "analytics-worker-count", envInt("ANALYTICS_WORKER_COUNT", 4), "Analytics Engine worker pool size")
	fs.IntVar(&rc.AnalyticsMinIntervalMs, "analytics-min-interval-ms", envInt("ANALYTICS_MIN_INTERVAL_MS", 1000), "Minimum recompute interval per instrument")
	fs.IntVar(&rc.IdleSessionTimeoutS, "idle-session-timeout-s", envInt("IDLE_SESSION_TIMEOUT_S", 1200), "Idle transport timeout (s) (not applied; the broadcaster uses a fixed 20 min)")
	fs.IntVar(&rc.HeartbeatIntervalS, "heartbeat-interval-s", envInt("HEARTBEAT_INTERVAL_S", 20), "WebSocket ping interval (s) (not applied; the broadcaster pings every 20 s)")
	fs.IntVar(&rc.HeartbeatTimeoutS, "heartbeat-timeout-s", envInt("HEARTBEAT_TIMEOUT_S", 30), "WebSocket pong wait (s) (not applied; the broadcaster waits a fixed 30 s)")

	fs.StringVar(&rc.AuditDir, "audit-dir", envStr("AUDIT_DIR", "./data/audit"), "Directory for archived session audit NDJSON files")
	fs.IntVar(&rc.AuditMaxGB, "audit-max-gb", envInt("AUDIT_MAX_GB", 5), "Max total size of archived audit files before oldest are pruned")
	fs.IntVar(&rc.AuditIntervalHours, "audit-interval-hours", envInt("AUDIT_INTERVAL_HOURS", 6), "Hours between audit archive runs")
	fs.IntVar(&rc.AuditAfterHours, "audit-after-hours", envInt("AUDIT_AFTER_HOURS", 24), "Archive audit records older than this many hours")

	fs.StringVar(&rc.LogLevel, "log-level", envStr("LOG_LEVEL", "info"), "zap log level")
	fs.StringVar(&rc.LogFile, "log-file", envStr("LOG_FILE", ""), "Rotating log file path (empty = stderr only)")
	fs.IntVar(&rc.LogMaxMB, "log-max-mb", envInt("LOG_MAX_MB", 100), "lumberjack max size per log file (MB)")
	fs.IntVar(&rc.LogMaxDays, "log-max-days", envInt("LOG_MAX_DAYS", 14), "lumberjack max age of retained log files (days)")
	fs.IntVar(&rc.LogMaxBackups, "log-max-backups", envInt("LOG_MAX_BACKUPS", 5), "lumberjack max retained rotated log files")
}

func (rc *RelayConfig) FlushInterval() time.Duration        { return time.Duration(rc.FlushIntervalMs) * time.Millisecond }
func (rc *RelayConfig) HealthInterval() time.Duration       { return time.Duration(rc.HealthIntervalMs) * time.Millisecond }
func (rc *RelayConfig) ATMHysteresis() time.Duration        { return time.Duration(rc.ATMHysteresisMs) * time.Millisecond }
func (rc *RelayConfig) ResetDeadline() time.Duration        { return time.Duration(rc.ResetDeadlineMs) * time.Millisecond }
func (rc *RelayConfig) AnalyticsMinInterval() time.Duration { return time.Duration(rc.AnalyticsMinIntervalMs) * time.Millisecond }
func (rc *RelayConfig) BrokerReconnectMin() time.Duration   { return time.Duration(rc.BrokerReconnectMinMs) * time.Millisecond }
func (rc *RelayConfig) BrokerReconnectMax() time.Duration   { return time.Duration(rc.BrokerReconnectMaxMs) * time.Millisecond }

// BrokerSimConfig holds cmd/brokersim's configuration.
type BrokerSimConfig struct {
	Port           int
	Host           string
	Seed           int64
	TickIntervalMs int
	Underlyings    []string

	// SeedCatalog, when set, makes cmd/brokersim write its built chains'
	// catalog_entries documents to MongoURI and exit, instead of serving
	// the feed. Lets cmd/relay's Instrument Catalog start populated without
	// needing its own copy of the chain-building logic.
	SeedCatalog bool
	MongoURI    string
}

// RegisterBrokerSimFlags binds fs to bc with environment-variable fallbacks.
func RegisterBrokerSimFlags(fs *pflag.FlagSet, bc *BrokerSimConfig) {
	fs.IntVar(&bc.Port, "port", envInt("BROKERSIM_PORT", 8100), "Upstream feed listen port")
	fs.StringVar(&bc.Host, "host", envStr("BROKERSIM_HOST", "0.0.0.0"), "Listen host")
	fs.Int64Var(&bc.Seed, "seed", envInt64("BROKERSIM_SEED", 0), "PRNG seed (0 = random)")
	fs.IntVar(&bc.TickIntervalMs, "tick-interval-ms", envInt("BROKERSIM_TICK_INTERVAL_MS", 250), "Synthetic tick cadence (ms)")
	fs.StringSliceVar(&bc.Underlyings, "underlying", []string{"NIFTY", "BANKNIFTY"}, "Underlyings to simulate")
	fs.BoolVar(&bc.SeedCatalog, "seed-catalog", false, "Write catalog_entries for the built chains to MongoDB and exit")
	fs.StringVar(&bc.MongoURI, "mongo-uri", envStr("BROKERSIM_MONGO_URI", "mongodb://localhost:27017/optionrelay"), "MongoDB URI, used only with --seed-catalog")
}

func (bc *BrokerSimConfig) TickInterval() time.Duration {
	return time.Duration(bc.TickIntervalMs) * time.Millisecond
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
