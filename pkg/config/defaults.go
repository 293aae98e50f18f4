package config

import "time"

// Default values applied when the file and environment leave a field
// unset.
const (
	DefaultLogLevel = "INFO"

	DefaultServerPort      = 2121
	DefaultShutdownTimeout = 10 * time.Second

	DefaultAdminPort = 9090

	DefaultStorageRoot = "./ftp-root"

	DefaultMaxConnections      = 20
	DefaultUploadBytesPerSec   = int64(200_000)
	DefaultDownloadBytesPerSec = int64(200_000)
)

// ApplyDefaults fills in default values for unset configuration fields.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAdminDefaults(&cfg.Admin)
	applyStorageDefaults(&cfg.Storage)
	applyLimitsDefaults(&cfg.Limits)
}

func applyLoggingDefaults(logging *LoggingConfig) {
	if logging.Level == "" {
		logging.Level = DefaultLogLevel
	}
}

func applyServerDefaults(server *ServerConfig) {
	if server.Port == 0 {
		server.Port = DefaultServerPort
	}
	if server.ShutdownTimeout == 0 {
		server.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyAdminDefaults(admin *AdminConfig) {
	if admin.Port == 0 {
		admin.Port = DefaultAdminPort
	}
}

func applyStorageDefaults(storage *StorageConfig) {
	if storage.Root == "" {
		storage.Root = DefaultStorageRoot
	}
}

func applyLimitsDefaults(limits *LimitsConfig) {
	if limits.MaxConnections == 0 {
		limits.MaxConnections = DefaultMaxConnections
	}
	if limits.UploadBytesPerSec == 0 {
		limits.UploadBytesPerSec = DefaultUploadBytesPerSec
	}
	if limits.DownloadBytesPerSec == 0 {
		limits.DownloadBytesPerSec = DefaultDownloadBytesPerSec
	}
}
