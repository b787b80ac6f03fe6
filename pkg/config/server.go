package config

import "time"

// ServerConfig holds runtime configuration for the release control plane.
type ServerConfig struct {
	Environment      string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	JWTSecret        string
	EnvEncryptionKey string

	// Host fleet access.
	RemoteMode    string // "ssh" or "local"
	SSHAddr       string
	SSHUser       string
	SSHKeyPath    string
	RemoteTimeout time.Duration

	// Container runtime.
	RegistryHost     string
	FallbackRegistry string
	ContainerPort    int
	MemoryLimit      string
	CPULimit         string
	EnvFileDir       string

	// Slot registry file mirror.
	RegistryMirrorDir string

	// Routing / proxy.
	NginxConfDir       string
	NginxReloadCommand string
	NginxContainerName string
	BaseDomain         string
	PreviewDomain      string
	FleetAddress       string

	// DNS provider.
	DNSAPIBase  string
	DNSAPIToken string

	// Health checking.
	HealthPath          string
	HealthInterval      time.Duration
	HealthTimeout       time.Duration
	HealthMaxAttempts   int
	HealthInitialDelay  time.Duration
	PromoteProbeTimeout time.Duration

	// Pipeline locking.
	LockRedisAddr string
	LockRedisPass string
	LockRedisDB   int
	LockTTL       time.Duration

	// Audit.
	RollbackAuditPath string

	// Grace window applied to a displaced slot.
	GraceWindow time.Duration
}

// LoadServerConfig constructs a ServerConfig from environment variables.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Environment:      GetString("APP_ENV", "development"),
		Addr:             GetString("SERVER_ADDR", ":4000"),
		DatabaseURL:      GetString("DATABASE_URL", "postgres://codeb:codeb@db:5432/codeb?sslmode=disable"),
		MigrationsDir:    GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:        GetString("JWT_SECRET", "supersecuresecret"),
		EnvEncryptionKey: GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),

		RemoteMode:    GetString("REMOTE_MODE", "ssh"),
		SSHAddr:       GetString("SSH_ADDR", "127.0.0.1:22"),
		SSHUser:       GetString("SSH_USER", "deploy"),
		SSHKeyPath:    GetString("SSH_KEY_PATH", "/etc/codeb/id_ed25519"),
		RemoteTimeout: time.Duration(GetInt("REMOTE_TIMEOUT_SECONDS", 120)) * time.Second,

		RegistryHost:     GetString("IMAGE_REGISTRY", "registry.codeb.internal"),
		FallbackRegistry: GetString("IMAGE_REGISTRY_FALLBACK", "docker.io/library"),
		ContainerPort:    GetInt("CONTAINER_PORT", 3000),
		MemoryLimit:      GetString("CONTAINER_MEMORY_LIMIT", "512m"),
		CPULimit:         GetString("CONTAINER_CPU_LIMIT", "1.0"),
		EnvFileDir:       GetString("ENV_FILE_DIR", "/srv/codeb/env"),

		RegistryMirrorDir: GetString("REGISTRY_MIRROR_DIR", "/var/lib/codeb/registries"),

		NginxConfDir:       GetString("NGINX_CONF_DIR", "/etc/nginx/conf.d"),
		NginxReloadCommand: GetString("NGINX_RELOAD_COMMAND", "nginx -t && nginx -s reload"),
		NginxContainerName: GetString("NGINX_CONTAINER_NAME", ""),
		BaseDomain:         GetString("BASE_DOMAIN", "apps.codeb.dev"),
		PreviewDomain:      GetString("PREVIEW_DOMAIN", "preview.codeb.dev"),
		FleetAddress:       GetString("FLEET_ADDRESS", "127.0.0.1"),

		DNSAPIBase:  GetString("DNS_API_BASE", "https://api.dns.example/v4"),
		DNSAPIToken: GetString("DNS_API_TOKEN", ""),

		HealthPath:          GetString("HEALTH_PATH", "/health"),
		HealthInterval:      time.Duration(GetInt("HEALTH_INTERVAL_SECONDS", 2)) * time.Second,
		HealthTimeout:       time.Duration(GetInt("HEALTH_TIMEOUT_SECONDS", 5)) * time.Second,
		HealthMaxAttempts:   GetInt("HEALTH_MAX_ATTEMPTS", 30),
		HealthInitialDelay:  time.Duration(GetInt("HEALTH_INITIAL_DELAY_SECONDS", 5)) * time.Second,
		PromoteProbeTimeout: time.Duration(GetInt("PROMOTE_PROBE_TIMEOUT_SECONDS", 10)) * time.Second,

		LockRedisAddr: GetString("LOCK_REDIS_ADDR", ""),
		LockRedisPass: GetString("LOCK_REDIS_PASSWORD", ""),
		LockRedisDB:   GetInt("LOCK_REDIS_DB", 0),
		LockTTL:       time.Duration(GetInt("LOCK_TTL_SECONDS", 600)) * time.Second,

		RollbackAuditPath: GetString("ROLLBACK_AUDIT_PATH", "/var/lib/codeb/rollback-audit.log"),

		GraceWindow: time.Duration(GetInt("GRACE_WINDOW_HOURS", 48)) * time.Hour,
	}
}
