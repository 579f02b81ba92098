// Package config carga la configuración del servicio una sola vez al arranque.
// YAML como base, variables de entorno como override, validación fail-fast:
// ningún componente vuelve a leer os.Getenv después de Load.
package config

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config es la configuración inmutable del proceso.
// Se construye con Load() y se pasa por referencia; nunca se muta.
type Config struct {
	App struct {
		// dev | staging | prod
		Env      string `yaml:"env"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		// DSN de Postgres (pgxpool). Requerido salvo driver=memory (dev).
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxOpenConns    int    `yaml:"max_open_conns"`
			MaxIdleConns    int    `yaml:"max_idle_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		// memory | redis — backend del state store de OAuth.
		Kind  string `yaml:"kind"`
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	// Meli agrupa las credenciales de la app de Mercado Livre y los
	// parámetros del ciclo de vida de tokens.
	Meli struct {
		ClientID     string `yaml:"client_id" validate:"required"`
		ClientSecret string `yaml:"client_secret" validate:"required"`
		RedirectURI  string `yaml:"redirect_uri" validate:"required,url"`
		// Margen de seguridad antes de expiry para refrescar (default 60s).
		RefreshMargin time.Duration `yaml:"refresh_margin"`
		// TTL del state de OAuth (default 10m).
		StateTTL time.Duration `yaml:"state_ttl"`
		// Timeout de llamadas salientes a ML (default 10s).
		HTTPTimeout time.Duration `yaml:"http_timeout"`
	} `yaml:"meli"`

	// Security agrupa secretos del proceso.
	Security struct {
		// EncryptionKey cifra tokens at-rest. Debe decodificar a 32 bytes
		// (base64, hex o raw). Se valida en Load, no en el primer uso.
		EncryptionKey string `yaml:"encryption_key" validate:"required"`
		// SessionSecret firma los session tokens HS256 del dashboard.
		SessionSecret string `yaml:"session_secret" validate:"required,min=32"`
	} `yaml:"security"`

	Rate struct {
		Enabled bool `yaml:"enabled"`
		OAuth   struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"oauth"`
		Proxy struct {
			Limit  int    `yaml:"limit"`
			Window string `yaml:"window"`
		} `yaml:"proxy"`
	} `yaml:"rate"`
}

// EncryptionKeyBytes decodifica la clave de cifrado (base64 std/raw, hex o
// raw de 32 bytes). Load ya garantizó que decodifica bien.
func (c *Config) EncryptionKeyBytes() []byte {
	b, _ := decodeKey(c.Security.EncryptionKey)
	return b
}

func decodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == 32 {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == 32 {
		return b, nil
	}
	if len(key) == 64 {
		if b, err := hex.DecodeString(key); err == nil {
			return b, nil
		}
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("encryption key must decode to 32 bytes")
}

// Load lee el YAML, aplica defaults y overrides de entorno, y valida.
// Falla rápido: un proceso con config incompleta no debe arrancar.
func Load(path string) (*Config, error) {
	var c Config

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "postgres"
	}
	if c.Storage.Postgres.MaxOpenConns == 0 {
		c.Storage.Postgres.MaxOpenConns = 10
	}
	if c.Storage.Postgres.MaxIdleConns == 0 {
		c.Storage.Postgres.MaxIdleConns = 2
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "10m"
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "mercaflow:"
	}
	if c.Meli.RefreshMargin == 0 {
		c.Meli.RefreshMargin = 60 * time.Second
	}
	if c.Meli.StateTTL == 0 {
		c.Meli.StateTTL = 10 * time.Minute
	}
	if c.Meli.HTTPTimeout == 0 {
		c.Meli.HTTPTimeout = 10 * time.Second
	}
	if c.Rate.OAuth.Limit == 0 {
		c.Rate.OAuth.Limit = 10
	}
	if c.Rate.OAuth.Window == "" {
		c.Rate.OAuth.Window = "1m"
	}
	if c.Rate.Proxy.Limit == 0 {
		c.Rate.Proxy.Limit = 120
	}
	if c.Rate.Proxy.Window == "" {
		c.Rate.Proxy.Window = "1m"
	}

	c.applyEnvOverrides()

	// validar duraciones en string
	for _, s := range []string{
		c.Storage.Postgres.ConnMaxLifetime,
		c.Cache.Memory.DefaultTTL,
		c.Rate.OAuth.Window,
		c.Rate.Proxy.Window,
	} {
		if s != "" {
			if _, err := time.ParseDuration(s); err != nil {
				return nil, fmt.Errorf("config: invalid duration %q: %w", s, err)
			}
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate aplica las reglas declarativas y las que validator no expresa.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := decodeKey(c.Security.EncryptionKey); err != nil {
		return fmt.Errorf("config: ENCRYPTION_KEY: %w", err)
	}
	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("config: storage.dsn is required for driver=postgres")
		}
	case "memory":
		// dev only, sin DSN
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Cache.Kind {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Cache.Redis.Addr) == "" {
			return fmt.Errorf("config: cache.redis.addr is required for kind=redis")
		}
	default:
		return fmt.Errorf("config: unknown cache kind %q", c.Cache.Kind)
	}
	return nil
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides pisa el YAML con variables de entorno.
// Los secretos (ML_CLIENT_SECRET, ENCRYPTION_KEY) normalmente solo viven acá.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.App.LogLevel = v
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("ML_CLIENT_ID"); ok {
		c.Meli.ClientID = v
	}
	if v, ok := getEnvStr("ML_CLIENT_SECRET"); ok {
		c.Meli.ClientSecret = v
	}
	if v, ok := getEnvStr("ML_REDIRECT_URI"); ok {
		c.Meli.RedirectURI = v
	}
	if v, ok := getEnvStr("ENCRYPTION_KEY"); ok {
		c.Security.EncryptionKey = v
	}
	if v, ok := getEnvStr("SESSION_SECRET"); ok {
		c.Security.SessionSecret = v
	}
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
}
