package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/scrypt"
)

// DefaultEnvPrefix is prepended to every key looked up by EnvManager
const DefaultEnvPrefix = "TRADEWATCH_"

// EnvManager manages environment variable configuration
type EnvManager struct {
	encryptionKey []byte
	prefix        string
}

// NewEnvManager creates a new environment variable manager. Values of the
// form "ENC:<base64>" are decrypted with a key derived from encryptionKey.
func NewEnvManager(encryptionKey string, prefix string) *EnvManager {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	if encryptionKey == "" {
		encryptionKey = os.Getenv(prefix + "ENCRYPTION_KEY")
	}

	key, _ := scrypt.Key([]byte(encryptionKey), []byte("tradewatch-salt"), 32768, 8, 1, 32)

	return &EnvManager{
		encryptionKey: key,
		prefix:        prefix,
	}
}

// Lookup returns the raw value of prefix+KEY and whether it was set
func (em *EnvManager) Lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(em.prefix + strings.ToUpper(key))
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// GetString gets a string environment variable
func (em *EnvManager) GetString(key string, defaultValue string) string {
	if value, ok := em.Lookup(key); ok {
		return value
	}
	return defaultValue
}

// GetInt gets an integer environment variable
func (em *EnvManager) GetInt(key string, defaultValue int) int {
	if value, ok := em.Lookup(key); ok {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetFloat gets a float environment variable
func (em *EnvManager) GetFloat(key string, defaultValue float64) float64 {
	if value, ok := em.Lookup(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// GetBool gets a boolean environment variable
func (em *EnvManager) GetBool(key string, defaultValue bool) bool {
	if value, ok := em.Lookup(key); ok {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration gets a duration environment variable. Bare integers are seconds.
func (em *EnvManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	value, ok := em.Lookup(key)
	if !ok {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

// GetSecret gets a possibly encrypted string environment variable
func (em *EnvManager) GetSecret(key string, defaultValue string) string {
	value, ok := em.Lookup(key)
	if !ok {
		return defaultValue
	}
	if !strings.HasPrefix(value, "ENC:") {
		return value
	}

	decrypted, err := em.decrypt(strings.TrimPrefix(value, "ENC:"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to decrypt %s: %v\n", key, err)
		return defaultValue
	}
	return decrypted
}

// Encrypt returns the "ENC:" form of plaintext for use in .env files
func (em *EnvManager) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(em.encryptionKey)
	if err != nil {
		return "", err
	}

	ciphertext := make([]byte, aes.BlockSize+len(plaintext))
	iv := ciphertext[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	stream := cipher.NewCFBEncrypter(block, iv)
	stream.XORKeyStream(ciphertext[aes.BlockSize:], []byte(plaintext))

	return "ENC:" + base64.URLEncoding.EncodeToString(ciphertext), nil
}

func (em *EnvManager) decrypt(encryptedText string) (string, error) {
	ciphertext, err := base64.URLEncoding.DecodeString(encryptedText)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(em.encryptionKey)
	if err != nil {
		return "", err
	}
	if len(ciphertext) < aes.BlockSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	iv := ciphertext[:aes.BlockSize]
	ciphertext = ciphertext[aes.BlockSize:]

	stream := cipher.NewCFBDecrypter(block, iv)
	stream.XORKeyStream(ciphertext, ciphertext)

	return string(ciphertext), nil
}

// Apply overrides config fields from the environment
func (em *EnvManager) Apply(c *Config) {
	c.App.Environment = em.GetString("ENV", c.App.Environment)

	c.Monitor.CheckInterval = em.GetDuration("CHECK_INTERVAL", c.Monitor.CheckInterval)
	c.Monitor.MetricsInterval = em.GetDuration("METRICS_INTERVAL", c.Monitor.MetricsInterval)
	c.Monitor.TradeInterval = em.GetDuration("TRADE_INTERVAL", c.Monitor.TradeInterval)
	c.Monitor.MetricsRetentionDays = em.GetInt("METRICS_RETENTION_DAYS", c.Monitor.MetricsRetentionDays)
	c.Monitor.AlertRetentionDays = em.GetInt("ALERT_RETENTION_DAYS", c.Monitor.AlertRetentionDays)

	c.Trade.AccountEquity = em.GetFloat("ACCOUNT_EQUITY", c.Trade.AccountEquity)

	c.Server.Enabled = em.GetBool("SERVER_ENABLED", c.Server.Enabled)
	c.Server.Port = em.GetInt("SERVER_PORT", c.Server.Port)
	c.Server.Host = em.GetString("SERVER_HOST", c.Server.Host)

	c.JWT.Enabled = em.GetBool("JWT_ENABLED", c.JWT.Enabled)
	c.JWT.SecretKey = em.GetSecret("JWT_SECRET_KEY", c.JWT.SecretKey)

	c.Database.Enabled = em.GetBool("DATABASE_ENABLED", c.Database.Enabled)
	c.Database.Host = em.GetString("DATABASE_HOST", c.Database.Host)
	c.Database.Port = em.GetInt("DATABASE_PORT", c.Database.Port)
	c.Database.User = em.GetString("DATABASE_USER", c.Database.User)
	c.Database.Password = em.GetSecret("DATABASE_PASSWORD", c.Database.Password)
	c.Database.DBName = em.GetString("DATABASE_NAME", c.Database.DBName)
	c.Database.SSLMode = em.GetString("DATABASE_SSLMODE", c.Database.SSLMode)

	c.Redis.Enabled = em.GetBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.Addr = em.GetString("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = em.GetSecret("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = em.GetInt("REDIS_DB", c.Redis.DB)
	c.Redis.ExecutionsChannel = em.GetString("REDIS_EXECUTIONS_CHANNEL", c.Redis.ExecutionsChannel)

	c.Notification.RedisChannel = em.GetString("NOTIFY_REDIS_CHANNEL", c.Notification.RedisChannel)
	if hooks := em.GetString("NOTIFY_WEBHOOKS", ""); hooks != "" {
		c.Notification.Webhooks = splitList(hooks)
	}

	c.Export.Region = em.GetString("EXPORT_REGION", c.Export.Region)
	c.Export.Dir = em.GetString("EXPORT_DIR", c.Export.Dir)

	if level := em.GetString("LOG_LEVEL", ""); level != "" {
		c.Logging.Level = loggerLevel(level)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
