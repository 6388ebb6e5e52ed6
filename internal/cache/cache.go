package cache

// DefaultPrefix namespaces every key written by the cache
const DefaultPrefix = "tradewatch"

// Key names under the prefix
const (
	KeySnapshot     = "metrics:latest"
	KeyStatus       = "health:status"
	KeyComponents   = "health:components"
	KeyActiveAlerts = "alerts:active"
)
