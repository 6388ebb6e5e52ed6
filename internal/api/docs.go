package api

// @title tradewatch API
// @version 1.0
// @description Monitoring and alerting for trading systems: host metrics, health checks, alerts, recovery and trade metrics.

// @contact.name Platform Operations

// @host localhost:8090
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @tag.name Status
// @tag.description Aggregate and per-component health

// @tag.name Metrics
// @tag.description Host metric samples and exports

// @tag.name Alerts
// @tag.description Alert table and resolution

// @tag.name Trade
// @tag.description Executions, positions and trade metrics

// @tag.name Thresholds
// @tag.description System, risk and performance thresholds

// @tag.name Recovery
// @tag.description Automatic recovery history

// @tag.name Audit
// @tag.description Audit trail of operator and system actions
