// Package observability provides structured logging and metrics for the
// answer engine.
//
// Loggers are zap-based; request ids assigned by the HTTP middleware are
// attached to log lines through ContextFields. Metrics are exported in the
// Prometheus format.
package observability
