// Package logging provides structured logging for finchat.
//
// Logger wraps Zap with context-aware methods. Every entry automatically
// carries the OpenTelemetry trace/span IDs plus the chat session, HTTP request
// and pipeline stage found on the context:
//
//	ctx = logging.WithSessionID(ctx, sess.ID())
//	ctx = logging.WithStage(ctx, "data")
//	logger.Info(ctx, "query executed", zap.Int("rows", n))
//
// Output goes to stderr so the interactive chat on stdout stays clean, and
// optionally to an OpenTelemetry log provider through the otelzap bridge.
//
// Credentials are scrubbed twice: keys such as "password" or "api_key" are
// replaced wholesale, and string values matching a connection-string or
// bearer-token pattern are masked. Use the Secret field constructor for
// config.Secret values.
package logging
