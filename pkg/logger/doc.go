// Package logger builds *slog.Logger values with functional options and
// provides attribute helpers for the billing domain.
//
// New wraps the JSON or text handler in LogHandlerDecorator, which pulls
// attributes out of the context on every Handle call. Attributes attached with
// ContextWith are always picked up:
//
//	log := logger.New(logger.WithEnvironment("production", "paygate"))
//	ctx = logger.ContextWith(ctx, logger.EventID(evt.ID), logger.EventType(evt.Type))
//	log.InfoContext(ctx, "webhook processed") // carries event_id and event_type
package logger
