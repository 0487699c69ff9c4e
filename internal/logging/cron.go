package logging

import "github.com/rs/zerolog"

// CronLogger adapts zerolog to the robfig/cron Logger interface.
type CronLogger struct {
	logger zerolog.Logger
}

// NewCronLogger returns a cron logger writing through the global logger.
func NewCronLogger() CronLogger {
	return CronLogger{logger: Component("cron")}
}

// Info logs routine scheduler messages at debug level; cron is chatty.
func (c CronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

// Error logs scheduler failures.
func (c CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
