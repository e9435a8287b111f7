package cart

import (
	log "github.com/sirupsen/logrus"
)

// Notifier показывает пользователю неблокирующие уведомления (toast).
type Notifier interface {
	Success(message string)
	Error(message string)
	Info(message string)
}

// LogNotifier пишет уведомления в лог. Используется на сервере, где UI нет.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier поверх logrus.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Success(message string) {
	n.logger.WithField("kind", "success").Info(message)
}

func (n *LogNotifier) Error(message string) {
	n.logger.WithField("kind", "error").Warn(message)
}

func (n *LogNotifier) Info(message string) {
	n.logger.WithField("kind", "info").Info(message)
}

// NopNotifier глушит уведомления.
type NopNotifier struct{}

func (NopNotifier) Success(string) {}
func (NopNotifier) Error(string) {}
func (NopNotifier) Info(string) {}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = NopNotifier{}
)
