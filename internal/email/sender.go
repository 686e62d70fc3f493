package email

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Sender entrega un mensaje a un destino (email o telefono). Es el unico punto de
// contacto con proveedores externos.
type Sender interface {
	Send(ctx context.Context, destination, subject, body string) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) Send(_ context.Context, _, _, _ string) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

// LogSender escribe el mensaje en el log en lugar de entregarlo. Sirve para desarrollo
// y para el canal de telefono mientras no haya proveedor SMS.
type LogSender struct {
	logger  *zap.Logger
	channel string
}

func NewLogSender(logger *zap.Logger, channel string) *LogSender {
	return &LogSender{logger: logger, channel: channel}
}

func (s *LogSender) Send(_ context.Context, destination, subject, body string) error {
	s.logger.Info("message not delivered, logged instead",
		zap.String("channel", s.channel),
		zap.String("to", destination),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
