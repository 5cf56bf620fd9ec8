package notifications

import (
	"context"

	"go.uber.org/zap"
)

// LogMailPublisher records mails instead of delivering them. Used in local
// development when no mail topic is configured.
type LogMailPublisher struct {
	logger *zap.Logger
}

// NewLogMailPublisher constructs a logging mail publisher.
func NewLogMailPublisher(logger *zap.Logger) *LogMailPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailPublisher{logger: logger}
}

// PublishMail logs the rendered message and reports the dispatch ID back as
// the message ID.
func (p *LogMailPublisher) PublishMail(_ context.Context, message Message) (string, error) {
	p.logger.Info("mail dispatch (log only)",
		zap.String("kind", string(message.Kind)),
		zap.String("to", message.To),
		zap.String("subject", message.Subject),
		zap.String("order_id", message.OrderID),
		zap.String("dispatch_id", message.DispatchID),
	)
	return message.DispatchID, nil
}
