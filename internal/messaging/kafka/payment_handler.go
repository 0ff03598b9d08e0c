package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shopsaga/internal/domain"
	"github.com/vladislavdragonenkov/shopsaga/internal/service/events"
)

// PaymentProcessor проводит оплату заказа.
type PaymentProcessor interface {
	Process(ctx context.Context, orderID int64) (domain.PaymentStatus, error)
}

// NewPaymentHandler возвращает обработчик OrderCreated с намерением INITIATE_PAYMENT.
// Прочие события пропускаются. Повторная доставка уже оплаченного заказа не считается ошибкой.
func NewPaymentHandler(processor PaymentProcessor, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := ParseEnvelope(message)
		if err != nil {
			return err
		}
		if envelope.EventType != events.OrderCreated {
			return nil
		}

		var payload events.OrderCreatedPayload
		if err := envelope.DecodePayload(&payload); err != nil {
			return err
		}
		if payload.Intent != events.IntentInitiatePayment {
			return nil
		}
		if payload.OrderID <= 0 {
			return fmt.Errorf("order created event %q has no order id", envelope.ID)
		}

		status, err := processor.Process(ctx, payload.OrderID)
		switch {
		case errors.Is(err, domain.ErrPaymentStateInvalid), errors.Is(err, domain.ErrCompensationSkipped):
			logger.WithField("order_id", payload.OrderID).Debug("payment already handled, skipping")
			return nil
		case err != nil:
			return fmt.Errorf("process payment for order %d: %w", payload.OrderID, err)
		}

		logger.WithFields(log.Fields{
			"order_id": payload.OrderID,
			"status":   status,
		}).Info("payment processed from event")
		return nil
	}
}
