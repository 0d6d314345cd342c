package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"yt-comment-keeper/internal/domain"
	"yt-comment-keeper/internal/infra/metrics"
)

// RabbitCaptureQueue реализует очередь событий захвата поверх AMQP.
type RabbitCaptureQueue struct {
	conn      *amqp.Connection
	ch        *amqp.Channel
	queue     string
	deliverCh <-chan amqp.Delivery
}

// NewRabbitCaptureQueue подключается к брокеру и объявляет очередь.
func NewRabbitCaptureQueue(amqpURL, queue string) (*RabbitCaptureQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("подключение к rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("объявление очереди: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("настройка qos: %w", err)
	}
	return &RabbitCaptureQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitCaptureQueue) Enqueue(ctx context.Context, job domain.CaptureJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("сериализация задачи: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("публикация задачи: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу. Подтверждение откладывается до ack:
// при success=false сообщение возвращается в очередь.
func (q *RabbitCaptureQueue) Receive(ctx context.Context) (domain.CaptureJob, domain.CaptureAckFunc, error) {
	if q.deliverCh == nil {
		deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.CaptureJob{}, nil, fmt.Errorf("подписка на очередь: %w", err)
		}
		q.deliverCh = deliveries
	}
	for {
		select {
		case <-ctx.Done():
			return domain.CaptureJob{}, nil, ctx.Err()
		case delivery, ok := <-q.deliverCh:
			if !ok {
				return domain.CaptureJob{}, nil, errors.New("канал доставки закрыт")
			}
			var job domain.CaptureJob
			if err := json.Unmarshal(delivery.Body, &job); err != nil {
				// Нечитаемое сообщение не вернётся валидным, отбрасываем.
				_ = delivery.Nack(false, false)
				return domain.CaptureJob{}, nil, fmt.Errorf("декодирование задачи: %w", err)
			}
			ack := func(success bool) error {
				if success {
					return delivery.Ack(false)
				}
				return delivery.Nack(false, true)
			}
			return job, ack, nil
		}
	}
}

// Close закрывает канал и соединение.
func (q *RabbitCaptureQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
