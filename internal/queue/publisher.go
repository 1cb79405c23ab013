package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher — публикация уведомлений об обновлённых сущностях.
type Publisher interface {
	// PublishEntityUpdated отправляет уведомление в очередь sync.entity-updated.
	PublishEntityUpdated(ctx context.Context, ev EntityUpdatedEvent) error
}

// Dispatcher — fan-out задач асинхронной реконсиляции.
type Dispatcher interface {
	// DispatchTask отправляет задачу в очередь sync.tasks.
	DispatchTask(ctx context.Context, task ReconcileTask) error
}

// NopPublisher — заглушка при отключённом брокере (SM_AMQP_URL пуст).
type NopPublisher struct{}

func (NopPublisher) PublishEntityUpdated(context.Context, EntityUpdatedEvent) error { return nil }

// NopDispatcher — заглушка fan-out'а при отключённом брокере.
type NopDispatcher struct{}

func (NopDispatcher) DispatchTask(context.Context, ReconcileTask) error { return nil }

// AMQPClient — подключение к AMQP-брокеру. Реализует Publisher и Dispatcher.
// Канал защищён мьютексом: amqp091 не допускает конкурентной публикации
// в один канал.
type AMQPClient struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPClient подключается к брокеру и объявляет durable-очереди.
func NewAMQPClient(url string, logger *slog.Logger) (*AMQPClient, error) {
	c := &AMQPClient{
		url:    url,
		logger: logger.With(slog.String("component", "queue")),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// connect устанавливает соединение и объявляет очереди. Вызывается
// под мьютексом либо из конструктора.
func (c *AMQPClient) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("подключение к AMQP-брокеру: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("открытие канала AMQP: %w", err)
	}

	for _, name := range []string{TasksQueue, EntityUpdatedQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("объявление очереди %s: %w", name, err)
		}
	}

	c.conn = conn
	c.ch = ch
	c.logger.Info("Подключение к AMQP-брокеру установлено")
	return nil
}

// publish сериализует payload и отправляет его в очередь.
// При закрытом канале выполняется одна попытка переподключения.
func (c *AMQPClient) publish(ctx context.Context, queueName string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("сериализация сообщения: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil || c.ch.IsClosed() {
		if err := c.connect(); err != nil {
			return err
		}
	}

	err = c.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("публикация в очередь %s: %w", queueName, err)
	}
	return nil
}

// PublishEntityUpdated отправляет уведомление об обновлённой сущности.
func (c *AMQPClient) PublishEntityUpdated(ctx context.Context, ev EntityUpdatedEvent) error {
	return c.publish(ctx, EntityUpdatedQueue, ev)
}

// DispatchTask отправляет задачу реконсиляции.
func (c *AMQPClient) DispatchTask(ctx context.Context, task ReconcileTask) error {
	return c.publish(ctx, TasksQueue, task)
}

// Close закрывает канал и соединение с брокером.
func (c *AMQPClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.logger.Info("Подключение к AMQP-брокеру закрыто")
}
