package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TaskExecutor выполняет задачу реконсиляции. Реализуется сервисным слоем.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, task ReconcileTask) error
}

// Consumer — фоновый потребитель очереди sync.tasks.
// Держит reconnect-цикл с экспоненциальным backoff; некорректное
// сообщение отклоняется без повторной доставки (Nack requeue=false),
// чтобы не зациклить обработку.
type Consumer struct {
	url      string
	executor TaskExecutor
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer создаёт потребителя задач реконсиляции.
func NewConsumer(url string, executor TaskExecutor, logger *slog.Logger) *Consumer {
	return &Consumer{
		url:      url,
		executor: executor,
		logger:   logger.With(slog.String("component", "task_consumer")),
	}
}

// Start запускает фоновую горутину потребления задач.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		c.logger.Info("Потребитель задач реконсиляции запущен",
			slog.String("queue", TasksQueue),
		)

		backoff := time.Second
		for {
			if ctx.Err() != nil {
				c.logger.Info("Потребитель задач реконсиляции остановлен")
				return
			}

			conn, err := amqp.Dial(c.url)
			if err != nil {
				c.logger.Warn("Ошибка подключения к AMQP-брокеру",
					slog.String("error", err.Error()),
					slog.String("retry_in", backoff.String()),
				)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second

			if err := c.consumeLoop(ctx, conn); err != nil {
				c.logger.Warn("Цикл потребления прерван",
					slog.String("error", err.Error()),
				)
			}
			conn.Close()
		}
	}()
}

// Stop останавливает потребителя и ждёт завершения горутины.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		<-c.done
	}
}

// consumeLoop потребляет задачи до закрытия канала доставки или отмены ctx.
func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("открытие канала AMQP: %w", err)
	}
	defer ch.Close()

	// Задачи тяжёлые (каждая ходит в БД), держим небольшой prefetch.
	if err := ch.Qos(10, 0, false); err != nil {
		c.logger.Warn("Ошибка установки QoS", slog.String("error", err.Error()))
	}

	if _, err := ch.QueueDeclare(TasksQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("объявление очереди %s: %w", TasksQueue, err)
	}

	msgs, err := ch.Consume(TasksQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("подписка на очередь %s: %w", TasksQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("канал доставки закрыт")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.logger.Warn("Ошибка выполнения задачи реконсиляции",
					slog.String("error", err.Error()),
				)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handle десериализует и выполняет одну задачу.
func (c *Consumer) handle(ctx context.Context, body []byte) error {
	var task ReconcileTask
	if err := json.Unmarshal(body, &task); err != nil {
		return fmt.Errorf("десериализация задачи: %w", err)
	}
	return c.executor.ExecuteTask(ctx, task)
}
