// Package kafka consumes notify requests from a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/mndd/notifier/internal/notifications"
)

const (
	handleTimeout     = 30 * time.Second
	consumeBackoff    = time.Second
	maxConsumeBackoff = 30 * time.Second
)

// RequestHandler delivers one notify request.
type RequestHandler interface {
	Handle(ctx context.Context, req notifications.Request) (notifications.RunSummary, error)
}

// Config selects the brokers, topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer consumes notify requests from Kafka
type Consumer struct {
	config        Config
	handler       RequestHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	backoff       time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg Config, handler RequestHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		backoff:       consumeBackoff,
	}, nil
}

// Start begins consuming and returns once the first session is set up.
func (c *Consumer) Start() error {
	c.logger.Info("Starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := make(chan bool)
	c.wg.Add(1)
	go c.consumeLoop(ready)

	select {
	case <-ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("Kafka consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// consumeLoop runs consumer group sessions until the consumer stops. A
// session ends on every rebalance; a failed one is retried with backoff.
func (c *Consumer) consumeLoop(ready chan bool) {
	defer c.wg.Done()
	backoff := c.backoff

	for {
		handler := &consumerGroupHandler{consumer: c, ready: ready}
		err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) || c.ctx.Err() != nil {
			return
		}

		// Setup closed ready; the next session needs its own.
		setUp := false
		select {
		case <-ready:
			setUp = true
			ready = make(chan bool)
		default:
		}

		if setUp {
			backoff = c.backoff
			if err == nil {
				continue
			}
		}
		if err == nil {
			err = errors.New("session ended before setup")
		}
		c.logger.Error("Kafka consume error, retrying", "error", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxConsumeBackoff)
		case <-c.ctx.Done():
			return
		}
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim handles messages one at a time. Offsets are marked after
// handling; a redelivered request is deduplicated by its id.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.handleMessage(session.Context(), message.Value,
				"offset", message.Offset, "partition", message.Partition)
			session.MarkMessage(message, "")
		}
	}
}

// handleMessage decodes and delivers one payload. Bad payloads are logged
// and dropped.
func (c *Consumer) handleMessage(ctx context.Context, value []byte, attrs ...any) {
	var req notifications.Request
	if err := json.Unmarshal(value, &req); err != nil {
		c.logger.Warn("Failed to decode notify request", append(attrs, "error", err)...)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	sum, err := c.handler.Handle(ctx, req)
	if err != nil {
		c.logger.Warn("Rejected notify request", append(attrs, "request_id", req.ID, "error", err)...)
		return
	}
	c.logger.Debug("Handled notify request", "request_id", req.ID, "summary", sum.Summary())
}
