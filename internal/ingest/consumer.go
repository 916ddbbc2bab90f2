package ingest

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/gmsas95/vitalwatch/internal/errors"
	"github.com/gmsas95/vitalwatch/internal/metrics"
	"github.com/gmsas95/vitalwatch/internal/vitals"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	reconnectDelay = 5 * time.Second
	reInitDelay    = 2 * time.Second
	consumerTag    = "vitalwatch-ingest"
)

// Recorder stores one sample for a user
type Recorder interface {
	Record(ctx context.Context, userID string, sample vitals.VitalSigns) (*vitals.RecordResult, error)
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Options configures a Consumer
type Options struct {
	URL           string
	Queue         string
	Prefetch      int
	DefaultUserID string // used when a reading carries no userId
	Recorder      Recorder
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// Consumer reads monitor readings from a RabbitMQ queue and records them. It
// reconnects on connection loss and re-opens the channel on channel loss.
type Consumer struct {
	opts   Options
	logger *zap.Logger

	conn            *amqp.Connection
	channel         *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
}

// NewConsumer validates opts; it does not connect
func NewConsumer(opts Options) (*Consumer, error) {
	if opts.URL == "" {
		return nil, apperrors.Because(apperrors.ErrConfigInvalid, "amqp url is required")
	}
	if opts.Queue == "" {
		return nil, apperrors.Because(apperrors.ErrConfigInvalid, "amqp queue is required")
	}
	if opts.Recorder == nil {
		return nil, errors.New("ingest: recorder is required")
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Consumer{opts: opts, logger: opts.Logger.Named("ingest")}, nil
}

// Run consumes until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	defer c.close()

	for {
		c.logger.Info("Connecting to broker", zap.String("queue", c.opts.Queue))

		conn, err := amqp.Dial(c.opts.URL)
		if err != nil {
			c.logger.Warn("Failed to connect, retrying",
				zap.Error(err),
				zap.Duration("delay", reconnectDelay),
			)
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		c.changeConnection(conn)

		if done := c.handleReInit(ctx, conn); done {
			return nil
		}
	}
}

// handleReInit keeps a channel open on conn. It returns true when ctx is done
// and false when the connection was lost.
func (c *Consumer) handleReInit(ctx context.Context, conn *amqp.Connection) bool {
	for {
		deliveries, err := c.init(conn)
		if err != nil {
			c.logger.Warn("Failed to initialize channel", zap.Error(err))
			select {
			case <-time.After(reInitDelay):
				continue
			case <-c.notifyConnClose:
				c.logger.Info("Connection closed, reconnecting")
				return false
			case <-ctx.Done():
				return true
			}
		}

		c.logger.Info("Consuming readings", zap.String("queue", c.opts.Queue))
		if done, reconnect := c.consume(ctx, deliveries); done || reconnect {
			return done
		}
		c.logger.Info("Channel closed, re-initializing")
	}
}

func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) (done, reconnect bool) {
	for {
		select {
		case <-ctx.Done():
			return true, false
		case <-c.notifyConnClose:
			c.logger.Info("Connection closed, reconnecting")
			return false, true
		case <-c.notifyChanClose:
			return false, false
		case d, ok := <-deliveries:
			if !ok {
				return false, false
			}
			c.handle(ctx, d.Body, d)
		}
	}
}

// init opens a channel, declares the queue and starts consuming
func (c *Consumer) init(conn *amqp.Connection) (<-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		c.opts.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(
		c.opts.Queue,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, err
	}

	c.changeChannel(ch)
	return deliveries, nil
}

func (c *Consumer) changeConnection(conn *amqp.Connection) {
	c.conn = conn
	c.notifyConnClose = make(chan *amqp.Error, 1)
	c.conn.NotifyClose(c.notifyConnClose)
}

func (c *Consumer) changeChannel(ch *amqp.Channel) {
	c.channel = ch
	c.notifyChanClose = make(chan *amqp.Error, 1)
	c.channel.NotifyClose(c.notifyChanClose)
}

func (c *Consumer) close() {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Error closing channel", zap.Error(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Warn("Error closing connection", zap.Error(err))
		}
	}
}

// handle records one delivery. Unusable deliveries are dropped without
// requeue so a poison message cannot loop.
func (c *Consumer) handle(ctx context.Context, body []byte, ack acknowledger) {
	reading, err := Decode(body)
	if err != nil {
		c.reject(ack, err)
		return
	}

	userID := reading.UserID
	if userID == "" {
		userID = c.opts.DefaultUserID
	}

	res, err := c.opts.Recorder.Record(ctx, userID, reading.Vitals())
	if err != nil {
		c.reject(ack, err)
		return
	}

	if err := ack.Ack(false); err != nil {
		c.logger.Warn("Failed to ack delivery", zap.Error(err))
	}
	c.opts.Metrics.RecordIngest(true)
	c.logger.Debug("Reading recorded",
		zap.String("vitals_id", res.Vitals.ID),
		zap.Int("alerts", len(res.Alerts)),
	)
}

func (c *Consumer) reject(ack acknowledger, cause error) {
	c.opts.Metrics.RecordIngest(false)
	c.logger.Warn("Rejecting reading", zap.Error(cause))
	if err := ack.Nack(false, false); err != nil {
		c.logger.Warn("Failed to nack delivery", zap.Error(err))
	}
}
