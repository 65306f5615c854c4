package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"video_archiver/internal/domain"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}, nil
}

// declareTopology declares a durable direct exchange with one durable queue
// bound on the routing key.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

type VideoMessage struct {
	Action    string       `json:"action"`
	RunID     string       `json:"run_id"`
	Video     VideoPayload `json:"video"`
	Timestamp time.Time    `json:"timestamp"`
}

type VideoPayload struct {
	AID          int64         `json:"aid"`
	BVID         string        `json:"bvid"`
	MID          int64         `json:"mid"`
	Title        string        `json:"title"`
	Description  *string       `json:"description,omitempty"`
	Pic          *string       `json:"pic,omitempty"`
	Created      *int64        `json:"created,omitempty"`
	Tags         []string      `json:"tags"`
	TouhouStatus int           `json:"touhou_status"`
	SeasonID     *int64        `json:"season_id,omitempty"`
	Parts        []PartPayload `json:"parts"`
}

type PartPayload struct {
	CID      int64  `json:"cid"`
	Page     int    `json:"page"`
	Part     string `json:"part"`
	Duration *int64 `json:"duration,omitempty"`
	CTime    *int64 `json:"ctime,omitempty"`
}

func NewVideoMessage(runID string, video *domain.Video, isNew bool, now time.Time) VideoMessage {
	action := ActionUpdate
	if isNew {
		action = ActionCreate
	}

	payload := VideoPayload{
		AID:          video.AID,
		BVID:         video.BVID,
		MID:          video.MID,
		Title:        video.Title,
		Description:  video.Description,
		Pic:          video.Pic,
		Created:      unixSeconds(video.Created),
		Tags:         video.Tags,
		TouhouStatus: int(video.TouhouStatus),
		SeasonID:     video.SeasonID,
		Parts:        make([]PartPayload, 0, len(video.Parts)),
	}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}

	for _, p := range video.Parts {
		part := PartPayload{
			CID:   p.CID,
			Page:  p.Page,
			Part:  p.Part,
			CTime: unixSeconds(p.CTime),
		}
		if p.Duration != nil {
			secs := int64(*p.Duration / time.Second)
			part.Duration = &secs
		}
		payload.Parts = append(payload.Parts, part)
	}

	return VideoMessage{
		Action:    action,
		RunID:     runID,
		Video:     payload,
		Timestamp: now.UTC(),
	}
}

func unixSeconds(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	sec := t.Unix()
	return &sec
}

// Publish announces a committed video. Consumers key on aid; the message
// id makes redeliveries within one run recognisable.
func (r *RabbitMQ) Publish(ctx context.Context, runID string, video *domain.Video, isNew bool) error {
	msg := NewVideoMessage(runID, video, isNew, time.Now())

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    fmt.Sprintf("%s:%d", runID, video.AID),
			Body:         body,
			Timestamp:    msg.Timestamp,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.Debug("published video",
		"aid", video.AID,
		"action", msg.Action,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
