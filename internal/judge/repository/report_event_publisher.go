package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"judgerunner/internal/common/mq"
	"judgerunner/internal/judge/model"
	appErr "judgerunner/pkg/errors"
)

// ReportPublisher receives finished session reports.
type ReportPublisher interface {
	PublishReport(ctx context.Context, event model.ReportEvent) error
}

// MQReportPublisher publishes report events to a message queue.
type MQReportPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQReportPublisher creates a new MQ report publisher.
func NewMQReportPublisher(producer mq.Producer, topic string) *MQReportPublisher {
	return &MQReportPublisher{producer: producer, topic: topic}
}

// PublishReport publishes a report event keyed by session id.
func (p *MQReportPublisher) PublishReport(ctx context.Context, event model.ReportEvent) error {
	if p == nil || p.producer == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("report publisher is not configured")
	}
	if p.topic == "" {
		return appErr.New(appErr.InvalidParams).WithMessage("report topic is required")
	}
	if event.SessionID == "" {
		return appErr.ValidationError("session_id", "required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal report event failed: %w", err)
	}
	message := mq.NewMessage(event.SessionID, payload)
	message.SetHeader("language", event.Language)
	message.SetHeader("state", event.State)
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return appErr.Wrapf(err, appErr.ServiceUnavailable, "publish report event failed")
	}
	return nil
}

// Fanout hands each event to every publisher and joins their errors.
type Fanout []ReportPublisher

// PublishReport implements ReportPublisher.
func (f Fanout) PublishReport(ctx context.Context, event model.ReportEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishReport(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
