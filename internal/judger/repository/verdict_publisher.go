package repository

import (
	"context"
	"encoding/json"
	"time"

	"judger/internal/common/mq"
	"judger/internal/judger/model"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/contextkey"
)

// DefaultVerdictTopic receives one event per finished solution.
const DefaultVerdictTopic = "judger.verdict.final"

// VerdictEvent is the payload published for a terminal verdict.
type VerdictEvent struct {
	SolutionID string         `json:"solutionId"`
	Solution   model.Solution `json:"solution"`
	TraceID    string         `json:"traceId,omitempty"`
	CreatedAt  int64          `json:"createdAt"`
}

// VerdictPublisher publishes terminal verdicts.
type VerdictPublisher interface {
	PublishFinal(ctx context.Context, id string, solution model.Solution) error
}

// MQVerdictPublisher publishes verdict events to a message queue.
type MQVerdictPublisher struct {
	producer mq.Producer
	topic    string
}

// NewMQVerdictPublisher creates a publisher for topic, or DefaultVerdictTopic
// when topic is empty.
func NewMQVerdictPublisher(producer mq.Producer, topic string) *MQVerdictPublisher {
	if topic == "" {
		topic = DefaultVerdictTopic
	}
	return &MQVerdictPublisher{producer: producer, topic: topic}
}

// PublishFinal publishes a final verdict event keyed by solution id.
func (p *MQVerdictPublisher) PublishFinal(ctx context.Context, id string, solution model.Solution) error {
	if p == nil || p.producer == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("verdict publisher is not configured")
	}
	if id == "" {
		return pkgerrors.ValidationError("solution_id", "required")
	}
	traceID, _ := ctx.Value(contextkey.TraceID).(string)
	event := VerdictEvent{
		SolutionID: id,
		Solution:   solution,
		TraceID:    traceID,
		CreatedAt:  time.Now().Unix(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.InternalServerError, "marshal verdict event failed: %v", err)
	}
	message := mq.NewMessage(id, payload)
	if traceID != "" {
		message.SetHeader("trace_id", traceID)
	}
	if err := p.producer.Publish(ctx, p.topic, message); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.ServiceUnavailable, "publish verdict event failed: %v", err)
	}
	return nil
}
