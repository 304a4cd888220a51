package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phbpx/leadboard"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys of the published events.
const (
	LeadCreated    = "lead.created"
	StageChanged   = "lead.stage_changed"
	CommentAdded   = "lead.comment_added"
	CommentEdited  = "lead.comment_edited"
	CommentDeleted = "lead.comment_deleted"
)

// Event is the message body of every lead event.
type Event struct {
	Type       string          `json:"type"`
	LeadID     string          `json:"leadId"`
	Stage      leadboard.Stage `json:"stage"`
	Lead       leadboard.Lead  `json:"lead"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Publisher is the part of *amqp.Channel the service needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// LeadService publishes an event after every successful change made by the
// wrapped service. A failed publish is logged and does not fail the change,
// which is already stored.
type LeadService struct {
	leadboard.LeadService
	pub      Publisher
	exchange string
	log      *zap.SugaredLogger
}

func NewLeadService(next leadboard.LeadService, pub Publisher, exchange string, log *zap.SugaredLogger) leadboard.LeadService {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &LeadService{
		LeadService: next,
		pub:         pub,
		exchange:    exchange,
		log:         log,
	}
}

func (ls *LeadService) Create(ctx context.Context, newLead leadboard.NewLead) (leadboard.Lead, error) {
	return ls.publish(ctx, LeadCreated)(ls.LeadService.Create(ctx, newLead))
}

func (ls *LeadService) TransitionStage(ctx context.Context, id string, stage leadboard.Stage) (leadboard.Lead, error) {
	return ls.publish(ctx, StageChanged)(ls.LeadService.TransitionStage(ctx, id, stage))
}

func (ls *LeadService) AddComment(ctx context.Context, id string, text string) (leadboard.Lead, error) {
	return ls.publish(ctx, CommentAdded)(ls.LeadService.AddComment(ctx, id, text))
}

func (ls *LeadService) EditComment(ctx context.Context, id string, index int, text string) (leadboard.Lead, error) {
	return ls.publish(ctx, CommentEdited)(ls.LeadService.EditComment(ctx, id, index, text))
}

func (ls *LeadService) DeleteComment(ctx context.Context, id string, index int) (leadboard.Lead, error) {
	return ls.publish(ctx, CommentDeleted)(ls.LeadService.DeleteComment(ctx, id, index))
}

func (ls *LeadService) EditCommentByID(ctx context.Context, id string, commentID string, text string) (leadboard.Lead, error) {
	return ls.publish(ctx, CommentEdited)(ls.LeadService.EditCommentByID(ctx, id, commentID, text))
}

func (ls *LeadService) DeleteCommentByID(ctx context.Context, id string, commentID string) (leadboard.Lead, error) {
	return ls.publish(ctx, CommentDeleted)(ls.LeadService.DeleteCommentByID(ctx, id, commentID))
}

// publish returns a pass-through for the wrapped call's results that emits
// the event when the call succeeded.
func (ls *LeadService) publish(ctx context.Context, key string) func(leadboard.Lead, error) (leadboard.Lead, error) {
	return func(lead leadboard.Lead, err error) (leadboard.Lead, error) {
		if err != nil {
			return lead, err
		}

		ev := Event{
			Type:       key,
			LeadID:     lead.ID,
			Stage:      lead.Stage(),
			Lead:       lead,
			OccurredAt: lead.LastModified,
		}
		body, merr := json.Marshal(ev)
		if merr != nil {
			ls.log.Errorw("publish", "event", key, "lead", lead.ID, "error", merr.Error())
			return lead, nil
		}

		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    ev.OccurredAt,
			Type:         key,
			Body:         body,
		}
		if perr := ls.pub.PublishWithContext(ctx, ls.exchange, key, false, false, msg); perr != nil {
			ls.log.Errorw("publish", "event", key, "lead", lead.ID, "error", perr.Error())
		}
		return lead, nil
	}
}
