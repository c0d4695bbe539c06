package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/observability"
	"github.com/shoptalk/go-gateway-backend/internal/repo"
)

// DeadLetterer receives events that exhausted their persistence retries.
// The AMQP publisher implements it in production; a no-op stands in when no
// broker is configured.
type DeadLetterer interface {
	Publish(ctx context.Context, ev domain.InboundEvent, reason string) error
}

// Notifier fans lifecycle events out to a shop's real-time subscribers.
type Notifier interface {
	Notify(shopID string, ev domain.LifecycleEvent)
}

// StoreOptions tunes the ConversationStore's retry policy.
type StoreOptions struct {
	// MaxRetries is the number of additional attempts after the first failed
	// write before the event is dead-lettered.
	MaxRetries int
	// RetryBackoff is the pause between attempts, doubled each time.
	RetryBackoff time.Duration
}

func (o *StoreOptions) defaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 200 * time.Millisecond
	}
}

// ConversationStore applies normalized inbound events to the relational
// model. All mutations for one event happen inside a single transaction, so a
// crash mid-ingest never leaves a message without its conversation or an
// unread counter without its message.
type ConversationStore struct {
	db    *gorm.DB
	dead  DeadLetterer
	note  Notifier
	opts  StoreOptions
	log   zerolog.Logger
	clock func() time.Time
}

// NewConversationStore wires the store over its dependencies. notifier and
// dead may be nil; nil collaborators are skipped.
func NewConversationStore(db *gorm.DB, dead DeadLetterer, note Notifier, opts StoreOptions, log zerolog.Logger) *ConversationStore {
	opts.defaults()
	return &ConversationStore{
		db:    db,
		dead:  dead,
		note:  note,
		opts:  opts,
		log:   log.With().Str("component", "conversation_store").Logger(),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// IngestResult reports what one Ingest call changed.
type IngestResult struct {
	Customer     *domain.Customer
	Conversation *domain.Conversation
	Message      *domain.Message
	// Duplicate is true when the event's external message id was already
	// ingested; no rows were written.
	Duplicate bool
}

// Ingest applies one normalized event. Message and postback events upsert the
// customer and conversation, insert the message if its external id is new,
// and bump the unread counter for customer-originated messages. Receipt
// events delegate to ApplyReceipt.
//
// A persistence failure is retried with doubling pauses; once retries are
// exhausted the event is dead-lettered and ErrPersistenceFailure is returned.
// Duplicate redelivery is not an error: the call succeeds with
// Duplicate=true and no side effects.
func (s *ConversationStore) Ingest(ctx context.Context, ev domain.InboundEvent) (*IngestResult, error) {
	switch ev.Kind {
	case domain.EventDeliveryReceipt:
		return nil, s.withRetry(ctx, ev, func() error {
			return s.ApplyReceipt(ctx, ev, domain.StatusDelivered)
		})
	case domain.EventReadReceipt:
		return nil, s.withRetry(ctx, ev, func() error {
			return s.ApplyReceipt(ctx, ev, domain.StatusRead)
		})
	case domain.EventSubscription:
		// Subscription state changes carry no conversation payload; the
		// webhook handler applies them to the channel registry before routing.
		s.log.Info().Str("shop_id", ev.ShopID).Str("channel_id", ev.ChannelID).Msg("subscription event acknowledged")
		return &IngestResult{}, nil
	}

	var res *IngestResult
	err := s.withRetry(ctx, ev, func() error {
		var ierr error
		res, ierr = s.ingestOnce(ctx, ev)
		return ierr
	})
	if err != nil {
		return nil, err
	}

	if res.Duplicate {
		observability.EventsDuplicate.WithLabelValues(string(ev.ProviderType)).Inc()
	} else if res.Message != nil {
		observability.EventsIngested.WithLabelValues(string(ev.ProviderType), string(ev.Kind)).Inc()
	}

	if res.Message != nil && !res.Duplicate && s.note != nil {
		s.note.Notify(ev.ShopID, domain.LifecycleEvent{
			Type:   domain.LifecycleMessageReceived,
			ShopID: ev.ShopID,
			At:     s.clock(),
			Payload: map[string]any{
				"conversation_id": res.Conversation.ID,
				"message_id":      res.Message.ID,
				"from_customer":   res.Message.IsFromCustomer,
			},
		})
	}
	return res, nil
}

// withRetry runs op under the store's retry policy: transient persistence
// failures pause with a doubling backoff, and once retries are exhausted the
// event is dead-lettered and ErrPersistenceFailure is returned. Receipts and
// message ingests share this path; the providers redeliver both.
func (s *ConversationStore) withRetry(ctx context.Context, ev domain.InboundEvent, op func() error) error {
	pause := s.opts.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if attempt >= s.opts.MaxRetries {
			s.log.Error().Err(err).
				Str("shop_id", ev.ShopID).
				Str("external_message_id", ev.ExternalMessageID).
				Int("attempts", attempt+1).
				Msg("ingest retries exhausted, dead-lettering event")
			observability.EventsDeadLettered.WithLabelValues(string(ev.ProviderType)).Inc()
			if s.dead != nil {
				if derr := s.dead.Publish(ctx, ev, err.Error()); derr != nil {
					s.log.Error().Err(derr).Msg("dead-letter publish failed")
				}
			}
			return errors.Join(ErrPersistenceFailure, err)
		}
		s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("ingest attempt failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
		pause *= 2
	}
}

func (s *ConversationStore) ingestOnce(ctx context.Context, ev domain.InboundEvent) (*IngestResult, error) {
	res := &IngestResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cust, err := repo.UpsertCustomer(ctx, tx, ev.ShopID, ev.PeerExternalID, ev.PeerDisplayName, ev.PeerAvatarURL)
		if err != nil {
			return err
		}
		res.Customer = cust

		occurred := ev.OccurredAt
		if occurred.IsZero() {
			occurred = s.clock()
		}
		conv, err := repo.UpsertConversation(ctx, tx, ev.ShopID, ev.ProviderType, ev.PeerExternalID, cust.ID, occurred)
		if err != nil {
			return err
		}
		res.Conversation = conv

		content := ev.Content
		if ev.Kind == domain.EventPostback && content == "" {
			content = ev.RawPayload
		}
		msg, err := repo.InsertMessageIfAbsent(ctx, tx, repo.NewMessageParams{
			ConversationID: conv.ID,
			ExternalID:     ev.ExternalMessageID,
			Content:        content,
			MediaKind:      ev.MediaKind,
			MediaURL:       ev.MediaURL,
			IsFromCustomer: ev.FromCustomer,
			Status:         domain.StatusSent,
			OccurredAt:     occurred,
			RawPayload:     ev.RawPayload,
		})
		if err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				res.Message = msg
				res.Duplicate = true
				return nil
			}
			return err
		}
		res.Message = msg

		if ev.FromCustomer {
			if err := repo.IncrementUnread(ctx, tx, conv.ID); err != nil {
				return err
			}
			conv.UnreadCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyReceipt advances a previously sent message's delivery status. Statuses
// only move forward: a delivered receipt arriving after a read receipt is
// ignored. Receipts for messages the gateway never stored are logged and
// dropped; providers replay receipts for pruned history and that must not
// poison the ingest path.
func (s *ConversationStore) ApplyReceipt(ctx context.Context, ev domain.InboundEvent, status domain.MessageStatus) error {
	if ev.ExternalMessageID == "" {
		s.log.Debug().Str("shop_id", ev.ShopID).Msg("receipt without message id ignored")
		return nil
	}
	msg, err := repo.FindMessageByExternalID(ctx, s.db, ev.ShopID, ev.ProviderType, ev.ExternalMessageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.log.Debug().
				Str("shop_id", ev.ShopID).
				Str("external_message_id", ev.ExternalMessageID).
				Msg("receipt for unknown message ignored")
			return nil
		}
		return err
	}
	return repo.UpdateMessageStatus(ctx, s.db, msg.ID, status)
}

// MarkRead zeroes a conversation's unread counter and marks its
// customer-originated messages read. Scoped to the shop so a dashboard cannot
// clear another tenant's counters.
func (s *ConversationStore) MarkRead(ctx context.Context, shopID, conversationID string) error {
	conv, err := repo.GetConversation(ctx, s.db, conversationID, shopID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	return repo.ResetUnread(ctx, s.db, conv.ID)
}

// RecordOutbound persists a message the shop just sent through the transport.
// The provider-assigned id, when known, is stored so later receipts can be
// matched; the send path is the writer here, not the echo event, which will
// dedupe against this row.
func (s *ConversationStore) RecordOutbound(ctx context.Context, shopID string, provider domain.ProviderType, peerExternalID, externalMessageID, content string) (*IngestResult, error) {
	return s.Ingest(ctx, domain.InboundEvent{
		ShopID:            shopID,
		ProviderType:      provider,
		PeerExternalID:    peerExternalID,
		Kind:              domain.EventMessage,
		ExternalMessageID: externalMessageID,
		Content:           content,
		FromCustomer:      false,
		OccurredAt:        s.clock(),
	})
}
