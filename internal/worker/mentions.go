package worker

import (
	"context"
	"encoding/json"

	"github.com/polyvox/notify-engine/internal/intake"
	"github.com/polyvox/notify-engine/internal/kafka"
	"github.com/polyvox/notify-engine/internal/model"
	"go.uber.org/zap"
)

// MentionsConsumer feeds the intake service from the mentions topic. It is
// the asynchronous twin of the HTTP intake route: same body, same policy.
type MentionsConsumer struct {
	Consumer *kafka.Consumer
	Intake   *intake.Service
	Log      *zap.Logger

	Workers int // goroutines processing envelopes
}

func NewMentionsConsumer(consumer *kafka.Consumer, svc *intake.Service, log *zap.Logger) *MentionsConsumer {
	return &MentionsConsumer{
		Consumer: consumer,
		Intake:   svc,
		Log:      log,
		Workers:  8,
	}
}

// Run starts the consumer and blocks until ctx is cancelled.
func (w *MentionsConsumer) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 8
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.Log.Warn("mentions: kafka fetch", zap.Error(err))
					continue
				}
				msgCh <- m
			}
		}
	}()

	for i := 0; i < w.Workers; i++ {
		go w.runProcessor(ctx, msgCh)
	}

	<-ctx.Done()
	return nil
}

func (w *MentionsConsumer) runProcessor(ctx context.Context, in <-chan kafka.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			w.processOne(ctx, m)
		}
	}
}

func (w *MentionsConsumer) processOne(ctx context.Context, m kafka.Message) {
	var env model.MentionEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.EntityID == "" {
		// poison message: commit and skip
		_ = w.Consumer.Commit(ctx, m)
		if err != nil {
			w.Log.Warn("mentions: bad envelope json", zap.Error(err))
		} else {
			w.Log.Warn("mentions: envelope missing entityId")
		}
		return
	}

	res, err := w.Intake.Record(ctx, intake.MentionRequest{
		EntityID:     env.EntityID,
		ContentType:  env.ContentType,
		ContentID:    env.ContentID,
		ContentURL:   env.ContentURL,
		ContentTitle: env.ContentTitle,
		Intent:       env.Intent,
		CreatedBy:    env.CreatedBy,
	})
	if err != nil {
		// Recording failed; leave the message uncommitted so it is retried.
		w.Log.Error("mentions: record failed",
			zap.String("entity_id", env.EntityID), zap.Error(err))
		return
	}

	w.Log.Debug("mentions: recorded",
		zap.String("entity_id", env.EntityID),
		zap.Bool("notified", res.Notified))

	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Warn("mentions: commit", zap.Error(err))
	}
}
