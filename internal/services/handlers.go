package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/retailops/stocksync/internal/consignment"
	"github.com/retailops/stocksync/internal/db/models"
	"github.com/retailops/stocksync/internal/syncer"
	"github.com/retailops/stocksync/internal/vend"
	"github.com/retailops/stocksync/internal/worker"
)

// RegisterJobHandlers binds every job type to its handler. Registration
// order sets the claim priority: inbound notifications are drained before
// pushes so the local view stays current.
func RegisterJobHandlers(d *worker.Daemon, engine *syncer.Engine, consignments *ConsignmentService, webhooks *WebhookService) {
	d.Register(models.JobTypeWebhookProcess, webhookHandler(webhooks))
	d.Register(models.JobTypeStateTransition, transitionHandler(consignments))
	d.Register(models.JobTypeSyncPush, pushHandler(engine))
	d.Register(models.JobTypeSyncPull, pullHandler(engine))
}

func webhookHandler(webhooks *WebhookService) worker.Handler {
	return func(ctx context.Context, job *models.Job) error {
		var payload WebhookProcessPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.EventID == "" {
			return worker.Terminal(fmt.Errorf("malformed webhook job payload: %s", job.Payload))
		}
		err := webhooks.Process(ctx, payload.EventID)
		if err != nil && (errors.Is(err, ErrNoConsignmentRef) || !vend.IsRetryable(err)) {
			return worker.Terminal(err)
		}
		return err
	}
}

func transitionHandler(consignments *ConsignmentService) worker.Handler {
	return func(ctx context.Context, job *models.Job) error {
		var payload StateTransitionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ConsignmentID == 0 {
			return worker.Terminal(fmt.Errorf("malformed transition job payload: %s", job.Payload))
		}
		event, err := consignment.ParseEvent(payload.Event)
		if err != nil {
			return worker.Terminal(err)
		}
		_, err = consignments.Transition(ctx, payload.ConsignmentID, event)
		if errors.Is(err, consignment.ErrInvalidTransition) {
			// The consignment moved on since the job was enqueued.
			return worker.Terminal(err)
		}
		return err
	}
}

func pushHandler(engine *syncer.Engine) worker.Handler {
	return func(ctx context.Context, job *models.Job) error {
		// The payload names the consignment that triggered the push, but
		// one pass drains the whole dirty set: coalescing makes a burst
		// of transitions cost one sweep instead of one push per job.
		_, err := engine.Push(ctx, false)
		return err
	}
}

func pullHandler(engine *syncer.Engine) worker.Handler {
	return func(ctx context.Context, job *models.Job) error {
		var payload SyncPullPayload
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return worker.Terminal(fmt.Errorf("malformed pull job payload: %s", job.Payload))
			}
		}
		if _, err := engine.Pull(ctx, payload.Force, false); err != nil {
			return err
		}
		_, err := engine.Project(ctx, false)
		return err
	}
}
