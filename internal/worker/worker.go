package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/events"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/store"
	"github.com/packpal/backend/pkg/mailer"
	"github.com/packpal/backend/pkg/queue"
)

// Jobs is the queue the processor drains.
type Jobs interface {
	Dequeue(ctx context.Context) (*queue.Job, string, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ArchiveWriter stores ended-event archives.
type ArchiveWriter interface {
	PutArchive(ctx context.Context, eventID uuid.UUID, body []byte) (string, error)
}

// Processor runs invite email and event archive jobs.
type Processor struct {
	store         store.Querier
	mail          mailer.Sender
	archives      ArchiveWriter
	jobs          Jobs
	inviteBaseURL string
	backoff       time.Duration
	logger        *zap.Logger
}

// NewProcessor creates a job processor. archives may be nil, in which case
// archive jobs fail and end up in the DLQ.
func NewProcessor(st store.Querier, mail mailer.Sender, archives ArchiveWriter, jobs Jobs, inviteBaseURL string, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:         st,
		mail:          mail,
		archives:      archives,
		jobs:          jobs,
		inviteBaseURL: inviteBaseURL,
		backoff:       queue.RetryBackoff,
		logger:        logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeInviteEmail:
		var payload queue.InviteEmailPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.sendInvite(ctx, payload)
	case queue.JobTypeEventArchive:
		var payload queue.EventArchivePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.archive(ctx, payload.EventID)
	}
	return fmt.Errorf("unknown job type: %s", job.Type)
}

func (p *Processor) sendInvite(ctx context.Context, payload queue.InviteEmailPayload) error {
	if _, err := p.store.GetMembership(ctx, payload.MembershipID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Info("invite email dropped, membership gone",
				zap.String("event_id", payload.EventID.String()),
				zap.String("membership_id", payload.MembershipID.String()),
			)
			return nil
		}
		return fmt.Errorf("get membership: %w", err)
	}

	msg, emailType, err := renderInvite(p.inviteBaseURL, payload)
	if err != nil {
		return fmt.Errorf("render invite: %w", err)
	}
	membershipID := payload.MembershipID
	entry := &models.EmailLog{
		EventID:        payload.EventID,
		MembershipID:   &membershipID,
		EmailType:      emailType,
		RecipientEmail: payload.RecipientEmail,
		Subject:        msg.Subject,
		Status:         models.EmailLogStatusPending,
	}
	if err := p.store.CreateEmailLog(ctx, entry); err != nil {
		return fmt.Errorf("create email log: %w", err)
	}

	sendErr := p.mail.Send(ctx, msg)
	if sendErr != nil {
		entry.Status = models.EmailLogStatusFailed
		entry.ErrorMessage = sendErr.Error()
	} else {
		now := time.Now().UTC()
		entry.Status = models.EmailLogStatusSent
		entry.SentAt = &now
	}
	if err := p.store.UpdateEmailLog(ctx, entry); err != nil {
		p.logger.Error("update email log failed", zap.String("email_log_id", entry.ID.String()), zap.Error(err))
	}
	if sendErr != nil {
		return fmt.Errorf("send invite: %w", sendErr)
	}
	p.logger.Info("invite email sent",
		zap.String("event_id", payload.EventID.String()),
		zap.String("membership_id", payload.MembershipID.String()),
	)
	return nil
}

func (p *Processor) archive(ctx context.Context, eventID uuid.UUID) error {
	if p.archives == nil {
		return fmt.Errorf("archive storage not configured")
	}
	snap, err := events.BuildArchive(ctx, p.store, eventID)
	if err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	key, err := p.archives.PutArchive(ctx, eventID, body)
	if err != nil {
		return fmt.Errorf("put archive: %w", err)
	}
	p.logger.Info("event archive completed", zap.String("event_id", eventID.String()), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, _, err := p.jobs.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
