package processor

import (
	"context"

	"assemblyline/internal/assembly"
	"assemblyline/internal/logging"
)

// cleanupInputs deletes the job's inputs that live in the temp bucket.
// Objects anywhere else are never touched. Failures are logged and ignored.
func (p *Processor) cleanupInputs(ctx context.Context, a *attempt) {
	if p.tempBucket == "" {
		return
	}
	for _, ref := range a.job.Inputs {
		if ref.Bucket != p.tempBucket {
			continue
		}
		if err := p.objects.Delete(ctx, ref.Bucket, ref.Key); err != nil {
			a.logger.Debug("temp input cleanup failed",
				logging.String(logging.FieldBucket, ref.Bucket),
				logging.String(logging.FieldKey, ref.Key),
				logging.Error(err),
			)
		}
	}
}

// notify delivers the template webhook with the final record. Delivery
// failures never change the stored status.
func (p *Processor) notify(ctx context.Context, a *attempt) {
	if a.template == nil || a.template.Webhook == nil || a.template.Webhook.URL == "" {
		return
	}
	hook := a.template.Webhook
	var payload any
	record, err := p.status.Get(ctx, a.job.AssemblyID)
	if err != nil {
		a.logger.Warn("could not load final record for webhook; sending job summary", logging.Error(err))
		payload = assembly.Assembly{ID: a.job.AssemblyID, TemplateID: a.job.TemplateID, Branch: a.job.Branch}
	} else {
		payload = record
	}

	res, err := p.notifier.Deliver(ctx, hook.URL, payload, hook.Secret, p.webhookRetries)
	if err != nil {
		logging.WarnWithContext(a.logger, "webhook delivery failed", "webhook_failed",
			logging.Error(err),
			logging.Int("attempts", res.Attempts),
			logging.Int("status_code", res.StatusCode),
			logging.String(logging.FieldImpact, "assembly status is unaffected"),
			logging.String(logging.FieldErrorHint, "check the template webhook endpoint"),
		)
		return
	}
	a.logger.Info("webhook delivered", logging.Int("attempts", res.Attempts), logging.Int("status_code", res.StatusCode))
}
