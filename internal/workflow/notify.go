package workflow

import (
	"context"
	"errors"
	"strings"

	"archivist/internal/jobs"
	"archivist/internal/logging"
	"archivist/internal/notifications"
)

// send delivers msg and logs a failure. Notifications never fail a run.
func (e *Engine) send(ctx context.Context, msg notifications.Message, what string) {
	if err := e.notifier.Send(ctx, msg); err != nil {
		logger := logging.WithContext(ctx, e.logger)
		if errors.Is(err, context.Canceled) {
			logger.Debug("run cancelled, notification not sent", logging.String("notification", what))
			return
		}
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("notification", what),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notification settings with archivist test-notify"),
			logging.String(logging.FieldImpact, "recipients were not told about this event"),
		)
	}
}

// notifyResult mails the job record as it will look once t is persisted.
// adminOnly leaves the requester off the recipient list.
func (e *Engine) notifyResult(ctx context.Context, job *jobs.Job, t Transition, adminOnly bool) {
	result := string(t.To)
	if t.From == jobs.StateDeclined {
		result = string(jobs.StateDeclined)
	}
	snapshot := *job
	snapshot.Info.Status = t.To
	record, err := jobs.Encode(&snapshot)
	if err != nil {
		e.jobLogger(ctx, job).Debug("job record not attached", logging.Error(err))
		record = nil
	}
	msg := notifications.JobResult(&snapshot, result, record, e.cfg.Notifications.AdminEmails)
	if adminOnly {
		msg.To = notifications.Recipients(e.cfg.Notifications.AdminEmails, "")
	}
	e.send(logging.WithJobID(ctx, job.ID), msg, "job_"+strings.ToLower(result))
}

// alert reports a fault needing an operator. It is logged, added to report
// when one is given, and sent to the administrators.
func (e *Engine) alert(ctx context.Context, report *RunReport, title, detail string) {
	logging.WarnWithContext(logging.WithContext(ctx, e.logger), title, "admin_alert",
		logging.Alert(title),
		logging.String("detail", detail),
		logging.String(logging.FieldImpact, "operator attention required"),
	)
	if report != nil {
		report.Alerts = append(report.Alerts, title+": "+detail)
	}
	e.send(ctx, notifications.AdminAlert(title, detail, e.cfg.Notifications.AdminEmails), "alert")
}
