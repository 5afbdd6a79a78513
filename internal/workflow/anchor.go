package workflow

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/certverify/internal/activity"
	"github.com/edvin/certverify/internal/ledger"
	"github.com/edvin/certverify/internal/model"
)

const (
	// DrainInterval is how long an outbox row must sit untouched before the
	// drain re-drives it.
	DrainInterval = 5 * time.Minute
	drainBatch    = 100
)

// AnchorCertificateWorkflow anchors one certificate's proof in the ledger
// and records the outcome on its outbox row.
func AnchorCertificateWorkflow(ctx workflow.Context, certificateID string) error {
	ctx = workflow.WithActivityOptions(ctx, outboxActivityOptions())

	var task model.AnchorTask
	err := workflow.ExecuteActivity(ctx, "GetAnchorTask", certificateID).Get(ctx, &task)
	if err != nil {
		return err
	}
	if !model.AnchorStatusDrainable(task.Status) {
		return nil
	}

	ledgerCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    time.Minute,
			BackoffCoefficient: 2.0,
		},
	})

	var receipt ledger.Receipt
	err = workflow.ExecuteActivity(ledgerCtx, "AnchorProof", task).Get(ctx, &receipt)
	if err != nil {
		workflow.GetLogger(ctx).Error("anchoring failed", "certificateID", certificateID, "error", err)
		_ = markAnchorFailed(ctx, certificateID, err)
		return err
	}

	return workflow.ExecuteActivity(ctx, "MarkAnchored", activity.MarkAnchoredParams{
		CertificateID: certificateID,
		Receipt:       receipt.String(),
	}).Get(ctx, nil)
}

// DrainAnchorOutboxWorkflow is a cron workflow that re-drives outbox rows
// whose anchoring never started or failed transiently. Each row runs as a child
// AnchorCertificateWorkflow under the certificate's own workflow id.
func DrainAnchorOutboxWorkflow(ctx workflow.Context) error {
	ctx = workflow.WithActivityOptions(ctx, outboxActivityOptions())
	logger := workflow.GetLogger(ctx)

	var ids []string
	err := workflow.ExecuteActivity(ctx, "ListPendingAnchors", activity.ListPendingAnchorsParams{
		OlderThan: DrainInterval,
		Limit:     drainBatch,
	}).Get(ctx, &ids)
	if err != nil {
		return err
	}
	logger.Info("draining anchor outbox", "count", len(ids))

	futures := make([]workflow.ChildWorkflowFuture, len(ids))
	for i, id := range ids {
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: model.AnchorWorkflowID(id),
		})
		futures[i] = workflow.ExecuteChildWorkflow(childCtx, AnchorCertificateWorkflow, id)
	}

	failed := 0
	for i, f := range futures {
		if err := f.Get(ctx, nil); err != nil {
			// Keep draining the rest; the row stays pending or failed.
			logger.Error("failed to anchor certificate", "certificateID", ids[i], "error", err)
			failed++
		}
	}
	if failed > 0 {
		logger.Warn("anchor outbox drain finished with failures", "failed", failed, "total", len(ids))
	}
	return nil
}

func outboxActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    1 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
		},
	}
}

// markAnchorFailed records err on the outbox row. A ledger rejection takes
// the row out of the drain for good. Callers ignore its error since the
// anchoring error is the one that matters.
func markAnchorFailed(ctx workflow.Context, certificateID string, err error) error {
	var appErr *temporal.ApplicationError
	rejected := errors.As(err, &appErr) && appErr.Type() == activity.ErrTypeLedgerRejected
	return workflow.ExecuteActivity(ctx, "MarkAnchorFailed", activity.MarkAnchorFailedParams{
		CertificateID: certificateID,
		Message:       err.Error(),
		Rejected:      rejected,
	}).Get(ctx, nil)
}
