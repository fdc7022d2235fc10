package client

import (
	"context"

	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// LetterIssuer is implemented by the document renderer that produces approval
// letters for finally-approved records. The renderer works asynchronously off
// the letter_requested event and reports back the stored reference; this
// service only persists that reference on postings.approvalLetter.
type LetterIssuer interface {
	// IssueLetter renders an approval letter for a record and returns the
	// reference to attach.
	IssueLetter(ctx context.Context, kind, requestID string) (*workflow.ApprovalLetter, error)
}
