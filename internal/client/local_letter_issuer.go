package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// LocalLetterIssuer produces letter references without an external renderer.
// It is the default when no document service is configured; the storage path
// it reports is where the renderer would have written the PDF.
type LocalLetterIssuer struct {
	baseURL string
	now     func() time.Time
}

// NewLocalLetterIssuer creates a local issuer. baseURL prefixes the letter
// URLs, e.g. "https://files.example.com".
func NewLocalLetterIssuer(baseURL string) *LocalLetterIssuer {
	return &LocalLetterIssuer{baseURL: strings.TrimRight(baseURL, "/"), now: time.Now}
}

// IssueLetter implements LetterIssuer.
func (i *LocalLetterIssuer) IssueLetter(_ context.Context, kind, requestID string) (*workflow.ApprovalLetter, error) {
	now := i.now()
	suffix := strings.ToUpper(uuid.NewString()[:8])
	path := fmt.Sprintf("letters/%s/%s.pdf", kind, requestID)

	return &workflow.ApprovalLetter{
		RefNo:       fmt.Sprintf("APL-%s-%s", now.Format("20060102"), suffix),
		StoragePath: path,
		URL:         fmt.Sprintf("%s/%s", i.baseURL, path),
		GeneratedAt: now,
	}, nil
}
