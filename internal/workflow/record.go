package workflow

import "time"

// Actor is the identity acting on a record, resolved by the identity provider.
type Actor struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// SubmitterRef is the stored reference to a record's author. Set once at
// submission, never overwritten.
type SubmitterRef struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
}

// TrailEntry is one immutable record in the approval trail. The trail is
// append-only; its length and order form the audit history.
type TrailEntry struct {
	Action Action    `json:"action"`
	Stage  Stage     `json:"stage"`
	ByUID  string    `json:"byUid"`
	ByName string    `json:"byName"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// ApprovalLetter is the reference attached by the asynchronous letter issuer.
// The core only stores the reference, it does not render documents.
type ApprovalLetter struct {
	RefNo       string    `json:"refNo"`
	StoragePath string    `json:"storagePath"`
	URL         string    `json:"url"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Postings references the side effects performed on final approval. Populated
// exactly once, atomically with the transition into APPROVED_FINAL.
type Postings struct {
	LedgerApplied        bool            `json:"ledgerApplied,omitempty"`
	InventoryMovementID  string          `json:"inventoryMovementId,omitempty"`
	FinanceTransactionID string          `json:"financeTransactionId,omitempty"`
	ApprovalLetter       *ApprovalLetter `json:"approvalLetter,omitempty"`
	PostedAt             time.Time       `json:"postedAt"`
}

// Request is the shape shared by Transactions, Job Cards and Variations.
// Concrete entities embed it; the coordinator mutates it through the
// Requestable interface.
type Request struct {
	Status        Status        `json:"status"`
	SubmittedBy   *SubmitterRef `json:"submittedBy,omitempty"`
	SubmittedAt   *time.Time    `json:"submittedAt,omitempty"`
	ApprovalTrail []TrailEntry  `json:"approvalTrail"`
	Postings      *Postings     `json:"postings,omitempty"`
}

// AppendTrail appends one entry to the approval trail. Entries are never
// mutated or reordered after append.
func (r *Request) AppendTrail(entry TrailEntry) {
	r.ApprovalTrail = append(r.ApprovalTrail, entry)
}

// MarkSubmitted moves the request into SUBMITTED and stamps the submitter
// if unset.
func (r *Request) MarkSubmitted(actor Actor, at time.Time) {
	r.Status = StatusSubmitted
	r.SubmittedAt = &at
	if r.SubmittedBy == nil {
		r.SubmittedBy = &SubmitterRef{UID: actor.UID, Name: actor.DisplayName}
	}
}

// Requestable is the minimal surface the generic coordinator needs from a
// concrete entity.
type Requestable interface {
	// RequestID returns the record's opaque identifier.
	RequestID() string
	// Req returns the embedded shared shape for inspection and mutation.
	Req() *Request
}
