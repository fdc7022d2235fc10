package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/techcesstechnology/stanchion-approvals/internal/apperr"
	"github.com/techcesstechnology/stanchion-approvals/internal/workflow"
)

// requestColumns marshals the embedded request shape for storage. The trail
// is always stored, submitter and postings only once set.
func requestColumns(req *workflow.Request) (submittedBy, trail, postings []byte, err error) {
	submittedBy, err = marshalJSONB(req.SubmittedBy, "submitter")
	if err != nil {
		return nil, nil, nil, err
	}
	entries := req.ApprovalTrail
	if entries == nil {
		entries = []workflow.TrailEntry{}
	}
	trail, err = marshalJSONB(entries, "approval trail")
	if err != nil {
		return nil, nil, nil, err
	}
	postings, err = marshalJSONB(req.Postings, "postings")
	if err != nil {
		return nil, nil, nil, err
	}
	return submittedBy, trail, postings, nil
}

// scanRequestColumns unmarshals the stored request shape.
func scanRequestColumns(req *workflow.Request, submittedBy, trail, postings []byte) error {
	if err := unmarshalJSONB(submittedBy, &req.SubmittedBy, "submitter"); err != nil {
		return err
	}
	if err := unmarshalJSONB(trail, &req.ApprovalTrail, "approval trail"); err != nil {
		return err
	}
	return unmarshalJSONB(postings, &req.Postings, "postings")
}

// commitConflict resolves a zero-row version-guarded update: a row that still
// exists lost the token check (CONFLICT, coordinator retries), a missing row
// is NOT_FOUND.
func commitConflict(ctx context.Context, tx pgx.Tx, table, kind, id string) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := tx.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to check record existence")
	}
	if !exists {
		return apperr.NotFound(kind, id)
	}
	return apperr.Newf(apperr.CodeConflict, "%s %q was modified concurrently", kind, id)
}

// limitOffsetClause appends LIMIT/OFFSET args and returns the SQL fragment.
func limitOffsetClause(argCount, limit, offset int, args *[]any) string {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	*args = append(*args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
}
