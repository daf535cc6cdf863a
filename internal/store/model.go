package store

import (
	"time"

	"github.com/google/uuid"
)

// ClaimStatus is the lifecycle state of a database record.
type ClaimStatus string

const (
	// ClaimStatusUnclaimed is the initial state: the database is ephemeral
	// and will be swept once it expires.
	ClaimStatusUnclaimed ClaimStatus = "UNCLAIMED"
	// ClaimStatusClaiming marks an in-flight ownership transfer.
	ClaimStatusClaiming ClaimStatus = "CLAIMING"
	// ClaimStatusClaimed is terminal: the database now lives in the
	// claimer's own account.
	ClaimStatusClaimed ClaimStatus = "CLAIMED"
)

// Valid reports whether s is one of the known claim statuses.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimStatusUnclaimed, ClaimStatusClaiming, ClaimStatusClaimed:
		return true
	}
	return false
}

// Record represents a row in the databases table.
type Record struct {
	ID                 uuid.UUID
	ConnectionString   string
	ProjectID          string
	ClaimedProjectID   *string
	CreationDurationMs int
	CreatedAt          time.Time
	ClaimStatus        ClaimStatus
	ClaimURL           *string
	ClaimError         *string
}

// StatusFields holds fields updated alongside a claim status transition.
// Nil fields are not touched.
type StatusFields struct {
	ConnectionString *string
	ClaimedProjectID *string
	ClaimError       *string
	ClearClaimError  bool
}

// ListFilter holds optional filters and pagination for listing records.
type ListFilter struct {
	Status *ClaimStatus
	Page   int // default 1
	Limit  int // default 20
}

// ListResult holds the result of a paginated list query.
type ListResult struct {
	Records []Record
	Total   int
	Page    int
	Limit   int
}
