package integration

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxStoredFailures caps the failures kept per result and per run
const MaxStoredFailures = 100

// Failure codes recorded by the reconciler and adapters
const (
	FailureCodeMappingFailed = "MAPPING_FAILED"
	FailureCodeUpsertFailed  = "UPSERT_FAILED"
	FailureCodeFetchFailed   = "FETCH_FAILED"
	FailureCodePushFailed    = "PUSH_FAILED"
	FailureCodeRejected      = "VENDOR_REJECTED"
)

// SyncFailure describes one record that could not be synchronized
type SyncFailure struct {
	ExternalID string `json:"external_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// SyncResult aggregates the outcome of syncing one record kind in one direction.
// Failures never abort the batch; they are counted and the rest continue.
type SyncResult struct {
	Kind       RecordKind    `json:"kind"`
	Direction  SyncDirection `json:"direction"`
	Status     SyncStatus    `json:"status"`
	Total      int           `json:"total"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Unchanged  int           `json:"unchanged"`
	Skipped    int           `json:"skipped"`
	Pushed     int           `json:"pushed"`
	Failed     int           `json:"failed"`
	Failures   []SyncFailure `json:"failures,omitempty"`
	Error      string        `json:"error,omitempty"`
	// Truncated is set when a page or row limit stopped the kind before the
	// source was exhausted
	Truncated  bool      `json:"truncated,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewSyncResult starts an empty result
func NewSyncResult(kind RecordKind, direction SyncDirection) *SyncResult {
	return &SyncResult{
		Kind:      kind,
		Direction: direction,
		Status:    SyncStatusPending,
		StartedAt: time.Now(),
	}
}

// RecordOutcome counts one successfully reconciled record
func (r *SyncResult) RecordOutcome(outcome UpsertOutcome) {
	r.Total++
	switch outcome {
	case UpsertCreated:
		r.Created++
	case UpsertUpdated:
		r.Updated++
	case UpsertUnchanged:
		r.Unchanged++
	case UpsertStale:
		r.Skipped++
	}
}

// RecordPushed counts records accepted by the vendor
func (r *SyncResult) RecordPushed(n int) {
	r.Total += n
	r.Pushed += n
}

// RecordFailure counts one failed record
func (r *SyncResult) RecordFailure(externalID, code, message string) {
	r.Total++
	r.Failed++
	if len(r.Failures) < MaxStoredFailures {
		r.Failures = append(r.Failures, SyncFailure{ExternalID: externalID, Code: code, Message: message})
	}
}

// AddFailedBatch counts n records that failed together, such as a rejected push chunk
func (r *SyncResult) AddFailedBatch(n int, code, message string) {
	if n <= 0 {
		return
	}
	r.Total += n
	r.Failed += n
	if len(r.Failures) < MaxStoredFailures {
		r.Failures = append(r.Failures, SyncFailure{Code: code, Message: message})
	}
}

// Abort records an error that stopped this kind early. Records processed
// before the error stay counted. When nothing has failed yet the interrupted
// batch counts as one failure under code, so an aborted kind never reports
// Failed == 0.
func (r *SyncResult) Abort(code string, err error) {
	msg := "sync aborted"
	if err != nil {
		msg = err.Error()
	}
	r.Error = msg
	if r.Failed == 0 {
		r.RecordFailure("", code, msg)
	}
}

// Complete reports whether the kind ran to the end of its source without an
// abort or a limit cutting it short
func (r *SyncResult) Complete() bool {
	return r.Error == "" && !r.Truncated
}

// Succeeded returns the number of records that did not fail
func (r *SyncResult) Succeeded() int {
	return r.Total - r.Failed
}

// Finalize computes the status: SUCCESS when nothing failed, PARTIAL when
// some records failed and some succeeded, FAILED otherwise.
func (r *SyncResult) Finalize() *SyncResult {
	r.FinishedAt = time.Now()
	r.Status = statusFor(r.Succeeded(), r.Failed, r.Error != "")
	return r
}

func statusFor(succeeded, failed int, aborted bool) SyncStatus {
	switch {
	case succeeded == 0 && (failed > 0 || aborted):
		return SyncStatusFailed
	case failed > 0 || aborted:
		return SyncStatusPartial
	default:
		return SyncStatusSuccess
	}
}

// MergeStatus computes a run status from its per-kind results by the same
// rule applied to the summed counts.
func MergeStatus(results []*SyncResult) SyncStatus {
	var succeeded, failed int
	aborted := false
	for _, r := range results {
		succeeded += r.Succeeded()
		failed += r.Failed
		if r.Error != "" {
			aborted = true
		}
	}
	return statusFor(succeeded, failed, aborted)
}

// ---------------------------------------------------------------------------
// SyncRun
// ---------------------------------------------------------------------------

// SyncRun is the persisted history entry for one sync of one integration
type SyncRun struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	IntegrationID   uuid.UUID
	IntegrationType IntegrationType
	Trigger         SyncTrigger
	Direction       SyncDirection
	Kinds           []RecordKind
	Status          SyncStatus
	Total           int
	Created         int
	Updated         int
	Unchanged       int
	Skipped         int
	Pushed          int
	Failed          int
	Results         []*SyncResult
	Failures        []SyncFailure
	Error           string
	StartedAt       time.Time
	FinishedAt      time.Time
}

// NewSyncRun starts a run for an integration
func NewSyncRun(i *Integration, trigger SyncTrigger, direction SyncDirection, kinds []RecordKind) *SyncRun {
	return &SyncRun{
		ID:              uuid.New(),
		TenantID:        i.TenantID,
		IntegrationID:   i.ID,
		IntegrationType: i.Type,
		Trigger:         trigger,
		Direction:       direction,
		Kinds:           kinds,
		Status:          SyncStatusPending,
		StartedAt:       time.Now(),
	}
}

// Complete folds the per-kind results into the run totals
func (r *SyncRun) Complete(results []*SyncResult) {
	r.Results = results
	r.Total, r.Created, r.Updated, r.Unchanged, r.Skipped, r.Pushed, r.Failed = 0, 0, 0, 0, 0, 0, 0
	r.Failures = nil
	var errs []string
	for _, res := range results {
		r.Total += res.Total
		r.Created += res.Created
		r.Updated += res.Updated
		r.Unchanged += res.Unchanged
		r.Skipped += res.Skipped
		r.Pushed += res.Pushed
		r.Failed += res.Failed
		for _, f := range res.Failures {
			if len(r.Failures) >= MaxStoredFailures {
				break
			}
			r.Failures = append(r.Failures, f)
		}
		if res.Error != "" {
			errs = append(errs, string(res.Kind)+": "+res.Error)
		}
	}
	if len(errs) > 0 && r.Error == "" {
		r.Error = strings.Join(errs, "; ")
	}
	r.Status = MergeStatus(results)
	if len(results) == 0 && r.Error != "" {
		r.Status = SyncStatusFailed
	}
	r.FinishedAt = time.Now()
}

// Fail marks the whole run as failed before any kind could run
func (r *SyncRun) Fail(err error) {
	r.Error = err.Error()
	r.Status = SyncStatusFailed
	r.FinishedAt = time.Now()
}

// Duration returns how long the run took
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
