// Package integration orchestrates connectors: lifecycle, sync runs and
// reconciliation of vendor records into the synced record store.
package integration

import (
	"context"

	"github.com/google/uuid"

	"github.com/supplychain/backend/internal/domain/integration"
)

// CredentialCipher seals credentials at rest
type CredentialCipher interface {
	Seal(creds integration.Credentials) (string, error)
	Open(sealed string) (integration.Credentials, error)
}

// PayloadArchive keeps the raw vendor pages of inbound syncs
type PayloadArchive interface {
	Archive(ctx context.Context, tenantID, integrationID, runID uuid.UUID, kind integration.RecordKind, page int, records []integration.ExternalRecord) (string, error)
}

// SyncMetrics records run and connection metrics
type SyncMetrics interface {
	RecordRun(ctx context.Context, run *integration.SyncRun)
	ConnectionChanged(ctx context.Context, t integration.IntegrationType, delta int64)
}

type nopMetrics struct{}

func (nopMetrics) RecordRun(context.Context, *integration.SyncRun) {}
func (nopMetrics) ConnectionChanged(context.Context, integration.IntegrationType, int64) {}
