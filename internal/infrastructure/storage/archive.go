package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/supplychain/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// ArchiveContentType is set on every archived page
const ArchiveContentType = "application/zstd"

// ArchiveKey is the object key of one fetched page:
// sync/{tenant}/{integration}/{run}/{kind}-{page}.json.zst
func ArchiveKey(tenantID, integrationID, runID uuid.UUID, kind integration.RecordKind, page int) string {
	return fmt.Sprintf("sync/%s/%s/%s/%s-%d.json.zst",
		tenantID, integrationID, runID, strings.ToLower(string(kind)), page)
}

// PayloadArchive stores raw vendor pages zstd-compressed for replay and audit.
type PayloadArchive struct {
	store  ObjectStore
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *zap.Logger
}

// ArchiveOption configures PayloadArchive
type ArchiveOption func(*archiveOptions)

type archiveOptions struct {
	level  zstd.EncoderLevel
	logger *zap.Logger
}

// WithCompressionLevel sets the zstd encoder level
func WithCompressionLevel(level zstd.EncoderLevel) ArchiveOption {
	return func(o *archiveOptions) {
		o.level = level
	}
}

// WithArchiveLogger sets the logger
func WithArchiveLogger(logger *zap.Logger) ArchiveOption {
	return func(o *archiveOptions) {
		o.logger = logger
	}
}

// NewPayloadArchive wraps store. Close releases the codec.
func NewPayloadArchive(store ObjectStore, opts ...ArchiveOption) (*PayloadArchive, error) {
	o := archiveOptions{level: zstd.SpeedDefault, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(o.level))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &PayloadArchive{store: store, enc: enc, dec: dec, logger: o.logger}, nil
}

// Archive compresses the page as JSON and uploads it, returning the key.
func (a *PayloadArchive) Archive(
	ctx context.Context,
	tenantID, integrationID, runID uuid.UUID,
	kind integration.RecordKind,
	page int,
	records []integration.ExternalRecord,
) (string, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode page: %w", err)
	}
	key := ArchiveKey(tenantID, integrationID, runID, kind, page)
	compressed := a.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))

	if err := a.store.Upload(ctx, key, compressed, ArchiveContentType); err != nil {
		return "", err
	}
	a.logger.Debug("Archived sync page",
		zap.String("key", key),
		zap.Int("records", len(records)),
		zap.Int("raw_bytes", len(raw)),
		zap.Int("stored_bytes", len(compressed)),
	)
	return key, nil
}

// Read loads and decompresses an archived page
func (a *PayloadArchive) Read(ctx context.Context, key string) ([]integration.ExternalRecord, error) {
	compressed, err := a.store.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	raw, err := a.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", key, err)
	}
	var records []integration.ExternalRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return records, nil
}

// Close releases the encoder and decoder
func (a *PayloadArchive) Close() error {
	a.dec.Close()
	return a.enc.Close()
}
