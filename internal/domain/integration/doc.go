// Package integration contains the Integration bounded context.
// It manages connectors to external enterprise systems (SAP, Power BI,
// IoT platforms, Shopify) and the synchronization of domain records
// between those systems and the internal store.
//
// Key concepts:
//   - Integration: aggregate holding one connector's configuration and connection state
//   - Adapter: port implemented once per integration type (connect, fetch, push)
//   - MappingSet: declarative vendor-to-internal field mapping
//   - SyncedRecord: reconciled internal copy of a vendor record, upserted idempotently
//   - SyncResult / SyncRun: per-kind outcome counts and the persisted run history
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
