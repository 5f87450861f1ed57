package notification

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/kyc"
	"github.com/supplychain/backend/internal/domain/notification"
	"github.com/supplychain/backend/internal/domain/shared"
)

// EventNotifier turns integration and KYC events into notifications.
// Wrap it in an idempotent handler so a redelivered event is not notified twice.
type EventNotifier struct {
	service *Service
	printer *message.Printer
	logger  *zap.Logger
}

// NewEventNotifier creates an EventNotifier
func NewEventNotifier(service *Service, logger *zap.Logger) *EventNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventNotifier{
		service: service,
		printer: message.NewPrinter(language.English),
		logger:  logger,
	}
}

// EventTypes returns the events that produce notifications
func (h *EventNotifier) EventTypes() []string {
	return []string{
		integration.EventTypeIntegrationSyncCompleted,
		integration.EventTypeIntegrationSyncFailed,
		integration.EventTypeIntegrationConnectionFailed,
		kyc.EventTypeKYCSubmitted,
		kyc.EventTypeKYCApproved,
		kyc.EventTypeKYCRejected,
	}
}

// Handle creates the notification for one event. Unknown events are ignored.
func (h *EventNotifier) Handle(ctx context.Context, ev shared.DomainEvent) error {
	input, ok := h.render(ev)
	if !ok {
		h.logger.Debug("No notification for event", zap.String("event_type", ev.EventType()))
		return nil
	}
	_, err := h.service.Notify(ctx, ev.TenantID(), input)
	return err
}

func (h *EventNotifier) render(ev shared.DomainEvent) (NotifyInput, bool) {
	switch e := ev.(type) {
	case *integration.IntegrationSyncEvent:
		return h.renderSync(e), true
	case *integration.IntegrationConnectionFailedEvent:
		return integrationInput(e.IntegrationID, notification.LevelError,
			h.printer.Sprintf("%s connection failed", e.Name),
			h.printer.Sprintf("%s rejected the connection: %s", e.IntegrationType.DisplayName(), e.Error),
		), true
	case *kyc.KYCSubmittedEvent:
		return kycInput(e.ApplicationID, notification.LevelInfo,
			"Verification submitted",
			h.printer.Sprintf("%s is waiting for review", e.BusinessName),
		), true
	case *kyc.KYCApprovedEvent:
		return kycInput(e.ApplicationID, notification.LevelSuccess,
			"Verification approved",
			h.printer.Sprintf("%s has been verified", e.BusinessName),
		), true
	case *kyc.KYCRejectedEvent:
		return kycInput(e.ApplicationID, notification.LevelError,
			"Verification rejected",
			h.printer.Sprintf("%s was rejected: %s", e.BusinessName, e.Reason),
		), true
	default:
		return NotifyInput{}, false
	}
}

func (h *EventNotifier) renderSync(e *integration.IntegrationSyncEvent) NotifyInput {
	vendor := e.IntegrationType.DisplayName()
	// "ERP: Inbound"; a Caser is stateful so one is made per call
	label := e.Name + ": " + cases.Title(language.English).String(strings.ToLower(string(e.Direction)))
	switch e.Status {
	case integration.SyncStatusFailed:
		return integrationInput(e.IntegrationID, notification.LevelError,
			label+" sync failed",
			h.printer.Sprintf("%s sync failed: %s", vendor, e.Error),
		)
	case integration.SyncStatusPartial:
		return integrationInput(e.IntegrationID, notification.LevelWarning,
			label+" sync completed with errors",
			h.printer.Sprintf("%s sync completed with errors: %d of %d records failed", vendor, e.Failed, e.Total),
		)
	}
	msg := h.printer.Sprintf("%s sync completed: %d created, %d updated", vendor, e.Created, e.Updated)
	if e.Direction == integration.SyncDirectionOutbound {
		msg = h.printer.Sprintf("%s sync completed: %d pushed", vendor, e.Pushed)
	}
	return integrationInput(e.IntegrationID, notification.LevelSuccess, label+" sync completed", msg)
}

func integrationInput(id uuid.UUID, level notification.Level, title, msg string) NotifyInput {
	return NotifyInput{
		Level:      level,
		Category:   notification.CategoryIntegration,
		Title:      title,
		Message:    msg,
		SourceType: integration.AggregateTypeIntegration,
		SourceID:   &id,
	}
}

func kycInput(id uuid.UUID, level notification.Level, title, msg string) NotifyInput {
	return NotifyInput{
		Level:      level,
		Category:   notification.CategoryKYC,
		Title:      title,
		Message:    msg,
		SourceType: kyc.AggregateTypeKYC,
		SourceID:   &id,
	}
}

var _ shared.EventHandler = (*EventNotifier)(nil)
