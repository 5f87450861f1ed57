package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/supplychain/backend/internal/domain/integration"
	"github.com/supplychain/backend/internal/domain/kyc"
	"github.com/supplychain/backend/internal/interfaces/http/dto"
)

var setupOnce sync.Once

// SetupValidator registers JSON field names and the domain enum tags on
// gin's validator. Safe to call more than once.
func SetupValidator() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				name = strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			}
			return name
		})
		_ = v.RegisterValidation("integration_type", enumTag(func(s string) bool {
			return integration.IntegrationType(s).IsValid()
		}))
		_ = v.RegisterValidation("record_kind", enumTag(func(s string) bool {
			return integration.RecordKind(s).IsValid()
		}))
		_ = v.RegisterValidation("sync_direction", enumTag(func(s string) bool {
			return integration.SyncDirection(s).IsValid()
		}))
		_ = v.RegisterValidation("kyc_document_type", enumTag(func(s string) bool {
			return kyc.DocumentType(s).IsValid()
		}))
	})
}

// enumTag accepts empty values so the tags combine with omitempty and required
func enumTag(valid func(string) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || valid(s)
	}
}

// FormatValidationErrors formats validation errors into a standard response
func FormatValidationErrors(err error, requestID string) dto.Response {
	var details []dto.ValidationDetail
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, e := range verrs {
			details = append(details, dto.ValidationDetail{
				Field:   e.Field(),
				Message: getValidationMessage(e),
			})
		}
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError writes a 400 validation error response
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		if e.Type().Kind() == reflect.String {
			return "Must be at least " + e.Param() + " characters"
		}
		return "Must be at least " + e.Param()
	case "max":
		if e.Type().Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "len":
		return "Must be exactly " + e.Param() + " characters"
	case "uuid":
		return "Invalid UUID format"
	case "oneof":
		return "Must be one of: " + e.Param()
	case "url":
		return "Invalid URL format"
	case "integration_type":
		return "Must be one of: SAP POWERBI IOT SHOPIFY"
	case "record_kind":
		return "Unknown record kind"
	case "sync_direction":
		return "Must be one of: INBOUND OUTBOUND"
	case "kyc_document_type":
		return "Unknown document type"
	default:
		return "Invalid value"
	}
}
