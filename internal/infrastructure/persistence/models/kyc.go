package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/supplychain/backend/internal/domain/kyc"
)

// KYCApplicationModel is the persistence model for the KYC aggregate
type KYCApplicationModel struct {
	TenantAggregateModel
	Status             kyc.Status `gorm:"type:varchar(20);not null;index"`
	BusinessName       string     `gorm:"type:varchar(200)"`
	RegistrationNumber string     `gorm:"type:varchar(100)"`
	Country            string     `gorm:"type:varchar(2)"`
	Address            string     `gorm:"type:text"`
	DocumentsJSON      string     `gorm:"type:jsonb;column:documents"`
	SubmittedAt        *time.Time
	ReviewedAt         *time.Time
	ReviewerID         *uuid.UUID `gorm:"type:uuid"`
	RejectionReason    string     `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (KYCApplicationModel) TableName() string {
	return "kyc_applications"
}

// ToDomain converts the persistence model to the domain aggregate
func (m *KYCApplicationModel) ToDomain() *kyc.Application {
	a := &kyc.Application{
		Status: m.Status,
		Details: kyc.Details{
			BusinessName:       m.BusinessName,
			RegistrationNumber: m.RegistrationNumber,
			Country:            m.Country,
			Address:            m.Address,
		},
		Documents:       make([]kyc.Document, 0),
		SubmittedAt:     m.SubmittedAt,
		ReviewedAt:      m.ReviewedAt,
		ReviewerID:      m.ReviewerID,
		RejectionReason: m.RejectionReason,
	}
	m.PopulateTenantAggregateRoot(&a.TenantAggregateRoot)
	if m.DocumentsJSON != "" {
		_ = json.Unmarshal([]byte(m.DocumentsJSON), &a.Documents)
	}
	return a
}

// KYCApplicationModelFromDomain creates a new persistence model from the aggregate
func KYCApplicationModelFromDomain(a *kyc.Application) *KYCApplicationModel {
	m := &KYCApplicationModel{
		Status:             a.Status,
		BusinessName:       a.Details.BusinessName,
		RegistrationNumber: a.Details.RegistrationNumber,
		Country:            a.Details.Country,
		Address:            a.Details.Address,
		DocumentsJSON:      marshalOr(a.Documents, "[]"),
		SubmittedAt:        a.SubmittedAt,
		ReviewedAt:         a.ReviewedAt,
		ReviewerID:         a.ReviewerID,
		RejectionReason:    a.RejectionReason,
	}
	m.FromDomainTenantAggregateRoot(a.TenantAggregateRoot)
	return m
}
