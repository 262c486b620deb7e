package models

import (
	"strings"
	"time"
)

// Registration is one participant entry. An account may own many of them.
type Registration struct {
	ID                   int64      `db:"id" json:"id"`
	AccountRef           int64      `db:"account_ref" json:"account_ref"`
	AccountHandle        *string    `db:"account_handle" json:"account_handle,omitempty"`
	GuardianName         string     `db:"guardian_name" json:"guardian_name"`
	ContactEmail         string     `db:"contact_email" json:"contact_email"`
	ContactPhone         string     `db:"contact_phone" json:"contact_phone"`
	ParticipantSurname   string     `db:"participant_surname" json:"participant_surname"`
	ParticipantGivenName string     `db:"participant_given_name" json:"participant_given_name"`
	Grade                int        `db:"grade" json:"grade"`
	School               string     `db:"school" json:"school"`
	ChargeReference      *string    `db:"charge_reference" json:"charge_reference,omitempty"`
	Language             Language   `db:"language_tag" json:"language"`
	PaymentConfirmed     bool       `db:"payment_confirmed" json:"payment_confirmed"`
	ProofImageRef        *string    `db:"proof_image_ref" json:"proof_image_ref,omitempty"`
	AttemptID            *string    `db:"attempt_id" json:"attempt_id,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	PaidAt               *time.Time `db:"paid_at" json:"paid_at,omitempty"`
}

// NewRegistration carries the fields collected by the conversation before the
// row exists.
type NewRegistration struct {
	AccountRef           int64
	AccountHandle        *string
	GuardianName         string
	ContactEmail         string
	ContactPhone         string
	ParticipantSurname   string
	ParticipantGivenName string
	Grade                int
	School               string
	Language             Language
	AttemptID            string
}

// ChargeRef returns the charge reference or an empty string.
func (r *Registration) ChargeRef() string {
	if r == nil || r.ChargeReference == nil {
		return ""
	}
	return *r.ChargeReference
}

// Handle returns the account handle or an empty string.
func (r *Registration) Handle() string {
	if r == nil || r.AccountHandle == nil {
		return ""
	}
	return *r.AccountHandle
}

const documentProofPrefix = "document:"

// DocumentProofRef tags a file id of an image that was sent as a file rather
// than as a photo. Photo ids are stored as they are.
func DocumentProofRef(fileID string) string {
	return documentProofPrefix + fileID
}

// SplitProofRef returns the transport file id behind ref and whether it
// names a document.
func SplitProofRef(ref string) (fileID string, document bool) {
	if strings.HasPrefix(ref, documentProofPrefix) {
		return strings.TrimPrefix(ref, documentProofPrefix), true
	}
	return ref, false
}
