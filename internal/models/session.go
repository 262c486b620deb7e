package models

import "time"

// Step names one state of the registration conversation.
type Step string

const (
	StepLanguageSelect       Step = "language_select"
	StepGuardianName         Step = "guardian_name"
	StepContactEmail         Step = "contact_email"
	StepParticipantSurname   Step = "participant_surname"
	StepParticipantGivenName Step = "participant_given_name"
	StepGrade                Step = "grade"
	StepSchool               Step = "school"
	StepPhone                Step = "phone"
	StepAwaitingPaymentAck   Step = "awaiting_payment_ack"
	StepProofUpload          Step = "proof_upload"
	StepComplete             Step = "complete"
	StepCancelled            Step = "cancelled"
)

// Terminal reports whether no further input is collected in s.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepCancelled
}

// SessionKey identifies one conversation: an account inside a chat.
type SessionKey struct {
	AccountID int64 `json:"account_id"`
	ChatID    int64 `json:"chat_id"`
}

// Draft accumulates validated answers until the registration row exists.
type Draft struct {
	GuardianName         string `json:"guardian_name,omitempty"`
	ContactEmail         string `json:"contact_email,omitempty"`
	ParticipantSurname   string `json:"participant_surname,omitempty"`
	ParticipantGivenName string `json:"participant_given_name,omitempty"`
	Grade                int    `json:"grade,omitempty"`
	School               string `json:"school,omitempty"`
	ContactPhone         string `json:"contact_phone,omitempty"`
}

// Session is the ephemeral state of one registration attempt.
type Session struct {
	Key             SessionKey `json:"key"`
	Step            Step       `json:"step"`
	Language        Language   `json:"language,omitempty"`
	AttemptID       string     `json:"attempt_id"`
	Draft           Draft      `json:"draft"`
	RegistrationID  int64      `json:"registration_id,omitempty"`
	ChargeReference string     `json:"charge_reference,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
