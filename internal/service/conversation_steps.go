package service

import (
	"github.com/noah-isme/olympiad-registration-bot/internal/catalog"
	"github.com/noah-isme/olympiad-registration-bot/internal/models"
)

type stepPrompt struct {
	key      string
	keyboard models.KeyboardKind
}

// stepPrompts is what the user is asked on entering a data-collecting step.
var stepPrompts = map[models.Step]stepPrompt{
	models.StepGuardianName:         {key: "ask_parent_name", keyboard: models.KeyboardCancel},
	models.StepContactEmail:         {key: "ask_email", keyboard: models.KeyboardCancel},
	models.StepParticipantSurname:   {key: "ask_surname", keyboard: models.KeyboardCancel},
	models.StepParticipantGivenName: {key: "ask_name", keyboard: models.KeyboardCancel},
	models.StepGrade:                {key: "ask_grade", keyboard: models.KeyboardCancel},
	models.StepSchool:               {key: "ask_school", keyboard: models.KeyboardCancel},
	models.StepPhone:                {key: "ask_phone", keyboard: models.KeyboardSharePhone},
}

// textStep validates free-text answers. accept stores the normalised value
// in the draft only when it is valid.
type textStep struct {
	invalid string
	next    models.Step
	accept  func(v *FieldValidator, d *models.Draft, raw string) error
}

var textSteps = map[models.Step]textStep{
	models.StepGuardianName: {
		invalid: "invalid_parent_name",
		next:    models.StepContactEmail,
		accept: func(v *FieldValidator, d *models.Draft, raw string) error {
			value, err := v.PersonName(raw)
			if err == nil {
				d.GuardianName = value
			}
			return err
		},
	},
	models.StepContactEmail: {
		invalid: "invalid_email",
		next:    models.StepParticipantSurname,
		accept: func(v *FieldValidator, d *models.Draft, raw string) error {
			value, err := v.Email(raw)
			if err == nil {
				d.ContactEmail = value
			}
			return err
		},
	},
	models.StepParticipantSurname: {
		invalid: "invalid_surname",
		next:    models.StepParticipantGivenName,
		accept: func(v *FieldValidator, d *models.Draft, raw string) error {
			value, err := v.PersonName(raw)
			if err == nil {
				d.ParticipantSurname = value
			}
			return err
		},
	},
	models.StepParticipantGivenName: {
		invalid: "invalid_name",
		next:    models.StepGrade,
		accept: func(v *FieldValidator, d *models.Draft, raw string) error {
			value, err := v.PersonName(raw)
			if err == nil {
				d.ParticipantGivenName = value
			}
			return err
		},
	},
	models.StepGrade: {
		invalid: "invalid_grade",
		next:    models.StepSchool,
		accept: func(v *FieldValidator, d *models.Draft, raw string) error {
			value, err := v.Grade(raw)
			if err == nil {
				d.Grade = value
			}
			return err
		},
	},
	models.StepSchool: {
		invalid: "invalid_school",
		next:    models.StepPhone,
		accept: func(v *FieldValidator, d *models.Draft, raw string) error {
			value, err := v.School(raw)
			if err == nil {
				d.School = value
			}
			return err
		},
	},
}

func (s *ConversationService) reply(chatID int64, lang models.Language, key string, vars map[string]interface{}) models.Reply {
	return models.Reply{
		Kind:      models.ReplyText,
		ChatID:    chatID,
		Language:  lang,
		PromptKey: key,
		Vars:      vars,
	}
}

// prompt asks for the input of the session's current step.
func (s *ConversationService) prompt(chatID int64, sess *models.Session) models.Reply {
	return s.stepReply(chatID, sess, stepPrompts[sess.Step].key)
}

// stepReply sends key with the keyboard of the session's current step.
func (s *ConversationService) stepReply(chatID int64, sess *models.Session, key string) models.Reply {
	var vars map[string]interface{}
	if sess.Step == models.StepGrade {
		min, max := s.validator.GradeBounds()
		vars = map[string]interface{}{"min": min, "max": max}
	}
	reply := s.reply(chatID, sess.Language, key, vars)
	reply.Keyboard = stepPrompts[sess.Step].keyboard
	return reply
}

func (s *ConversationService) languagePrompt(chatID int64, lang models.Language) models.Reply {
	reply := s.reply(chatID, lang, "choose_language", nil)
	row := make([]models.Button, 0, len(models.Languages))
	for _, option := range models.Languages {
		row = append(row, models.Button{
			LabelKey:      "language_name",
			LabelLanguage: option,
			Payload:       models.PayloadLanguagePrefix + string(option),
		})
	}
	reply.Buttons = [][]models.Button{row}
	return reply
}

// paymentPrompt presents the checkout link and the "I have paid" action for
// the session's pending registration.
func (s *ConversationService) paymentPrompt(sess *models.Session, key string) models.Reply {
	reply := s.reply(sess.Key.ChatID, sess.Language, key, map[string]interface{}{
		"amount": catalog.Number(s.cfg.Price / 100),
	})
	checkout := buildCheckoutURL(s.cfg.CheckoutOrigin, s.cfg.MerchantID, s.cfg.Price, sess.ChargeReference)
	reply.Buttons = [][]models.Button{
		{{LabelKey: "payment_button", URL: checkout}},
		{{LabelKey: "payment_done_button", Payload: models.PayloadPaymentDone}},
	}
	return reply
}

func (s *ConversationService) completionVars(reg *models.Registration) map[string]interface{} {
	return map[string]interface{}{
		"amount":      catalog.Number(s.cfg.Price / 100),
		"surname":     reg.ParticipantSurname,
		"name":        reg.ParticipantGivenName,
		"grade":       reg.Grade,
		"school":      reg.School,
		"parent_name": reg.GuardianName,
		"email":       reg.ContactEmail,
		"phone":       reg.ContactPhone,
		"charge_id":   reg.ChargeRef(),
	}
}
