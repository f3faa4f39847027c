package content

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/darasa/core"
)

var (
	contentTypeTag  = "contenttype"
	contentTypeText = "invalid content type"

	decideActionTag  = "decideaction"
	decideActionText = "action must be one of: approve, reject"

	priorityTag  = "priority"
	priorityText = "priority must be one of: low, medium, high"

	feedbackRequiredTag  = "feedbackrequired"
	feedbackRequiredText = "feedback is required when rejecting"
)

// InitValidators registers the content package's custom validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(contentTypeTag, contentTypeValidation)
	core.RegisterCustomTranslation(validate, translator, contentTypeTag, contentTypeText)

	_ = validate.RegisterValidation(decideActionTag, decideActionValidation)
	core.RegisterCustomTranslation(validate, translator, decideActionTag, decideActionText)

	_ = validate.RegisterValidation(priorityTag, priorityValidation)
	core.RegisterCustomTranslation(validate, translator, priorityTag, priorityText)

	validate.RegisterStructValidation(bulkDecisionStructValidation, BulkDecision{})
	core.RegisterCustomTranslation(validate, translator, feedbackRequiredTag, feedbackRequiredText)
}

// Custom Validators

// contentTypeValidation checks that the value is a known content type.
func contentTypeValidation(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	for _, known := range AllContentTypes {
		if val == known {
			return true
		}
	}
	return false
}

// decideActionValidation only allows bulk decision actions.
func decideActionValidation(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case ActionApprove, ActionReject:
		return true
	}
	return false
}

// priorityValidation checks that the value is a known priority.
func priorityValidation(fl validator.FieldLevel) bool {
	return Priority(fl.Field().String()).Valid()
}

// bulkDecisionStructValidation enforces that a rejection carries feedback.
func bulkDecisionStructValidation(sl validator.StructLevel) {
	if bd, ok := sl.Current().Interface().(BulkDecision); ok {
		if bd.Action == ActionReject && bd.Feedback == "" {
			sl.ReportError(bd.Feedback, "feedback", "Feedback", feedbackRequiredTag, "")
		}
	}
}
