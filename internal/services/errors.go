package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrTemplateNotFound = errors.New("template not found")
	ErrExternalTool     = errors.New("external tool error")
	ErrTransient        = errors.New("transient infrastructure failure")
	ErrWebhookDelivery  = errors.New("webhook delivery failed")
	ErrConfiguration    = errors.New("configuration error")
	ErrNotFound         = errors.New("not found")
)

// Persisted error kinds written to the assembly record.
const (
	KindValidation       = "VALIDATION_ERROR"
	KindTemplateNotFound = "TEMPLATE_NOT_FOUND"
	KindExternalTool     = "EXTERNAL_TOOL_ERROR"
	KindTransient        = "TRANSIENT_INFRA_ERROR"
	KindStep             = "STEP_ERROR"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to the error kind persisted on a failed assembly.
// Errors that carry no marker are attributed to the step that raised them.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTemplateNotFound):
		return KindTemplateNotFound
	case errors.Is(err, ErrExternalTool):
		return KindExternalTool
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindStep
	}
}

// Retryable reports whether a failure should be left to queue redelivery
// instead of being recorded as terminal.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
