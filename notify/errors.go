package notify

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest marks a dispatch rejected before the cache is consulted.
	ErrInvalidRequest = errors.New("invalid notification request")

	ErrMissingTemplate      = fmt.Errorf("%w: template name is required", ErrInvalidRequest)
	ErrMissingRecipient     = fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	ErrMissingCaseReference = fmt.Errorf("%w: personalisation has no %s", ErrInvalidRequest, CaseReferenceField)

	ErrTemplateNotFound = errors.New("template not found")
	ErrRender           = errors.New("template render failed")
	ErrDelivery         = errors.New("notification delivery failed")
)

// TemplateRenderError locates a render failure. Line, Column and Field are
// zero-valued when the template engine did not report them.
type TemplateRenderError struct {
	Template string
	Line     int
	Column   int
	Field    string
	Err      error
}

func (e *TemplateRenderError) Error() string {
	var loc []string
	if e.Line > 0 {
		loc = append(loc, fmt.Sprintf("line %d", e.Line))
	}
	if e.Column > 0 {
		loc = append(loc, fmt.Sprintf("column %d", e.Column))
	}
	if e.Field != "" {
		loc = append(loc, "field "+e.Field)
	}
	if len(loc) == 0 {
		return fmt.Sprintf("render template %s: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("render template %s (%s): %v", e.Template, strings.Join(loc, ", "), e.Err)
}

func (e *TemplateRenderError) Unwrap() []error {
	return []error{ErrRender, e.Err}
}

// DeliveryError is a provider rejection. It is not retried.
type DeliveryError struct {
	Template  string
	Recipient string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDelivery, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}
