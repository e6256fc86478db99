package prompt

import "errors"

var (
	// ErrBuiltinTemplate is returned when a caller tries to replace or delete
	// a built-in template.
	ErrBuiltinTemplate = errors.New("built-in templates cannot be modified")

	// ErrTemplateNotFound is returned when no custom template has the name.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrInvalidTemplate is returned when a template fails validation.
	ErrInvalidTemplate = errors.New("invalid template")
)
