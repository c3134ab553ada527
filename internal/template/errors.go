package template

import (
	"errors"
	"fmt"

	apperrors "metricdrop/pkg/errors"
)

type baseError struct {
	pos Position
	msg string
}

func (e *baseError) Position() Position { return e.pos }
func (e *baseError) Error() string {
	return fmt.Sprintf("%s: %s", e.pos, e.msg)
}

// SyntaxError is a lexing or parsing failure.
type SyntaxError struct {
	baseError
}

func newSyntaxError(pos Position, format string, args ...any) *SyntaxError {
	return &SyntaxError{baseError: baseError{pos: pos, msg: fmt.Sprintf(format, args...)}}
}

// UndefinedError is raised when a placeholder names a value the context does not have.
type UndefinedError struct {
	baseError
	Name string
}

func newUndefinedError(pos Position, name string) *UndefinedError {
	return &UndefinedError{
		baseError: baseError{pos: pos, msg: fmt.Sprintf("'%s' is undefined", name)},
		Name:      name,
	}
}

// RenderError is any other evaluation failure, such as looping over a scalar.
type RenderError struct {
	baseError
}

func newRenderError(pos Position, format string, args ...any) *RenderError {
	return &RenderError{baseError: baseError{pos: pos, msg: fmt.Sprintf(format, args...)}}
}

// toAppError maps template failures onto the application error taxonomy.
func toAppError(err error, file string) error {
	if err == nil {
		return nil
	}

	var undefined *UndefinedError
	if errors.As(err, &undefined) {
		appErr := apperrors.TemplateVariableError(undefined.Name, undefined.pos.String())
		appErr.Cause = err
		return appErr.WithContext("file", file)
	}

	return apperrors.Wrap(err, apperrors.ErrCodeTemplateSyntax, fmt.Sprintf("Failed to render template %s", displayName(file))).
		WithContext("file", file)
}

func displayName(file string) string {
	if file == "" {
		return "<string>"
	}
	return file
}
