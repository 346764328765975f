package errors

import (
	"strings"
)

type MultiError struct {
	msg    string
	errors []error
}

func NewMultiError(msg string) *MultiError {
	return &MultiError{
		msg: msg,
	}
}

func (m *MultiError) Append(err error) {
	if err != nil {
		m.errors = append(m.errors, err)
	}
}

func (m *MultiError) Error() string {
	var b strings.Builder
	b.WriteString(m.msg)
	b.WriteString(":")
	for _, err := range m.errors {
		b.WriteString("\n ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (m *MultiError) Unwrap() []error {
	return m.errors
}

// ToErr returns nil when nothing was appended.
func (m *MultiError) ToErr() error {
	if len(m.errors) == 0 {
		return nil
	}
	return m
}
