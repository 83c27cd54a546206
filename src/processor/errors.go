package processor

import (
	"errors"
	"fmt"
)

var (
	ErrIO       = errors.New("trip file unreadable")
	ErrFormat   = errors.New("trip table format mismatch")
	ErrParse    = errors.New("trip value unparseable")
	ErrDivision = errors.New("division by zero")
	ErrColumn   = errors.New("unknown column")
)

// ParseError 记录无法解析的单元格，Row从0开始(不含标题行)
type ParseError struct {
	Row    int
	Column string
	Value  string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: column %s row %d value %q: %v", ErrParse, e.Column, e.Row, e.Value, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}
