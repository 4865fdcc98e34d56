package profile

import (
	"fmt"
	"sort"
	"strings"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
)

// 校验信息。
const (
	MsgRequired     = "This field is required."
	MsgNull         = "This field may not be null."
	MsgBlank        = "This field may not be blank."
	MsgInvalidEmail = "Enter a valid email address."
	MsgNotString    = "Not a valid string."
	MsgEmailTaken   = "profile with this email already exists."
	MsgNotFound     = "Not found."
)

// 存储层返回的错误。
var (
	ErrNotFound       = xerrors.New(xerrors.CodeNotFound, MsgNotFound)
	ErrDuplicateEmail = xerrors.New(xerrors.CodeConflict, MsgEmailTaken)
)

// ValidationError 按字段列出所有校验失败的原因。
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

func (e *ValidationError) empty() bool {
	return e == nil || len(e.Fields) == 0
}

// Error 实现 error 接口。
func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, strings.Join(e.Fields[k], " ")))
	}
	return "invalid profile: " + strings.Join(parts, "; ")
}

// Unwrap 让 ValidationError 在统一错误体系中表现为 INVALID_ARGUMENT。
func (e *ValidationError) Unwrap() error {
	return xerrors.New(xerrors.CodeInvalidArgument, e.Error())
}

func maxLengthMessage(n int) string {
	return fmt.Sprintf("Ensure this field has no more than %d characters.", n)
}
