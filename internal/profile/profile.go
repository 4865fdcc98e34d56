package profile

import (
	"bytes"
	"encoding/json"
	"time"
)

// 字段长度限制。
const (
	MaxNameLength  = 100
	MaxEmailLength = 254
	MaxPhoneLength = 15
)

// Profile 是一条用户档案。ID、CreatedAt、UpdatedAt 只读。
type Profile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Bio       *string   `json:"bio"`
	Phone     *string   `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone 返回深拷贝。
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Bio = cloneString(p.Bio)
	clone.Phone = cloneString(p.Phone)
	return &clone
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Field 记录请求体中某个字段的三种状态：未出现、显式 null、给出值。
type Field struct {
	Present bool
	Null    bool
	Value   string
	invalid bool
}

// Set 返回一个给出值的字段。
func Set(value string) Field {
	return Field{Present: true, Value: value}
}

// Null 返回一个显式为 null 的字段。
func Null() Field {
	return Field{Present: true, Null: true}
}

// UnmarshalJSON 接受字符串与数字，数字按原文转换为字符串；布尔、数组、对象视为非法。
func (f *Field) UnmarshalJSON(data []byte) error {
	f.Present = true
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		f.Null = true
	case len(trimmed) > 0 && trimmed[0] == '"':
		return json.Unmarshal(trimmed, &f.Value)
	case len(trimmed) > 0 && (trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9')):
		f.Value = string(trimmed)
	default:
		f.invalid = true
	}
	return nil
}

// MarshalJSON 便于客户端构造请求体。
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.Present || f.Null {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// IsZero 配合 omitzero 跳过未出现的字段。
func (f Field) IsZero() bool {
	return !f.Present
}

// Input 是创建或修改档案时可写的字段。
type Input struct {
	Name  Field `json:"name,omitzero"`
	Email Field `json:"email,omitzero"`
	Bio   Field `json:"bio,omitzero"`
	Phone Field `json:"phone,omitzero"`
}
