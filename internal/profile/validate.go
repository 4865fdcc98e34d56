package profile

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

type fieldRule struct {
	name      string
	required  bool
	nullable  bool
	blankable bool
	maxLength int
	email     bool
}

var rules = []fieldRule{
	{name: "name", required: true, maxLength: MaxNameLength},
	{name: "email", required: true, maxLength: MaxEmailLength, email: true},
	{name: "bio", nullable: true, blankable: true},
	{name: "phone", nullable: true, blankable: true, maxLength: MaxPhoneLength},
}

func (in Input) field(name string) Field {
	switch name {
	case "name":
		return in.Name
	case "email":
		return in.Email
	case "bio":
		return in.Bio
	default:
		return in.Phone
	}
}

// validate 校验输入。partial 为 true 时只校验出现的字段。
// 返回的 Input 已去除首尾空白。
func validate(in Input, partial bool) (Input, *ValidationError) {
	verr := &ValidationError{}
	cleaned := Input{}
	for _, rule := range rules {
		f := in.field(rule.name)
		switch {
		case !f.Present:
			if rule.required && !partial {
				verr.add(rule.name, MsgRequired)
			}
			continue
		case f.invalid:
			verr.add(rule.name, MsgNotString)
			continue
		case f.Null:
			if !rule.nullable {
				verr.add(rule.name, MsgNull)
				continue
			}
		default:
			f.Value = strings.TrimSpace(f.Value)
			if f.Value == "" && !rule.blankable {
				verr.add(rule.name, MsgBlank)
				continue
			}
			if rule.maxLength > 0 && utf8.RuneCountInString(f.Value) > rule.maxLength {
				verr.add(rule.name, maxLengthMessage(rule.maxLength))
			}
			if rule.email && !validEmail(f.Value) {
				verr.add(rule.name, MsgInvalidEmail)
			}
		}
		switch rule.name {
		case "name":
			cleaned.Name = f
		case "email":
			cleaned.Email = f
		case "bio":
			cleaned.Bio = f
		case "phone":
			cleaned.Phone = f
		}
	}
	if verr.empty() {
		return cleaned, nil
	}
	return cleaned, verr
}

// validEmail 要求地址不带显示名，且域名部分至少包含一个点。
func validEmail(value string) bool {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Name != "" || addr.Address != value {
		return false
	}
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return false
	}
	domain := value[at+1:]
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return !strings.ContainsAny(value, " \t")
}

// apply 把已校验的输入写入档案。
func (in Input) apply(p *Profile) {
	if in.Name.Present {
		p.Name = in.Name.Value
	}
	if in.Email.Present {
		p.Email = in.Email.Value
	}
	if in.Bio.Present {
		p.Bio = optional(in.Bio)
	}
	if in.Phone.Present {
		p.Phone = optional(in.Phone)
	}
}

func optional(f Field) *string {
	if f.Null {
		return nil
	}
	v := f.Value
	return &v
}
