package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldErrors 把 gin 绑定校验失败转换为 字段 -> 错误消息 的结构。
//
// 非 validator 类型的错误（如 JSON 语法错误）退化为 "body" 字段。
func FieldErrors(err error) map[string]string {
	fields := map[string]string{}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		fields["body"] = "invalid request body"
		return fields
	}

	for _, fe := range verrs {
		name := jsonFieldName(fe.Field())
		fields[name] = message(fe)
	}
	return fields
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "max":
		return fmt.Sprintf("cannot exceed %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return "must be a valid URL"
	case "e164":
		return "must be a valid mobile number"
	default:
		return "is invalid"
	}
}

// jsonFieldName 把 Go 字段名转为 JSON 风格（首字母小写）。
func jsonFieldName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
