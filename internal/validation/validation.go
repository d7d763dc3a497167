// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	minUsernameLen = 3
	maxUsernameLen = 32

	minAccountNumberLen = 6
	maxAccountNumberLen = 24
)

// IsValidUsername проверяет корректность имени пользователя: строчные латинские
// буквы, цифры и подчёркивания, первая позиция — буква.
func IsValidUsername(username string) bool {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return false
	}

	for i, ch := range username {
		switch {
		case ch >= 'a' && ch <= 'z':
		case unicode.IsDigit(ch) && i > 0:
		case ch == '_' && i > 0:
		default:
			return false
		}
	}

	return true
}

// IsValidAccountNumber проверяет номер счёта платёжного метода: только цифры
// допустимой длины (мобильные кошельки и банковские счета).
func IsValidAccountNumber(number string) bool {
	if len(number) < minAccountNumberLen || len(number) > maxAccountNumberLen {
		return false
	}

	for _, ch := range number {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}
