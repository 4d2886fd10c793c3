// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount возвращается, если сумма отсутствует, не является конечным
// числом или не положительна там, где требуется положительное значение.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmountCents разбирает денежную сумму из строкового представления
// (клиенты присылают суммы как числа или как строки) и возвращает её
// в копейках. Сумма должна быть конечным положительным числом; всё остальное
// отклоняется с ErrInvalidAmount до того, как значение попадёт в бизнес-логику.
func ParseAmountCents(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidAmount
	}

	if v <= 0 {
		return 0, ErrInvalidAmount
	}

	cents := math.Round(v * 100)
	// math.MaxInt64 в float64 округляется вверх до 2^63, поэтому граница
	// проверяется нестрого: иначе конверсия в int64 переполнится.
	if cents <= 0 || cents >= math.MaxInt64 {
		return 0, ErrInvalidAmount
	}

	return int64(cents), nil
}

// ParseNonNegativeAmountCents работает как ParseAmountCents, но допускает ноль.
// Используется для административной операции установки баланса.
func ParseNonNegativeAmountCents(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, ErrInvalidAmount
	}

	cents := math.Round(v * 100)
	if cents < 0 || cents >= math.MaxInt64 {
		return 0, ErrInvalidAmount
	}

	return int64(cents), nil
}

// CentsToAmount переводит сумму из копеек во внешнее десятичное представление.
func CentsToAmount(cents int64) float64 {
	return float64(cents) / 100
}
