package codes

import (
	"errors"
	"strconv"
)

// ErrInvalidDigits indicates empty or non numeric checksum input.
var ErrInvalidDigits = errors.New("codes: digits must be a non-empty numeric string")

// ComputeCheckDigit derives the modulus-10 check digit for digits.
// Every second digit from the right is doubled and digit-summed when
// above nine; the returned digit tops the total up to a multiple of
// ten. Input length is arbitrary.
func ComputeCheckDigit(digits string) (int, error) {
	if digits == "" {
		return 0, ErrInvalidDigits
	}
	sum := 0
	double := true
	for i := len(digits) - 1; i >= 0; i-- {
		ch := digits[i]
		if ch < '0' || ch > '9' {
			return 0, ErrInvalidDigits
		}
		d := int(ch - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return (10 - sum%10) % 10, nil
}

// AppendCheckDigit returns digits with its check digit appended.
func AppendCheckDigit(digits string) (string, error) {
	check, err := ComputeCheckDigit(digits)
	if err != nil {
		return "", err
	}
	return digits + strconv.Itoa(check), nil
}

// ValidateCheckDigit reports whether the final character is the correct
// check digit for the preceding ones. Malformed or too short input is
// invalid, never an error, so bulk audits can simply count failures.
func ValidateCheckDigit(digits string) bool {
	if len(digits) < 2 {
		return false
	}
	last := digits[len(digits)-1]
	if last < '0' || last > '9' {
		return false
	}
	check, err := ComputeCheckDigit(digits[:len(digits)-1])
	if err != nil {
		return false
	}
	return int(last-'0') == check
}

// ExtractCheckDigit returns the trailing check digit.
func ExtractCheckDigit(digits string) (int, error) {
	if len(digits) < 2 {
		return 0, errors.New("codes: need at least two characters to extract a check digit")
	}
	last := digits[len(digits)-1]
	if last < '0' || last > '9' {
		return 0, ErrInvalidDigits
	}
	return int(last - '0'), nil
}

// RemoveCheckDigit strips the trailing check digit, undoing
// AppendCheckDigit. Errors on input shorter than two characters.
func RemoveCheckDigit(digits string) (string, error) {
	if len(digits) < 2 {
		return "", errors.New("codes: need at least two characters to strip a check digit")
	}
	return digits[:len(digits)-1], nil
}
