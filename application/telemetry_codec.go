package application

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	ErrMalformedNumber = errors.New("malformed number")
	ErrUnknownStatus   = errors.New("unknown status")
)

type DecodeErrorKind int

const (
	DecodeErrorMalformedNumber DecodeErrorKind = iota + 1
	DecodeErrorUnknownStatus
)

// DecodeError describes a telemetry payload that could not be decoded.
// errors.Is matches it against ErrMalformedNumber or ErrUnknownStatus.
type DecodeError struct {
	Kind    DecodeErrorKind
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	var kind error = ErrUnknownStatus
	if e.Kind == DecodeErrorMalformedNumber {
		kind = ErrMalformedNumber
	}

	if e.Err != nil {
		return fmt.Sprintf("%v: %q: %v", kind, e.Payload, e.Err)
	}
	return fmt.Sprintf("%v: %q", kind, e.Payload)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformedNumber:
		return e.Kind == DecodeErrorMalformedNumber
	case ErrUnknownStatus:
		return e.Kind == DecodeErrorUnknownStatus
	}
	return false
}

// decimalNumeral excludes the NaN, Inf and hex forms strconv accepts.
var decimalNumeral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// DecodeTemperature parses a UTF-8 decimal numeral such as "23.5".
// Surrounding whitespace is ignored.
func DecodeTemperature(payload []byte) (float64, error) {
	if !utf8.Valid(payload) {
		return 0, &DecodeError{Kind: DecodeErrorMalformedNumber, Payload: string(payload), Err: errors.New("invalid utf-8")}
	}

	s := strings.TrimSpace(string(payload))
	if !decimalNumeral.MatchString(s) {
		return 0, &DecodeError{Kind: DecodeErrorMalformedNumber, Payload: string(payload)}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &DecodeError{Kind: DecodeErrorMalformedNumber, Payload: string(payload), Err: err}
	}
	return v, nil
}

// DecodeStatus maps payload to a MachineStatus by exact name.
func DecodeStatus(payload []byte) (MachineStatus, error) {
	status, ok := ParseMachineStatus(string(payload))
	if !ok {
		return "", &DecodeError{Kind: DecodeErrorUnknownStatus, Payload: string(payload)}
	}
	return status, nil
}
