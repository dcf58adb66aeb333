package keygen

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	CodeFingerprintTaken     = "FINGERPRINT_TAKEN"
	CodeMachineLimitExceeded = "MACHINE_LIMIT_EXCEEDED"
	CodeNotFound             = "NOT_FOUND"
)

// Error is a non-2xx Keygen response.
type Error struct {
	Op     string
	Status int
	Code   string
	Title  string
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("keygen %s: status %d", e.Op, e.Status)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	} else if e.Title != "" {
		msg += ": " + e.Title
	}
	return msg
}

type errorDocument struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Code   string `json:"code"`
	} `json:"errors"`
}

func decodeError(op string, status int, raw []byte) error {
	e := &Error{Op: op, Status: status}
	var doc errorDocument
	if err := json.Unmarshal(raw, &doc); err == nil && len(doc.Errors) > 0 {
		first := doc.Errors[0]
		e.Code = strings.ToUpper(strings.TrimSpace(first.Code))
		e.Title = first.Title
		e.Detail = first.Detail
		// Keygen reports several validation failures at once; prefer the
		// codes callers branch on.
		for _, item := range doc.Errors {
			switch code := strings.ToUpper(item.Code); code {
			case CodeFingerprintTaken, CodeMachineLimitExceeded:
				e.Code = code
				e.Detail = item.Detail
			}
		}
	}
	if e.Title == "" {
		e.Title = http.StatusText(status)
	}
	return e
}

func hasCode(err error, status int, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	if status != 0 && e.Status == status {
		return true
	}
	return code != "" && e.Code == code
}

func IsNotFound(err error) bool { return hasCode(err, http.StatusNotFound, CodeNotFound) }

func IsFingerprintTaken(err error) bool { return hasCode(err, 0, CodeFingerprintTaken) }

func IsMachineLimitExceeded(err error) bool { return hasCode(err, 0, CodeMachineLimitExceeded) }

// IsClientError reports a 4xx response other than rate limiting.
func IsClientError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Status >= 400 && e.Status < 500 && e.Status != http.StatusTooManyRequests
}
