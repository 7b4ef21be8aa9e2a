package subscription

import (
	"fmt"
	"strings"
)

// Status is the billing status of a subscription
type Status string

// Defining the statuses of a Subscription
const (
	StatusNone     Status = "NONE"
	StatusTrialing Status = "TRIALING"
	StatusActive   Status = "ACTIVE"
	StatusExpired  Status = "EXPIRED"
	StatusCanceled Status = "CANCELED"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusNone, StatusTrialing, StatusActive, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// GrantsAccess is true for statuses that carry tier defaults on their own
func (s Status) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing
}

// ParseStatus accepts a case-insensitive status name
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}
