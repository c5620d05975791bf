// Package orderref encodes and decodes the transaction reference sent to
// payment gateways as their order id.
//
// A reference has the form {userID}_{plan}_{epochMillis}. Neither userID nor
// plan may contain the delimiter.
package orderref

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Delimiter joins the reference fields.
const Delimiter = "_"

// ErrMalformedReference is returned when a reference cannot be decoded, or when
// the fields given to Encode would produce one that cannot.
var ErrMalformedReference = errors.New("malformed transaction reference")

// Ref is a decoded transaction reference.
type Ref struct {
	UserID    string
	Plan      string
	CreatedAt time.Time
}

// Encoder issues references with strictly increasing timestamps, so two calls
// in the same millisecond still produce distinct references.
type Encoder struct {
	now  func() time.Time
	last atomic.Int64
}

// NewEncoder creates an Encoder reading the given clock. A nil clock means time.Now.
func NewEncoder(now func() time.Time) *Encoder {
	if now == nil {
		now = time.Now
	}
	return &Encoder{now: now}
}

var defaultEncoder = NewEncoder(nil)

// Encode builds a reference using the process-wide encoder.
func Encode(userID, plan string) (string, error) {
	return defaultEncoder.Encode(userID, plan)
}

// Encode builds a reference for userID and plan.
func (e *Encoder) Encode(userID, plan string) (string, error) {
	if err := checkField("user id", userID); err != nil {
		return "", err
	}
	if err := checkField("plan", plan); err != nil {
		return "", err
	}
	millis := e.nextMillis()
	return userID + Delimiter + plan + Delimiter + strconv.FormatInt(millis, 10), nil
}

func (e *Encoder) nextMillis() int64 {
	for {
		now := e.now().UnixMilli()
		last := e.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if e.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Decode splits a reference into its fields. It never consults storage.
func Decode(ref string) (Ref, error) {
	parts := strings.Split(ref, Delimiter)
	if len(parts) < 3 {
		return Ref{}, fmt.Errorf("%w: %q has %d parts", ErrMalformedReference, ref, len(parts))
	}
	if len(parts) > 3 {
		return Ref{}, fmt.Errorf("%w: %q has %d parts", ErrMalformedReference, ref, len(parts))
	}
	if parts[0] == "" || parts[1] == "" {
		return Ref{}, fmt.Errorf("%w: %q has an empty field", ErrMalformedReference, ref)
	}
	millis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || millis <= 0 {
		return Ref{}, fmt.Errorf("%w: %q has an invalid timestamp", ErrMalformedReference, ref)
	}
	return Ref{
		UserID:    parts[0],
		Plan:      parts[1],
		CreatedAt: time.UnixMilli(millis).UTC(),
	}, nil
}

func checkField(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: empty %s", ErrMalformedReference, name)
	}
	if strings.Contains(v, Delimiter) {
		return fmt.Errorf("%w: %s %q contains %q", ErrMalformedReference, name, v, Delimiter)
	}
	return nil
}
