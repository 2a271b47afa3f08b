package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// DriverErrorKind classifies a database failure.
type DriverErrorKind string

const (
	KindConnectivity DriverErrorKind = "connectivity"
	KindQuery        DriverErrorKind = "query"
	KindConstraint   DriverErrorKind = "constraint"
	KindTimeout      DriverErrorKind = "timeout"
	KindCanceled     DriverErrorKind = "canceled"
	KindOther        DriverErrorKind = "other"
)

// DriverError is a database failure reported by a task.
type DriverError struct {
	Kind DriverErrorKind
	// Code is the SQLSTATE when the server reported one.
	Code string
	Err  error
}

func (e *DriverError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgres %s error (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("postgres %s error: %v", e.Kind, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// AdaptError classifies err into a *DriverError. Errors already adapted pass through.
func AdaptError(err error) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	kind, code := classify(err)
	return &DriverError{Kind: kind, Code: code, Err: err}
}

func classify(err error) (DriverErrorKind, string) {
	if errors.Is(err, context.Canceled) {
		return KindCanceled, ""
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return KindTimeout, ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code), pgErr.Code
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return KindConnectivity, ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity, ""
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || pgconn.SafeToRetry(err) {
		return KindConnectivity, ""
	}
	return KindOther, ""
}

// classifyCode maps a SQLSTATE to a kind.
// See https://www.postgresql.org/docs/current/errcodes-appendix.html
func classifyCode(code string) DriverErrorKind {
	switch code {
	case "57014": // query_canceled
		return KindCanceled
	case "57P01", "57P02", "57P03": // admin_shutdown, crash_shutdown, cannot_connect_now
		return KindConnectivity
	}
	switch {
	case strings.HasPrefix(code, "08"):
		return KindConnectivity
	case strings.HasPrefix(code, "23"):
		return KindConstraint
	case strings.HasPrefix(code, "42"), strings.HasPrefix(code, "22"):
		return KindQuery
	}
	return KindOther
}

// IsConnectivity reports whether err is a connectivity failure.
func IsConnectivity(err error) bool {
	var de *DriverError
	return errors.As(err, &de) && de.Kind == KindConnectivity
}

// IsConstraintViolation reports whether err is an integrity constraint violation.
func IsConstraintViolation(err error) bool {
	var de *DriverError
	return errors.As(err, &de) && de.Kind == KindConstraint
}
