// Package vhperr defines the typed error kinds shared across vhotplug's
// components (§7). Every kind carries a stable code string so API
// responses and log lines can be matched on without string-sniffing the
// message.
package vhperr

import (
	"errors"
	"fmt"
)

// Code identifies an error kind independent of its human message.
type Code string

const (
	CodeConfigInvalid    Code = "config_invalid"
	CodeNoSuchDevice     Code = "no_such_device"
	CodeAmbiguous        Code = "ambiguous"
	CodeAlreadyAttached  Code = "already_attached"
	CodeNotAttached      Code = "not_attached"
	CodeVmUnreachable    Code = "vm_unreachable"
	CodeProtocolError    Code = "protocol_error"
	CodeUnsupported      Code = "unsupported"
	CodeTimeout          Code = "timeout"
	CodeSourceLost       Code = "source_lost"
	CodeUnsupportedKind  Code = "unsupported_subsystem"
)

// Error is a vhotplug error carrying a stable Code and an optional
// wrapped cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func ConfigInvalid(format string, args ...any) *Error {
	return New(CodeConfigInvalid, fmt.Sprintf(format, args...))
}

func NoSuchDevice(selector string) *Error {
	return New(CodeNoSuchDevice, fmt.Sprintf("no device matches selector %s", selector))
}

func Ambiguous(selector string) *Error {
	return New(CodeAmbiguous, fmt.Sprintf("selector %s matches more than one device", selector))
}

func AlreadyAttached(vm string) *Error {
	return New(CodeAlreadyAttached, fmt.Sprintf("device is already attached to vm %q", vm))
}

func NotAttached() *Error {
	return New(CodeNotAttached, "device is not attached to any vm")
}

func VmUnreachable(vm string, cause error) *Error {
	return Wrap(CodeVmUnreachable, fmt.Sprintf("vm %q is unreachable", vm), cause)
}

func ProtocolError(cause error) *Error {
	return Wrap(CodeProtocolError, "hypervisor protocol error", cause)
}

func Unsupported(op string) *Error {
	return New(CodeUnsupported, fmt.Sprintf("operation %q is not supported by this hypervisor", op))
}

func Timeout(op string) *Error {
	return New(CodeTimeout, fmt.Sprintf("operation %q timed out", op))
}

func SourceLost(cause error) *Error {
	return Wrap(CodeSourceLost, "kernel device source lost", cause)
}

func UnsupportedSubsystem(subsystem string) *Error {
	return New(CodeUnsupportedKind, fmt.Sprintf("unsupported subsystem %q", subsystem))
}

// CodeOf extracts the stable code from err, or "" if err is not (or does
// not wrap) a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ""
}
