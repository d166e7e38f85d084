// Copyright (c) 2024, configd authors. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package mgmterror builds NETCONF <rpc-error> documents for the
// taxonomy described in the datastore core's error handling design:
// ParseError, SchemaError, ValidationError, LockDenied, DataMissing,
// DataExists, AccessDenied, Unauthenticated, NotSupported, IoError,
// PluginError, InternalError and Unrecoverable.
package mgmterror

import "fmt"

// ErrorType is the NETCONF error-type axis: transport, rpc, protocol or
// application.
type ErrorType string

const (
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeRPC        ErrorType = "rpc"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeApplication ErrorType = "application"
)

// ErrorTag is one of the tags from the NETCONF error-tag registry.
type ErrorTag string

const (
	TagInUse              ErrorTag = "in-use"
	TagInvalidValue        ErrorTag = "invalid-value"
	TagTooBig              ErrorTag = "too-big"
	TagMissingAttribute    ErrorTag = "missing-attribute"
	TagBadAttribute        ErrorTag = "bad-attribute"
	TagUnknownAttribute    ErrorTag = "unknown-attribute"
	TagMissingElement      ErrorTag = "missing-element"
	TagBadElement          ErrorTag = "bad-element"
	TagUnknownElement      ErrorTag = "unknown-element"
	TagUnknownNamespace    ErrorTag = "unknown-namespace"
	TagAccessDenied        ErrorTag = "access-denied"
	TagLockDenied          ErrorTag = "lock-denied"
	TagResourceDenied      ErrorTag = "resource-denied"
	TagRollbackFailed      ErrorTag = "rollback-failed"
	TagDataExists          ErrorTag = "data-exists"
	TagDataMissing         ErrorTag = "data-missing"
	TagOperationNotSupported ErrorTag = "operation-not-supported"
	TagOperationFailed     ErrorTag = "operation-failed"
	TagPartialOperation    ErrorTag = "partial-operation"
	TagMalformedMessage    ErrorTag = "malformed-message"
)

// ErrorSeverity is always "error" in this implementation; NETCONF also
// permits "warning" but the core never downgrades a failure to one.
type ErrorSeverity string

const ErrorSeverityError ErrorSeverity = "error"

// Kind names the taxonomy entries from the error handling design so
// callers can branch on category without string-matching ErrorTag.
type Kind string

const (
	KindParse          Kind = "ParseError"
	KindSchema         Kind = "SchemaError"
	KindValidation     Kind = "ValidationError"
	KindLockDenied     Kind = "LockDenied"
	KindDataMissing    Kind = "DataMissing"
	KindDataExists     Kind = "DataExists"
	KindAccessDenied   Kind = "AccessDenied"
	KindUnauthenticated Kind = "Unauthenticated"
	KindNotSupported   Kind = "NotSupported"
	KindIo             Kind = "IoError"
	KindPlugin         Kind = "PluginError"
	KindInternal       Kind = "InternalError"
	KindUnrecoverable  Kind = "Unrecoverable"
)

// Error is a single <rpc-error> entry. Multiple Errors may be returned
// together as an ErrorList.
type Error struct {
	Kind     Kind
	Type     ErrorType
	Tag      ErrorTag
	Severity ErrorSeverity
	AppTag   string
	Path     string
	Message  string
	Info     map[string]string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s [%s]", e.Tag, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func newErr(kind Kind, typ ErrorType, tag ErrorTag, msg string) *Error {
	return &Error{
		Kind:     kind,
		Type:     typ,
		Tag:      tag,
		Severity: ErrorSeverityError,
		Message:  msg,
	}
}

func NewParseError(msg string) *Error {
	return newErr(KindParse, ErrorTypeProtocol, TagMalformedMessage, msg)
}

func NewSchemaError(msg string) *Error {
	return newErr(KindSchema, ErrorTypeApplication, TagOperationFailed, msg)
}

func NewValidationError(msg string) *Error {
	return newErr(KindValidation, ErrorTypeApplication, TagInvalidValue, msg)
}

// NewLockDeniedError names the session holding the lock in Info, mirroring
// spec.md §4.7 / §8 P3: the error-info must carry the holder's session id.
func NewLockDeniedError(holderSessionID string) *Error {
	e := newErr(KindLockDenied, ErrorTypeProtocol, TagLockDenied,
		"session is locked by "+holderSessionID)
	e.Info = map[string]string{"session-id": holderSessionID}
	return e
}

func NewDataMissingError(path string) *Error {
	e := newErr(KindDataMissing, ErrorTypeApplication, TagDataMissing, "data does not exist")
	e.Path = path
	return e
}

func NewDataExistsError(path string) *Error {
	e := newErr(KindDataExists, ErrorTypeApplication, TagDataExists, "data already exists")
	e.Path = path
	return e
}

func NewAccessDeniedError() *Error {
	return newErr(KindAccessDenied, ErrorTypeProtocol, TagAccessDenied, "access denied")
}

func NewUnauthenticatedError() *Error {
	return newErr(KindUnauthenticated, ErrorTypeRPC, TagAccessDenied, "not authenticated")
}

func NewNotSupportedError(msg string) *Error {
	return newErr(KindNotSupported, ErrorTypeApplication, TagOperationNotSupported, msg)
}

func NewIoError(msg string) *Error {
	return newErr(KindIo, ErrorTypeApplication, TagOperationFailed, msg)
}

// NewPluginError names the offending plugin, per spec.md §4.5's
// COMMIT_FAILED outcome which must name the plugin that failed.
func NewPluginError(plugin, phase, msg string) *Error {
	e := newErr(KindPlugin, ErrorTypeApplication, TagOperationFailed, msg)
	e.Info = map[string]string{"plugin": plugin, "phase": phase}
	return e
}

func NewInternalError(msg string) *Error {
	return newErr(KindInternal, ErrorTypeApplication, TagOperationFailed, msg)
}

func NewUnrecoverableError(msg string) *Error {
	return newErr(KindUnrecoverable, ErrorTypeApplication, TagOperationFailed, msg)
}

func NewResourceDeniedError(msg string) *Error {
	return newErr(KindInternal, ErrorTypeProtocol, TagResourceDenied, msg)
}

// ErrorList is returned by Validator.Validate and by RPC replies carrying
// more than one <rpc-error>.
type ErrorList []*Error

func (l ErrorList) Error() string {
	if len(l) == 0 {
		return "no error"
	}
	msg := l[0].Error()
	for _, e := range l[1:] {
		msg += "; " + e.Error()
	}
	return msg
}

// AsErrorList normalizes any error into an ErrorList: passes through an
// existing ErrorList or single *Error, and wraps anything else as an
// InternalError. Used at every boundary that must hand a caller a
// uniform []*Error regardless of where the failure originated.
func AsErrorList(err error) ErrorList {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case ErrorList:
		return e
	case *Error:
		return ErrorList{e}
	default:
		return ErrorList{NewInternalError(err.Error())}
	}
}

// RESTCONFStatus realizes spec.md §6's HTTP-to-error mapping table as a
// single authoritative lookup, even though the HTTP gateway is out of
// scope for this repository. It maps error-tags only: 405, 406 and 415
// have no error-tag here and are never returned.
func (e *Error) RESTCONFStatus() int {
	switch e.Tag {
	case TagInvalidValue, TagBadElement, TagBadAttribute, TagUnknownNamespace:
		return 400
	case TagMissingAttribute, TagMissingElement, TagUnknownAttribute, TagUnknownElement:
		return 400
	case TagAccessDenied:
		if e.Kind == KindUnauthenticated {
			return 401
		}
		return 403
	case TagInUse, TagDataExists:
		return 409
	case TagLockDenied:
		return 412
	case TagDataMissing:
		return 404
	case TagOperationNotSupported:
		return 501
	case TagTooBig:
		return 413
	case TagRollbackFailed, TagOperationFailed, TagPartialOperation:
		return 500
	case TagMalformedMessage:
		return 400
	default:
		return 500
	}
}
