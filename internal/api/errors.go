// Package api provides the FileStation client and its error types.
package api

import (
	"errors"
	"fmt"
)

// ErrSessionExpired means the session could not be confirmed or restored.
// The user has to reconnect; jobs fail with it without retrying.
var ErrSessionExpired = errors.New("session expired, please reconnect")

// ErrUploadToRoot is returned for uploads targeting "/", which is not a share.
var ErrUploadToRoot = errors.New("select a shared folder first, uploading to the root is not possible")

// Kind is the coarse class of an error, used to pick a retry strategy and message.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindProtocol
	KindAuth
	KindSessionExpired
	KindUpload
	KindOperation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindSessionExpired:
		return "session_expired"
	case KindUpload:
		return "upload"
	case KindOperation:
		return "operation"
	default:
		return "unknown"
	}
}

// NetworkError means the NAS could not be reached or the connection broke.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: cannot reach NAS: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError means the NAS answered with something this client cannot read.
type ProtocolError struct {
	Op     string
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: unexpected response: %s: %v", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: unexpected response: %s", e.Op, e.Detail)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AuthReason enumerates login failures.
type AuthReason int

const (
	AuthUnknown AuthReason = iota
	AuthBadCredentials
	AuthAccountDisabled
	AuthPermissionDenied
	AuthOTPRequired
	AuthOTPInvalid
	// AuthVerificationFailed: login succeeded but the session cannot use FileStation
	AuthVerificationFailed
)

// AuthReasonFromCode maps SYNO.API.Auth error codes.
func AuthReasonFromCode(code int) AuthReason {
	switch code {
	case 400:
		return AuthBadCredentials
	case 401:
		return AuthAccountDisabled
	case 402:
		return AuthPermissionDenied
	case 403:
		return AuthOTPRequired
	case 404:
		return AuthOTPInvalid
	default:
		return AuthUnknown
	}
}

func (r AuthReason) String() string {
	switch r {
	case AuthBadCredentials:
		return "wrong account or password"
	case AuthAccountDisabled:
		return "account is disabled"
	case AuthPermissionDenied:
		return "permission denied"
	case AuthOTPRequired:
		return "two-factor authentication code required"
	case AuthOTPInvalid:
		return "two-factor authentication code is wrong"
	case AuthVerificationFailed:
		return "signed in, but the account cannot access File Station"
	default:
		return "login failed"
	}
}

// AuthError is a terminal login failure.
type AuthError struct {
	Reason AuthReason
	Code   int
	Err    error
}

func (e *AuthError) Error() string {
	msg := e.Reason.String()
	if e.Reason == AuthUnknown && e.Code != 0 {
		msg = fmt.Sprintf("%s (error code %d)", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// UploadReason enumerates SYNO.FileStation.Upload failures.
type UploadReason int

const (
	UploadUnknown UploadReason = iota
	UploadSessionNotFound
	UploadNotPermitted
	UploadIncomplete
	UploadTimeout
	UploadNameMissing
	UploadCancelled
	UploadTooLarge
	UploadExistsNoOverwrite
)

// UploadReasonFromCode maps upload error codes.
func UploadReasonFromCode(code int) UploadReason {
	switch code {
	case 106, 107, 119:
		return UploadSessionNotFound
	case 407:
		return UploadNotPermitted
	case 1800:
		return UploadIncomplete
	case 1801:
		return UploadTimeout
	case 1802:
		return UploadNameMissing
	case 1803:
		return UploadCancelled
	case 1804:
		return UploadTooLarge
	case 1805:
		return UploadExistsNoOverwrite
	default:
		return UploadUnknown
	}
}

func (r UploadReason) String() string {
	switch r {
	case UploadSessionNotFound:
		return "session not found, please sign in again"
	case UploadNotPermitted:
		return "operation not permitted, check the folder permissions"
	case UploadIncomplete:
		return "upload data incomplete"
	case UploadTimeout:
		return "upload timed out"
	case UploadNameMissing:
		return "file name missing"
	case UploadCancelled:
		return "upload cancelled"
	case UploadTooLarge:
		return "file too large"
	case UploadExistsNoOverwrite:
		return "file already exists and cannot be overwritten"
	default:
		return "upload failed"
	}
}

// UploadError is a terminal upload failure reported by the NAS.
type UploadError struct {
	Code   int
	Reason UploadReason
}

func (e *UploadError) Error() string {
	if e.Reason == UploadUnknown {
		return fmt.Sprintf("%s (error code %d)", e.Reason, e.Code)
	}
	return e.Reason.String()
}

// FileReason enumerates FileStation list/download failures.
type FileReason int

const (
	FileUnknown FileReason = iota
	FileSessionNotFound
	FileInvalidParameter
	FilePermissionDenied
	FileNotPermitted
	FileNotFound
	FileExists
	FileQuotaExceeded
	FileNoSpace
	FileBusy
	FileIO
	FileIllegalName
)

// FileReasonFromCode maps common and FileStation error codes.
func FileReasonFromCode(code int) FileReason {
	switch code {
	case 106, 107, 119:
		return FileSessionNotFound
	case 101, 120, 400:
		return FileInvalidParameter
	case 105, 403, 404, 405:
		return FilePermissionDenied
	case 407:
		return FileNotPermitted
	case 408:
		return FileNotFound
	case 414:
		return FileExists
	case 415:
		return FileQuotaExceeded
	case 416:
		return FileNoSpace
	case 402, 421:
		return FileBusy
	case 417:
		return FileIO
	case 412, 418, 419, 420:
		return FileIllegalName
	default:
		return FileUnknown
	}
}

func (r FileReason) String() string {
	switch r {
	case FileSessionNotFound:
		return "session not found, please sign in again"
	case FileInvalidParameter:
		return "invalid parameter"
	case FilePermissionDenied:
		return "permission denied"
	case FileNotPermitted:
		return "operation not permitted"
	case FileNotFound:
		return "no such file or directory"
	case FileExists:
		return "file already exists"
	case FileQuotaExceeded:
		return "disk quota exceeded"
	case FileNoSpace:
		return "no space left on the NAS"
	case FileBusy:
		return "NAS is busy, try again later"
	case FileIO:
		return "NAS input/output error"
	case FileIllegalName:
		return "illegal file name or path"
	default:
		return "operation failed"
	}
}

// OperationError is a terminal list or download failure reported by the NAS.
type OperationError struct {
	Op     string
	Code   int
	Reason FileReason
}

// NewOperationError classifies code for op.
func NewOperationError(op string, code int) *OperationError {
	return &OperationError{Op: op, Code: code, Reason: FileReasonFromCode(code)}
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %s (error code %d)", e.Op, e.Reason, e.Code)
}

// IsSessionNotFound reports whether err is the NAS saying the session is gone.
// This is the only operation error that triggers a silent re-login and retry.
func IsSessionNotFound(err error) bool {
	var upErr *UploadError
	if errors.As(err, &upErr) {
		return upErr.Reason == UploadSessionNotFound
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Reason == FileSessionNotFound
	}
	return false
}

// IsAuthError reports whether err is a login failure.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsFileExists reports whether err means the target already exists.
func IsFileExists(err error) bool {
	var upErr *UploadError
	if errors.As(err, &upErr) {
		return upErr.Reason == UploadExistsNoOverwrite
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Reason == FileExists
	}
	return false
}

// KindOf classifies err.
func KindOf(err error) Kind {
	var (
		netErr   *NetworkError
		protoErr *ProtocolError
		authErr  *AuthError
		upErr    *UploadError
		opErr    *OperationError
	)
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrSessionExpired):
		return KindSessionExpired
	case errors.As(err, &authErr):
		return KindAuth
	case errors.As(err, &upErr):
		return KindUpload
	case errors.As(err, &opErr):
		return KindOperation
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &protoErr):
		return KindProtocol
	default:
		return KindUnknown
	}
}

// Describe turns err into the single message shown to the user for op.
func Describe(op string, err error) string {
	if err == nil {
		return op + " succeeded"
	}

	var (
		netErr   *NetworkError
		authErr  *AuthError
		upErr    *UploadError
		opErr    *OperationError
		protoErr *ProtocolError
	)
	switch {
	case errors.Is(err, ErrSessionExpired):
		return fmt.Sprintf("%s failed: session expired, please reconnect", op)
	case errors.As(err, &authErr):
		return fmt.Sprintf("%s failed: %s", op, authErr.Error())
	case errors.As(err, &upErr):
		return fmt.Sprintf("%s failed: %s", op, upErr.Error())
	case errors.As(err, &opErr):
		return fmt.Sprintf("%s failed: %s", op, opErr.Reason)
	case errors.As(err, &netErr):
		return fmt.Sprintf("%s failed: cannot reach the NAS (%v)", op, netErr.Err)
	case errors.As(err, &protoErr):
		return fmt.Sprintf("%s failed: the NAS sent an unexpected response (%s)", op, protoErr.Detail)
	default:
		return fmt.Sprintf("%s failed: %v", op, err)
	}
}
