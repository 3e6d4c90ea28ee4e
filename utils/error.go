// Copyright 2021 hardcore-os Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License")
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package utils

import (
	"fmt"
	"io/fs"

	"github.com/pkg/errors"
)

// ErrorCode 错误码，数值稳定，可以持久化或跨进程传递
type ErrorCode int32

const (
	Success             ErrorCode = 0
	ThreadError         ErrorCode = 1
	InvalidOperation    ErrorCode = 2
	FileNotFound        ErrorCode = 3
	PermissionDenied    ErrorCode = 4
	MetaDataCorrupt     ErrorCode = 5
	RecordHeaderCorrupt ErrorCode = 6
	OpenFailed          ErrorCode = 7
	CloseFailed         ErrorCode = 8
	TruncateFailed      ErrorCode = 9
	SyncFailed          ErrorCode = 10
	StatFailed          ErrorCode = 11
	SeekFailed          ErrorCode = 12
	ReadFailed          ErrorCode = 13
	WriteFailed         ErrorCode = 14
	MmapFailed          ErrorCode = 15
	LockFailed          ErrorCode = 16
	UnlinkFailed        ErrorCode = 17
	RenameFailed        ErrorCode = 18
	MkdirFailed         ErrorCode = 19
	RmdirFailed         ErrorCode = 20
	KeyAlreadyExists    ErrorCode = 21
	RecordNotFound      ErrorCode = 22
	Miscellaneous       ErrorCode = 9999
)

var errMessages = map[ErrorCode]string{
	Success:             "success",
	ThreadError:         "threading error",
	InvalidOperation:    "invalid operation",
	FileNotFound:        "file not found",
	PermissionDenied:    "no permission",
	MetaDataCorrupt:     "invalid meta data",
	RecordHeaderCorrupt: "invalid record header",
	OpenFailed:          "open error",
	CloseFailed:         "close error",
	TruncateFailed:      "trunc error",
	SyncFailed:          "sync error",
	StatFailed:          "stat error",
	SeekFailed:          "seek error",
	ReadFailed:          "read error",
	WriteFailed:         "write error",
	MmapFailed:          "mmap error",
	LockFailed:          "lock error",
	UnlinkFailed:        "unlink error",
	RenameFailed:        "rename error",
	MkdirFailed:         "mkdir error",
	RmdirFailed:         "rmdir error",
	KeyAlreadyExists:    "existing record",
	RecordNotFound:      "no record found",
	Miscellaneous:       "miscellaneous error",
}

// ErrMsg 根据错误码返回可读的错误信息
func ErrMsg(code ErrorCode) string {
	if msg, ok := errMessages[code]; ok {
		return msg
	}
	return "unknown error"
}

func (c ErrorCode) String() string {
	return ErrMsg(c)
}

// Error carries an ErrorCode and, optionally, the cause that produced it.
// Two errors are equal under errors.Is when their codes match.
type Error struct {
	Code  ErrorCode
	cause error
}

// NewError _
func NewError(code ErrorCode, cause error) *Error {
	return &Error{Code: code, cause: cause}
}

// Errorf builds an Error whose cause is a formatted message with a stack trace.
func Errorf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, cause: errors.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.cause)
}

// Cause lets errors.Cause reach the underlying error.
func (e *Error) Cause() error {
	return e.cause
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrInvalid is returned for calls made in the wrong lifecycle state or with bad arguments.
	ErrInvalid = &Error{Code: InvalidOperation}
	// ErrNoRecord is returned when a key isn't found.
	ErrNoRecord = &Error{Code: RecordNotFound}
	// ErrKeep is returned by PutKeep when the key already exists.
	ErrKeep = &Error{Code: KeyAlreadyExists}
	// ErrMeta is returned when a file header can not be decoded.
	ErrMeta = &Error{Code: MetaDataCorrupt}
	// ErrRecordHeader is returned when a record header is damaged.
	ErrRecordHeader = &Error{Code: RecordHeaderCorrupt}
	// ErrLock is returned when the file lock can not be taken.
	ErrLock = &Error{Code: LockFailed}
	// ErrMisc _
	ErrMisc = &Error{Code: Miscellaneous}
)

// CodeOf extracts the ErrorCode from err. nil maps to Success and foreign
// errors map to Miscellaneous.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Miscellaneous
}

// FromOS classifies an error returned by the os package, wrapped or not.
// Missing files and permission problems get their own codes, everything
// else gets code.
func FromOS(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = FileNotFound
	case errors.Is(err, fs.ErrPermission):
		code = PermissionDenied
	}
	return &Error{Code: code, cause: err}
}

// Wrapf annotates err with a message while keeping its code.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Code: Miscellaneous, cause: errors.Wrapf(err, format, args...)}
	}
	if e.cause == nil {
		return &Error{Code: e.Code, cause: errors.Errorf(format, args...)}
	}
	return &Error{Code: e.Code, cause: errors.Wrapf(e.cause, format, args...)}
}

// Panic 如果err 不为nil 则panic
func Panic(err error) {
	if err != nil {
		panic(err)
	}
}

// CondPanic e
func CondPanic(condition bool, err error) {
	if condition {
		Panic(err)
	}
}
