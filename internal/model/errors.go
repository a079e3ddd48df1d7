// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import "fmt"

// Kind enumerates the closed error taxonomy of §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindNodeNotFound
	KindFrameNotFound
	KindHashMismatch
	KindInvalidPath
	KindIoError
	KindUnauthorized
	KindInvalidFrame
	KindFrameMetadataPolicyViolation
	KindProviderError
	KindProviderRequestFailed
	KindProviderAuthFailed
	KindProviderRateLimit
	KindProviderModelNotFound
	KindProviderNotConfigured
	KindConfigError
	KindGenerationFailed
	KindPathNotInTree
)

func (k Kind) String() string {
	switch k {
	case KindNodeNotFound:
		return "NodeNotFound"
	case KindFrameNotFound:
		return "FrameNotFound"
	case KindHashMismatch:
		return "HashMismatch"
	case KindInvalidPath:
		return "InvalidPath"
	case KindIoError:
		return "IoError"
	case KindUnauthorized:
		return "Unauthorized"
	case KindInvalidFrame:
		return "InvalidFrame"
	case KindFrameMetadataPolicyViolation:
		return "FrameMetadataPolicyViolation"
	case KindProviderError:
		return "ProviderError"
	case KindProviderRequestFailed:
		return "ProviderRequestFailed"
	case KindProviderAuthFailed:
		return "ProviderAuthFailed"
	case KindProviderRateLimit:
		return "ProviderRateLimit"
	case KindProviderModelNotFound:
		return "ProviderModelNotFound"
	case KindProviderNotConfigured:
		return "ProviderNotConfigured"
	case KindConfigError:
		return "ConfigError"
	case KindGenerationFailed:
		return "GenerationFailed"
	case KindPathNotInTree:
		return "PathNotInTree"
	default:
		return "Unknown"
	}
}

// Error is the single error type used throughout the system; callers
// distinguish failure modes by inspecting Kind rather than by type-switching
// on distinct error structs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, &Error{Kind: K}) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

func NewNodeNotFound(id NodeID) *Error {
	return newErr(KindNodeNotFound, fmt.Sprintf("node %s not found", id), nil)
}

func NewFrameNotFound(id FrameID) *Error {
	return newErr(KindFrameNotFound, fmt.Sprintf("frame %s not found", id), nil)
}

func NewHashMismatch(expected, actual Hash) *Error {
	return newErr(KindHashMismatch, fmt.Sprintf("expected %s, got %s", expected, actual), nil)
}

func NewInvalidPath(msg string) *Error {
	return newErr(KindInvalidPath, msg, nil)
}

func NewIoError(msg string, err error) *Error {
	return newErr(KindIoError, msg, err)
}

func NewUnauthorized(msg string) *Error {
	return newErr(KindUnauthorized, msg, nil)
}

func NewInvalidFrame(msg string) *Error {
	return newErr(KindInvalidFrame, msg, nil)
}

func NewFrameMetadataPolicyViolation(msg string) *Error {
	return newErr(KindFrameMetadataPolicyViolation, msg, nil)
}

func NewProviderError(kind Kind, msg string, err error) *Error {
	return newErr(kind, msg, err)
}

func NewConfigError(msg string, err error) *Error {
	return newErr(KindConfigError, msg, err)
}

func NewGenerationFailed(msg string) *Error {
	return newErr(KindGenerationFailed, msg, nil)
}

func NewPathNotInTree(path string) *Error {
	return newErr(KindPathNotInTree, fmt.Sprintf("path %q was never scanned", path), nil)
}

// KindOf extracts the Kind of err, if it (or something it wraps) is an
// *Error; otherwise returns KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if asErr, ok := err.(*Error); ok {
			e = asErr
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return KindUnknown
	}
	return e.Kind
}
