package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/pasture-data/herdsight/internal/vision/video"
)

// Fault codes recorded on failed jobs. The error_message column carries
// "<CODE>: <human message>" so operators can grep the registry for a
// failure class without parsing prose.
const (
	FaultCodecDecode       = "CODEC_DECODE_FAILED"
	FaultUploadInterrupted = "UPLOAD_STREAM_INTERRUPTED"
	FaultProcessorNode     = "PROCESSOR_NODE_FAULT"
	FaultIdentityEngine    = "IDENTITY_ENGINE_FAULT"
	FaultSystem            = "SYSTEM_FAULT"
	FaultCanceled          = "CANCELED"
)

// CodecError reports a source video that could not be opened or decoded.
type CodecError struct {
	Path string
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("unrecognized video format or corruption: %s", e.Path)
}

func (e *CodecError) Unwrap() error { return e.Err }

// StorageError reports a failure to persist an uploaded or intermediate
// byte stream. Distinct from database faults, which classify as system
// faults.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// DetectorBackendUnavailable reports that the neural detector backend
// could not be initialized. It is recoverable: the pipeline falls back
// to the classical detector and records a warning on the job instead of
// failing it.
type DetectorBackendUnavailable struct {
	Err error
}

func (e *DetectorBackendUnavailable) Error() string {
	return fmt.Sprintf("neural detector backend unavailable: %v", e.Err)
}

func (e *DetectorBackendUnavailable) Unwrap() error { return e.Err }

// ProcessingFault reports a detector or tracker failure on a specific
// frame that the job cannot recover from.
type ProcessingFault struct {
	Frame int
	Err   error
}

func (e *ProcessingFault) Error() string {
	return fmt.Sprintf("frame %d processing fault: %v", e.Frame, e.Err)
}

func (e *ProcessingFault) Unwrap() error { return e.Err }

// IdentityResolutionFault reports a re-identification engine failure.
// It fails the job, not the process.
type IdentityResolutionFault struct {
	TrackID int
	Err     error
}

func (e *IdentityResolutionFault) Error() string {
	return fmt.Sprintf("identity resolution fault on track %d: %v", e.TrackID, e.Err)
}

func (e *IdentityResolutionFault) Unwrap() error { return e.Err }

// Classify maps an error to its fault code. Unrecognized errors are
// system faults.
func Classify(err error) string {
	var (
		codec    *CodecError
		decode   *video.DecodeError
		storage  *StorageError
		proc     *ProcessingFault
		identity *IdentityResolutionFault
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return FaultCanceled
	case errors.As(err, &codec), errors.As(err, &decode):
		return FaultCodecDecode
	case errors.As(err, &storage):
		return FaultUploadInterrupted
	case errors.As(err, &proc):
		return FaultProcessorNode
	case errors.As(err, &identity):
		return FaultIdentityEngine
	default:
		return FaultSystem
	}
}

// FaultMessage renders the error_message stored on a failed job.
func FaultMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Sprintf("%s: processing canceled before completion", FaultCanceled)
	}
	return fmt.Sprintf("%s: %v", Classify(err), err)
}
