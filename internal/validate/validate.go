// Package validate checks RPC inputs at the transport boundary before
// they reach the registry, shard, checkpoint, or barrier packages —
// those packages trust their callers and do not re-validate.
//
// Grounded on manik23-learn_go's learn-grpc server/validations.go: small,
// independent validation functions returning a single error each, called
// from an interceptor/middleware layer before the handler runs.
package validate

import (
	"regexp"
	"strings"

	"github.com/syrilj/strata/internal/strataerr"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

const (
	// MaxWorkerIDLength is spec.md §3's bound for worker identifiers.
	MaxWorkerIDLength = 128
	// MaxDatasetIDLength is spec.md §3's bound for dataset identifiers —
	// wider than a worker ID, since dataset IDs often encode a path-like
	// name.
	MaxDatasetIDLength = 256

	maxPathLength     = 4096
	maxMetadataCount  = 64
	maxMetadataKeyLen = 128
	maxMetadataValLen = 1024
)

// ID validates an identifier against maxLen and the shared
// [A-Za-z0-9_.-] charset. Callers pick the bound for their field — see
// WorkerID and DatasetID.
func ID(field, value string, maxLen int) error {
	if value == "" {
		return strataerr.New(strataerr.InvalidArgument, "validate.ID", "%s is required", field)
	}
	if len(value) > maxLen {
		return strataerr.New(strataerr.InvalidArgument, "validate.ID", "%s exceeds %d characters", field, maxLen)
	}
	if !idPattern.MatchString(value) {
		return strataerr.New(strataerr.InvalidArgument, "validate.ID", "%s contains characters outside [A-Za-z0-9_.-]", field)
	}
	return nil
}

// WorkerID validates a worker identifier against spec.md §3's 128-char bound.
func WorkerID(field, value string) error {
	return ID(field, value, MaxWorkerIDLength)
}

// DatasetID validates a dataset identifier against spec.md §3's 256-char
// bound.
func DatasetID(field, value string) error {
	return ID(field, value, MaxDatasetIDLength)
}

// Path validates a filesystem path submitted by a client, rejecting
// traversal attempts and embedded NUL bytes.
func Path(field, value string) error {
	if value == "" {
		return strataerr.New(strataerr.InvalidArgument, "validate.Path", "%s is required", field)
	}
	if len(value) > maxPathLength {
		return strataerr.New(strataerr.InvalidArgument, "validate.Path", "%s exceeds %d characters", field, maxPathLength)
	}
	if strings.Contains(value, "\x00") {
		return strataerr.New(strataerr.InvalidArgument, "validate.Path", "%s contains a NUL byte", field)
	}
	if strings.Contains(value, "..") {
		return strataerr.New(strataerr.InvalidArgument, "validate.Path", "%s must not contain '..'", field)
	}
	return nil
}

// Metadata validates a client-supplied metadata map's size and per-entry
// bounds.
func Metadata(m map[string]string) error {
	if len(m) > maxMetadataCount {
		return strataerr.New(strataerr.InvalidArgument, "validate.Metadata", "metadata has %d entries, max %d", len(m), maxMetadataCount)
	}
	for k, v := range m {
		if len(k) > maxMetadataKeyLen {
			return strataerr.New(strataerr.InvalidArgument, "validate.Metadata", "metadata key %q exceeds %d characters", k, maxMetadataKeyLen)
		}
		if len(v) > maxMetadataValLen {
			return strataerr.New(strataerr.InvalidArgument, "validate.Metadata", "metadata value for key %q exceeds %d characters", k, maxMetadataValLen)
		}
	}
	return nil
}

// Port validates a TCP port number is in the valid range.
func Port(field string, port int) error {
	if port < 1 || port > 65535 {
		return strataerr.New(strataerr.InvalidArgument, "validate.Port", "%s must be in [1, 65535], got %d", field, port)
	}
	return nil
}

// NonNegative validates an integer field is not negative.
func NonNegative(field string, v int64) error {
	if v < 0 {
		return strataerr.New(strataerr.InvalidArgument, "validate.NonNegative", "%s must be >= 0, got %d", field, v)
	}
	return nil
}
