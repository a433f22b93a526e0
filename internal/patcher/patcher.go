// Package patcher applies RFC 6902 JSON Patch batches to document values.
//
// A batch is applied operation by operation against a working copy of the
// document bytes. The input value is never modified; the caller receives
// either the fully patched value or a *Failure naming the operation that
// stopped the batch.
package patcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// FailureKind classifies why a batch could not be applied.
type FailureKind string

const (
	// FailureTestFailed means a "test" operation compared unequal.
	FailureTestFailed FailureKind = "test_failed"
	// FailurePathNotFound means a pointer referenced a missing location.
	FailurePathNotFound FailureKind = "path_not_found"
	// FailureMalformed means the batch or one of its operations is invalid.
	FailureMalformed FailureKind = "malformed"
)

// Failure describes a batch that was rejected.
type Failure struct {
	Kind FailureKind
	// Index of the failing operation, -1 when the batch itself is malformed.
	Index int
	// Operation is the failing operation as received.
	Operation json.RawMessage
	// Batch is the whole rejected batch as received.
	Batch json.RawMessage
	Err   error
}

func (f *Failure) Error() string {
	if f.Index < 0 {
		return fmt.Sprintf("patch %s: %v", f.Kind, f.Err)
	}
	return fmt.Sprintf("patch operation %d %s: %v", f.Index, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

var (
	errNotArray     = errors.New("patch batch must be an array")
	errTestNoTarget = errors.New("test operation target does not exist")
)

// Apply applies batch to doc and returns the new document bytes.
func Apply(doc []byte, batch json.RawMessage) ([]byte, error) {
	var ops []json.RawMessage
	if err := json.Unmarshal(batch, &ops); err != nil {
		return nil, &Failure{Kind: FailureMalformed, Index: -1, Batch: batch, Err: err}
	}
	if ops == nil {
		return nil, &Failure{Kind: FailureMalformed, Index: -1, Batch: batch, Err: errNotArray}
	}

	patch, err := jsonpatch.DecodePatch(batch)
	if err != nil {
		return nil, &Failure{Kind: FailureMalformed, Index: -1, Batch: batch, Err: err}
	}

	working := doc
	for i, op := range patch {
		if err := checkTestTarget(working, op); err != nil {
			return nil, &Failure{
				Kind:      FailureTestFailed,
				Index:     i,
				Operation: ops[i],
				Batch:     batch,
				Err:       err,
			}
		}

		next, err := jsonpatch.Patch{op}.Apply(working)
		if err != nil {
			return nil, &Failure{
				Kind:      classify(err),
				Index:     i,
				Operation: ops[i],
				Batch:     batch,
				Err:       err,
			}
		}
		working = next
	}

	return working, nil
}

// IsTestFailure reports whether err is a Failure caused by a "test" operation.
func IsTestFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureTestFailed
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, jsonpatch.ErrTestFailed):
		return FailureTestFailed
	case errors.Is(err, jsonpatch.ErrMissing), errors.Is(err, jsonpatch.ErrInvalidIndex):
		return FailurePathNotFound
	default:
		return FailureMalformed
	}
}

// checkTestTarget fails a "test" operation whose path does not exist.
// jsonpatch treats a missing location as equal to null.
func checkTestTarget(doc []byte, op jsonpatch.Operation) error {
	if op.Kind() != "test" {
		return nil
	}
	path, err := op.Path()
	if err != nil {
		return err
	}

	var value interface{}
	if err := json.Unmarshal(doc, &value); err != nil {
		return err
	}
	if !pointerExists(value, path) {
		return fmt.Errorf("%w: %s", errTestNoTarget, path)
	}
	return nil
}

// pointerExists resolves an RFC 6901 pointer against a decoded value.
func pointerExists(value interface{}, pointer string) bool {
	if pointer == "" {
		return true
	}
	if !strings.HasPrefix(pointer, "/") {
		return false
	}

	for _, token := range strings.Split(pointer[1:], "/") {
		token = strings.ReplaceAll(strings.ReplaceAll(token, "~1", "/"), "~0", "~")
		switch node := value.(type) {
		case map[string]interface{}:
			child, ok := node[token]
			if !ok {
				return false
			}
			value = child
		case []interface{}:
			i, err := strconv.Atoi(token)
			if err != nil || i < 0 || i >= len(node) || (len(token) > 1 && token[0] == '0') {
				return false
			}
			value = node[i]
		default:
			return false
		}
	}
	return true
}
