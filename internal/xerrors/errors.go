// Package xerrors implements the error taxonomy described in the reporting
// node's error-handling design: a small set of sentinel kinds that callers
// can test with errors.Is, each mappable to an RPC error code at the
// external boundary.
package xerrors

import "errors"

// Sentinel kinds. Wrap these with fmt.Errorf("...: %w", Kind) at the call
// site to preserve context while keeping errors.Is/As working.
var (
	// Timeout means a backend or upstream RPC exceeded its deadline. Retryable.
	Timeout = errors.New("timeout")

	// BackendUnavailable means the store could not be reached at all.
	// Retryable with backoff; the ETL pauses rather than advancing.
	BackendUnavailable = errors.New("backend unavailable")

	// NotFound is an expected sentinel, e.g. a sequence outside the
	// persisted range. Not logged as an error.
	NotFound = errors.New("not found")

	// UpstreamUnavailable means an upstream peer source could not serve a
	// request; the caller should retry against a different source.
	UpstreamUnavailable = errors.New("upstream unavailable")

	// ParentHashMismatch means the transformer detected a broken hash
	// chain between consecutive ledgers; the caller should refetch.
	ParentHashMismatch = errors.New("parent hash mismatch")

	// WriteConflict means finishWrites observed a tip already advanced by
	// another writer; the ETL should transition to read-only.
	WriteConflict = errors.New("write conflict")

	// InvalidRequest means a backend-interface caller passed a request
	// this repo can reject without talking to storage.
	InvalidRequest = errors.New("invalid request")

	// Fatal marks an invariant violation. Callers log at the highest
	// severity and the process aborts; see xlog.Logger.Fatal.
	Fatal = errors.New("fatal invariant violation")
)

// RPCCode identifies the stable error_code string used in RPC responses.
type RPCCode string

const (
	CodeTimeout             RPCCode = "timeout"
	CodeBackendUnavailable  RPCCode = "backendUnavailable"
	CodeNotFound            RPCCode = "notFound"
	CodeUpstreamUnavailable RPCCode = "upstreamUnavailable"
	CodeInternal            RPCCode = "internal"
	CodeInvalidRequest      RPCCode = "invalidRequest"
)

// AsRPCError maps an error produced anywhere in the core down to the
// (code, message) pair the out-of-scope RPC layer is expected to shape into
// {error, error_code, error_message, status:"error", type:"response"}.
func AsRPCError(err error) (code RPCCode, message string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, Timeout):
		return CodeTimeout, "timeout"
	case errors.Is(err, BackendUnavailable):
		return CodeBackendUnavailable, "backend unavailable"
	case errors.Is(err, NotFound):
		return CodeNotFound, "not found"
	case errors.Is(err, UpstreamUnavailable):
		return CodeUpstreamUnavailable, "upstream unavailable"
	case errors.Is(err, InvalidRequest):
		return CodeInvalidRequest, err.Error()
	default:
		return CodeInternal, "internal error"
	}
}

// Retryable reports whether the ETL/backend-interface retry loops should
// retry the operation that produced err.
func Retryable(err error) bool {
	return errors.Is(err, Timeout) || errors.Is(err, BackendUnavailable) || errors.Is(err, UpstreamUnavailable)
}
