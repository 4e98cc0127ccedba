package gateway

import (
	"encoding/json"

	"github.com/classpulse/telemetry-pipeline/internal/reconciler"
)

// batchRequest defers decoding of the individual items so one malformed
// event (bad JSON, unparseable timestamp) is rejected on its own instead
// of aborting its siblings.
type batchRequest struct {
	Events []json.RawMessage `json:"events"`
}

type itemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type batchResponse struct {
	Accepted int         `json:"accepted"`
	Rejected []itemError `json:"rejected,omitempty"`
}

func newBatchResponse(accepted int, rejected []itemError, result reconciler.BatchResult, indexMap []int) batchResponse {
	resp := batchResponse{
		Accepted: accepted + result.Accepted,
		Rejected: rejected,
	}
	for _, f := range result.Failures {
		resp.Rejected = append(resp.Rejected, itemError{
			Index: indexMap[f.Index],
			Error: f.Error,
		})
	}
	return resp
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}
