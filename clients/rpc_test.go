package clients

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type rpcHandler func(params []json.RawMessage) (any, *rpcFault)

type rpcFault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type fakeRPC struct {
	*httptest.Server
	calls atomic.Int64
}

// newFakeRPC serves JSON-RPC 2.0 over HTTP, dispatching on method name.
func newFakeRPC(t *testing.T, handlers map[string]rpcHandler) *fakeRPC {
	t.Helper()

	f := &fakeRPC{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)

		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		h, ok := handlers[req.Method]
		if !ok {
			resp["error"] = rpcFault{Code: -32601, Message: "method not found: " + req.Method}
		} else if result, fault := h(req.Params); fault != nil {
			resp["error"] = fault
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(f.Close)
	return f
}

// newFailingServer always answers with an HTTP 502.
func newFailingServer(t *testing.T) *fakeRPC {
	t.Helper()

	f := &fakeRPC{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(f.Close)
	return f
}

func result(v any) rpcHandler {
	return func([]json.RawMessage) (any, *rpcFault) { return v, nil }
}
