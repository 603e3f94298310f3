// Package streamsvc is the `rpc_framework_type: thallium` adapter. No Go
// binding for thallium (Mercury/Argobots RPC) exists anywhere in the
// pack or the wider ecosystem, so this stands in for it with a fasthttp
// listener speaking the same (op, payload) envelope as rpc/grpcsvc,
// dispatching through the identical rpc.Dispatch op switch (§9 Open
// Question decision, recorded in DESIGN.md). Every request is a POST
// with a JSON body {"op": ..., "payload": ...}; the response body is
// either the JSON-encoded result or {"error": "..."} with a matching
// HTTP status.
package streamsvc

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/rpc"
	"github.com/OpenFAM/OpenFAM-sub004/xlog"
)

// Adapter serves every rpc.Service operation over a single fasthttp
// endpoint, mirroring grpcsvc's single-method-many-ops shape.
type Adapter struct {
	svc rpc.Service
}

// New wraps svc for fasthttp serving.
func New(svc rpc.Service) *Adapter { return &Adapter{svc: svc} }

// ListenAndServe blocks serving RPCs on addr until the listener fails.
func (a *Adapter) ListenAndServe(addr string) error {
	server := &fasthttp.Server{
		Handler: a.handle,
		Name:    "openfam-memserverd",
	}
	return server.ListenAndServe(addr)
}

type wireRequest struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wireError struct {
	Error string `json:"error"`
}

func (a *Adapter) handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		ctx.SetStatusCode(fasthttp.StatusMethodNotAllowed)
		return
	}

	var req wireRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, cmn.NewError(cmn.InvalidArgument, "streamsvc: malformed request body"))
		return
	}

	result, err := rpc.Dispatch(ctx, a.svc, req.Op, req.Payload)
	if err != nil {
		writeError(ctx, statusFor(err), err)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, err)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, err error) {
	xlog.Warningf("streamsvc: %v", err)
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, _ := json.Marshal(wireError{Error: err.Error()})
	ctx.SetBody(body)
}

func statusFor(err error) int {
	switch cmn.KindOf(err) {
	case cmn.NotFound:
		return fasthttp.StatusNotFound
	case cmn.AlreadyExists:
		return fasthttp.StatusConflict
	case cmn.NoPermission:
		return fasthttp.StatusForbidden
	case cmn.OutOfRange:
		return fasthttp.StatusRequestedRangeNotSatisfiable
	case cmn.InvalidArgument:
		return fasthttp.StatusBadRequest
	case cmn.Unimplemented:
		return fasthttp.StatusNotImplemented
	case cmn.FamRPC:
		return fasthttp.StatusServiceUnavailable
	default:
		return fasthttp.StatusInternalServerError
	}
}
