// Package grpcsvc is the `rpc_framework_type: grpc` adapter (§6, §9): one
// generic grpc method carries an op name plus a JSON-encoded payload
// inside a real protobuf message (wrapperspb.BytesValue) and hands it to
// rpc.Dispatch. This repo's build environment has no protoc available to
// generate a dedicated .proto per operation, so the wire envelope is
// intentionally generic rather than one RPC method per operation; every
// operation is still reached, typed, and dispatched through the same
// rpc.Service trait a hand-generated stub would call into (documented in
// DESIGN.md). The op switch itself lives in package rpc so rpc/streamsvc
// can share it verbatim.
package grpcsvc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/OpenFAM/OpenFAM-sub004/cmn"
	"github.com/OpenFAM/OpenFAM-sub004/rpc"
)

// Adapter registers one grpc service exposing every rpc.Service
// operation through a single generic Invoke method (see the package doc
// comment for why).
type Adapter struct {
	svc rpc.Service
}

// New wraps svc for grpc registration.
func New(svc rpc.Service) *Adapter { return &Adapter{svc: svc} }

// Register attaches the adapter's service descriptor to s.
func (a *Adapter) Register(s *grpc.Server) {
	s.RegisterService(&serviceDesc, a)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "openfam.MemServer",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "memserver.proto",
}

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	a := srv.(*Adapter)
	out, err := a.invoke(ctx, in.Value)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(out), nil
}

type envelope struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (a *Adapter) invoke(ctx context.Context, raw []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, status.Error(codes.InvalidArgument, "grpcsvc: malformed envelope")
	}
	result, err := rpc.Dispatch(ctx, a.svc, env.Op, env.Payload)
	if err != nil {
		return nil, toGRPCStatus(err)
	}
	return json.Marshal(result)
}

func toGRPCStatus(err error) error {
	switch cmn.KindOf(err) {
	case cmn.NotFound:
		return status.Error(codes.NotFound, err.Error())
	case cmn.AlreadyExists:
		return status.Error(codes.AlreadyExists, err.Error())
	case cmn.NoPermission:
		return status.Error(codes.PermissionDenied, err.Error())
	case cmn.OutOfRange:
		return status.Error(codes.OutOfRange, err.Error())
	case cmn.InvalidArgument:
		return status.Error(codes.InvalidArgument, err.Error())
	case cmn.Unimplemented:
		return status.Error(codes.Unimplemented, err.Error())
	case cmn.FamRPC:
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
