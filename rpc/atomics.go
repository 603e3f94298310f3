package rpc

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/OpenFAM/OpenFAM-sub004/atl"
	"github.com/OpenFAM/OpenFAM-sub004/cmn"
)

// atomicPollTimeout bounds how long a get_atomic/put_atomic RPC waits for
// its ATL worker to complete the message before the caller gives up;
// §4.F's worker loop completes FIFO per shard, so under normal load this
// returns almost immediately.
const atomicPollTimeout = 2 * time.Second

func parseWidth(s string) (atl.Width, error) {
	switch s {
	case "int32":
		return atl.WidthInt32, nil
	case "int64":
		return atl.WidthInt64, nil
	case "uint32":
		return atl.WidthUint32, nil
	case "uint64":
		return atl.WidthUint64, nil
	case "float32":
		return atl.WidthFloat32, nil
	case "float64":
		return atl.WidthFloat64, nil
	default:
		return 0, cmn.NewError(cmn.InvalidArgument, "rpc: unknown atomic width %q", s)
	}
}

func decodeClientAddr(req atomicReq) ([]byte, error) {
	if req.ClientAddrBase64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(req.ClientAddrBase64)
}

func dispatchAtomic(svc Service, env envelope, op atl.AtomicOp) (interface{}, error) {
	var req atomicReq
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return nil, cmn.Wrap(err, cmn.InvalidArgument, "rpc: malformed atomic request")
	}
	width, err := parseWidth(req.Width)
	if err != nil {
		return nil, err
	}
	clientAddr, err := decodeClientAddr(req)
	if err != nil {
		return nil, cmn.Wrap(err, cmn.InvalidArgument, "rpc: bad client address")
	}

	msg := &atl.Message{Flag: atl.FlagAtomic, AtomicOp: op, Width: width}
	msg.ClientFabricAddressLen = uint32(copy(msg.ClientFabricAddress[:], clientAddr))
	if req.OperandBase64 != "" {
		operand, err := base64.StdEncoding.DecodeString(req.OperandBase64)
		if err != nil {
			return nil, cmn.Wrap(err, cmn.InvalidArgument, "rpc: bad operand")
		}
		copy(msg.Inline[:], operand)
	}

	if err := svc.PushATL(req.RegionID, req.Offset, msg); err != nil {
		return nil, err
	}
	if err := waitForCompletion(msg); err != nil {
		return nil, err
	}
	return atomicResp{PreviousBase64: base64.StdEncoding.EncodeToString(msg.Inline[:8])}, nil
}

func dispatchBulk(svc Service, env envelope, flag atl.Flag) error {
	var req atomicReq
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return cmn.Wrap(err, cmn.InvalidArgument, "rpc: malformed atomic request")
	}
	clientAddr, err := decodeClientAddr(req)
	if err != nil {
		return cmn.Wrap(err, cmn.InvalidArgument, "rpc: bad client address")
	}
	msg := &atl.Message{
		Flag:            flag,
		ClientMemoryKey: req.ClientMemoryKey,
		Operands: atl.Operands{
			FirstElement: req.FirstElement,
			Stride:       req.Stride,
			ElementSize:  req.ElementSize,
			NElements:    req.NElements,
		},
	}
	msg.ClientFabricAddressLen = uint32(copy(msg.ClientFabricAddress[:], clientAddr))
	if err := svc.PushATL(req.RegionID, req.Offset, msg); err != nil {
		return err
	}
	return waitForCompletion(msg)
}

// waitForCompletion polls a pushed message's flag word until the worker
// marks it FlagWriteCompleted, bounded by atomicPollTimeout — the RPC
// caller needs a synchronous response even though the ATL worker pool
// itself is asynchronous (§4.F).
func waitForCompletion(msg *atl.Message) error {
	deadline := time.Now().Add(atomicPollTimeout)
	for time.Now().Before(deadline) {
		if msg.Flag&atl.FlagWriteCompleted != 0 {
			if msg.Err != nil {
				return cmn.Wrap(msg.Err, cmn.Resource, "rpc: atomic op failed")
			}
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return cmn.NewError(cmn.FamRPC, "rpc: atomic op did not complete in time")
}
