package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proofanchor/anchoring/failure"
	core "proofanchor/ingestion/service/core"
	"proofanchor/storage/store"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server implements ProofAnchorServer on top of the core service. Pipeline
// failures are returned in-band as {"ok": false, "error": CODE, ...}; only
// unexpected faults become gRPC errors.
type Server struct {
	svc    *core.Service
	logger *logrus.Entry
}

// NewServer creates a new gRPC Server instance
func NewServer(s *core.Service, l *logrus.Entry) *Server {
	return &Server{svc: s, logger: l}
}

// NewGRPCServer builds a grpc.Server with request logging and the proof service registered
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	gs := grpc.NewServer(opts...)
	RegisterProofAnchorServer(gs, s)
	return gs
}

// InitProof runs the full pipeline before responding
func (s *Server) InitProof(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "failed to encode request: %v", err)
	}
	req, f := core.ParseProofRequest(body)
	if f != nil {
		return failureStruct(f, nil)
	}

	res, err := s.svc.InitProof(ctx, req)
	if err != nil {
		s.logger.Errorf("gRPC Server: InitProof for %s failed unexpectedly: %v", req.TxSignature, err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	if !res.OK {
		var proof *store.AnchoredProof
		if res.Failure.Code == failure.PersistFailed {
			proof = res.Proof
		}
		return failureStruct(res.Failure, proof)
	}
	out, err := toMap(res.Proof)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out["ok"] = true
	return newStruct(out)
}

// RetrieveProofs lists a wallet's proofs, newest first
func (s *Server) RetrieveProofs(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "failed to encode request: %v", err)
	}
	wallet, f := core.ParseWallet(body)
	if f != nil {
		return failureStruct(f, nil)
	}
	proofs, f, err := s.svc.RetrieveProofs(ctx, wallet)
	if err != nil {
		s.logger.Errorf("gRPC Server: RetrieveProofs failed: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	if f != nil {
		return failureStruct(f, nil)
	}
	list := make([]interface{}, 0, len(proofs))
	for _, p := range proofs {
		m, err := toMap(p)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		list = append(list, m)
	}
	return newStruct(map[string]interface{}{"ok": true, "proofs": list})
}

// SubmitProof queues a request for asynchronous anchoring
func (s *Server) SubmitProof(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	body, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "failed to encode request: %v", err)
	}
	req, f := core.ParseProofRequest(body)
	if f != nil {
		return failureStruct(f, nil)
	}
	result, err := s.svc.SubmitProof(ctx, req)
	if errors.Is(err, core.ErrAsyncDisabled) {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return newStruct(map[string]interface{}{
		"ok":         true,
		"requestId":  result.RequestID,
		"receivedAt": result.ReceivedAt.Format(time.RFC3339Nano),
		"status":     store.StatusReceived,
	})
}

func (s *Server) loggingInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	entry := s.logger.WithFields(logrus.Fields{
		"method":   info.FullMethod,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		entry.WithField("code", status.Code(err).String()).Warnf("gRPC Server: call failed: %v", err)
	} else {
		entry.Debug("gRPC Server: call completed")
	}
	return resp, err
}

func failureStruct(f *failure.Error, proof *store.AnchoredProof) (*structpb.Struct, error) {
	out := map[string]interface{}{
		"ok":      false,
		"error":   string(f.Code),
		"message": f.Message,
	}
	if len(f.Logs) > 0 {
		logs := make([]interface{}, len(f.Logs))
		for i, l := range f.Logs {
			logs[i] = l
		}
		out["logs"] = logs
	}
	if proof != nil {
		m, err := toMap(proof)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		out["proof"] = m
	}
	return newStruct(out)
}

// toMap renders v through its JSON tags so both surfaces share field names
func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return m, nil
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to build response: %v", err)
	}
	return st, nil
}

var _ ProofAnchorServer = (*Server)(nil)
