package classifier

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/smartagro/internal/common"
	"github.com/dmitrijs2005/smartagro/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName   = "smartagro.classifier.v1.Classifier"
	predictMethod = "/" + serviceName + "/Predict"
)

// PredictServer is implemented by model backends. The request carries the
// little-endian float32 tensor; its shape arrives in the
// common.TensorShapeMetadataKey metadata entry as "height,width,channels".
// The response lists one probability per label.
type PredictServer interface {
	Predict(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.ListValue, error)
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PredictServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PredictServer).Predict(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc describes the classifier service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*PredictServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "smartagro/classifier/v1/classifier.proto",
}

// RegisterPredictServer registers srv on s.
func RegisterPredictServer(s grpc.ServiceRegistrar, srv PredictServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// GRPCClassifier calls a remote model over gRPC.
type GRPCClassifier struct {
	conn   *grpc.ClientConn
	logger logging.Logger
}

// Dial connects to addr and blocks until the connection is ready or ctx
// ends, so an unreachable model fails at startup rather than per request.
// Without opts the connection is plaintext.
func Dial(ctx context.Context, addr string, l logging.Logger, opts ...grpc.DialOption) (*GRPCClassifier, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("classifier client: %w", err)
	}

	conn.Connect()
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			break
		}
		if !conn.WaitForStateChange(ctx, state) {
			_ = conn.Close()
			return nil, fmt.Errorf("classifier %s unreachable (last state %s): %w", addr, state, ctx.Err())
		}
	}

	return &GRPCClassifier{conn: conn, logger: l.With("module", "classifier")}, nil
}

func (c *GRPCClassifier) Classify(ctx context.Context, in Input) (Prediction, error) {
	if in.Tensor == nil {
		return Prediction{}, fmt.Errorf("%w: no tensor", common.ErrClassificationFailed)
	}

	shape := in.Tensor.Shape()
	ctx = metadata.AppendToOutgoingContext(ctx,
		common.TensorShapeMetadataKey, fmt.Sprintf("%d,%d,%d", shape[0], shape[1], shape[2]))

	out := &structpb.ListValue{}
	if err := c.conn.Invoke(ctx, predictMethod, wrapperspb.Bytes(in.Tensor.Bytes()), out); err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", common.ErrClassificationFailed, err)
	}

	probs := make([]float64, len(out.GetValues()))
	for i, v := range out.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return Prediction{}, fmt.Errorf("%w: non-numeric probability at %d", common.ErrClassificationFailed, i)
		}
		probs[i] = n.NumberValue
	}

	p, err := FromProbabilities(probs)
	if err != nil {
		return Prediction{}, err
	}
	c.logger.Debug(ctx, "classified", "image", in.ImageRef, "label", p.Label, "confidence", p.Confidence)
	return p, nil
}

// Close releases the connection.
func (c *GRPCClassifier) Close() error {
	return c.conn.Close()
}
