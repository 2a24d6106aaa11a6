package detection

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"sentinel-edge-go/internal/models"
)

const testMethod = "/sentinel.detection.v1.Detector/Detect"

func startDetector(t *testing.T, handle func(*structpb.Struct) (*structpb.Struct, error)) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "sentinel.detection.v1.Detector",
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Detect",
			Handler: func(_ interface{}, _ context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return handle(in)
			},
		}},
	}, struct{}{})

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestDetectDecodesPredictions(t *testing.T) {
	var seen *structpb.Struct
	conn := startDetector(t, func(in *structpb.Struct) (*structpb.Struct, error) {
		seen = in
		return structpb.NewStruct(map[string]interface{}{
			"detections": []interface{}{
				map[string]interface{}{"class_id": 6.0, "confidence": 0.91, "bbox": []interface{}{10.0, 20.0, 30.0, 40.0}},
				map[string]interface{}{"class_id": 0.0, "confidence": 0.55, "bbox": []interface{}{1.0, 2.0, 3.0, 4.0}},
			},
		})
	})

	client := NewClientConn(conn, testMethod, 0)
	preds, err := client.Detect(context.Background(), &models.ModelInput{
		FrameSequence: 12,
		Data:          []byte{0xff, 0xd8},
		Encoding:      "jpeg",
		Width:         640,
		Height:        640,
	})
	require.NoError(t, err)
	require.Len(t, preds, 2)

	assert.Equal(t, 6, preds[0].ClassID)
	assert.InDelta(t, 0.91, preds[0].Confidence, 1e-9)
	assert.Equal(t, models.BoundingBox{X1: 10, Y1: 20, X2: 30, Y2: 40}, preds[0].Box)

	require.NotNil(t, seen)
	assert.Equal(t, 12.0, seen.GetFields()["frame_seq"].GetNumberValue())
	assert.Equal(t, "/9g=", seen.GetFields()["image"].GetStringValue())
	assert.True(t, client.IsConnected())
}

func TestDetectRejectsMalformedResponse(t *testing.T) {
	conn := startDetector(t, func(*structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]interface{}{
			"detections": []interface{}{
				map[string]interface{}{"class_id": 1.0, "confidence": 0.9, "bbox": []interface{}{1.0, 2.0}},
			},
		})
	})

	_, err := NewClientConn(conn, testMethod, 0).Detect(context.Background(), &models.ModelInput{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDetectEmptyResult(t *testing.T) {
	conn := startDetector(t, func(*structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]interface{}{"detections": []interface{}{}})
	})

	preds, err := NewClientConn(conn, testMethod, 0).Detect(context.Background(), &models.ModelInput{})
	require.NoError(t, err)
	assert.Empty(t, preds)
}

func TestDetectUnknownMethodFails(t *testing.T) {
	conn := startDetector(t, func(*structpb.Struct) (*structpb.Struct, error) {
		return &structpb.Struct{}, nil
	})

	client := NewClientConn(conn, "/sentinel.detection.v1.Detector/Missing", 0)
	_, err := client.Detect(context.Background(), &models.ModelInput{})
	assert.Error(t, err)
}

func TestParseGRPCEndpoint(t *testing.T) {
	cases := []struct {
		in     string
		target string
		tls    bool
	}{
		{"localhost:50051", "localhost:50051", false},
		{"models.example.com", "models.example.com:443", true},
		{"models.example.com:8443", "models.example.com:8443", true},
		{"http://10.0.0.5", "10.0.0.5:80", false},
		{"https://models.example.com:9000", "models.example.com:9000", true},
	}
	for _, tc := range cases {
		target, creds, err := parseGRPCEndpoint(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.target, target, tc.in)
		assert.Equal(t, tc.tls, creds.Info().SecurityProtocol == "tls", tc.in)
	}

	_, _, err := parseGRPCEndpoint("ftp://models")
	assert.Error(t, err)
	_, _, err = parseGRPCEndpoint("")
	assert.Error(t, err)
}
