package detection

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"sentinel-edge-go/internal/models"
)

var (
	ErrNotConnected      = errors.New("detection model not connected")
	ErrBackoff           = errors.New("in backoff period after consecutive failures")
	ErrMalformedResponse = errors.New("malformed detection response")
)

// Model is the detection model boundary: one prepared input in, raw
// predictions in model input coordinates out.
type Model interface {
	Detect(ctx context.Context, input *models.ModelInput) ([]models.RawPrediction, error)
}

// Client calls a remote detection model over gRPC. Requests and responses
// are google.protobuf.Struct messages so no generated stubs are needed.
type Client struct {
	endpoint string
	method   string
	timeout  time.Duration

	mu      sync.RWMutex
	conn    *grpc.ClientConn
	invoker grpc.ClientConnInterface

	// Retry management
	lastFailTime     time.Time
	consecutiveFails int
	maxRetryBackoff  time.Duration
}

// NewClient creates a client for endpoint. The connection is made lazily.
// timeout 0 leaves the call without a deadline.
func NewClient(endpoint, method string, timeout time.Duration) *Client {
	return &Client{
		endpoint:        endpoint,
		method:          method,
		timeout:         timeout,
		maxRetryBackoff: 30 * time.Second,
	}
}

// NewClientConn wraps an existing connection
func NewClientConn(conn grpc.ClientConnInterface, method string, timeout time.Duration) *Client {
	c := NewClient("", method, timeout)
	c.invoker = conn
	if cc, ok := conn.(*grpc.ClientConn); ok {
		c.conn = cc
	}
	return c
}

// Connect establishes the gRPC connection
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.invoker != nil {
		return nil
	}

	target, creds, err := parseGRPCEndpoint(c.endpoint)
	if err != nil {
		return fmt.Errorf("failed to parse model endpoint %s: %w", c.endpoint, err)
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("failed to connect to detection model at %s: %w", target, err)
	}

	c.conn = conn
	c.invoker = conn
	c.consecutiveFails = 0

	log.Info().
		Str("endpoint", target).
		Str("method", c.method).
		Bool("use_tls", creds.Info().SecurityProtocol == "tls").
		Msg("Detection model connection initialized")
	return nil
}

// IsConnected reports whether the connection is usable
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.invoker == nil {
		return false
	}
	if c.conn == nil {
		return true
	}
	state := c.conn.GetState()
	return state == connectivity.Ready || state == connectivity.Idle || state == connectivity.Connecting
}

// Detect sends one model input and decodes the predictions
func (c *Client) Detect(ctx context.Context, input *models.ModelInput) ([]models.RawPrediction, error) {
	invoker, err := c.ensureConnected()
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"frame_seq": float64(input.FrameSequence),
		"encoding":  input.Encoding,
		"width":     float64(input.Width),
		"height":    float64(input.Height),
		"image":     base64.StdEncoding.EncodeToString(input.Data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build detection request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := invoker.Invoke(ctx, c.method, req, resp); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	c.mu.Lock()
	c.consecutiveFails = 0
	c.mu.Unlock()

	return decodePredictions(resp)
}

// Close releases the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invoker = nil
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	log.Info().Msg("Detection model connection closed")
	return err
}

func (c *Client) ensureConnected() (grpc.ClientConnInterface, error) {
	c.mu.RLock()
	invoker := c.invoker
	c.mu.RUnlock()
	if invoker != nil {
		return invoker, nil
	}

	if !c.shouldRetry() {
		return nil, ErrBackoff
	}
	if err := c.Connect(); err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invoker, nil
}

// shouldRetry applies exponential backoff: 1s, 2s, 4s ... capped
func (c *Client) shouldRetry() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.consecutiveFails == 0 {
		return true
	}
	backoff := time.Duration(1<<uint(min(c.consecutiveFails-1, 16))) * time.Second
	if backoff > c.maxRetryBackoff {
		backoff = c.maxRetryBackoff
	}
	return time.Since(c.lastFailTime) >= backoff
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++
	c.lastFailTime = time.Now()

	if c.consecutiveFails <= 5 {
		log.Warn().Int("consecutive_fails", c.consecutiveFails).Msg("Detection model failure recorded")
	}
}

// decodePredictions expects {"detections": [{"class_id", "confidence", "bbox": [x1,y1,x2,y2]}]}
func decodePredictions(resp *structpb.Struct) ([]models.RawPrediction, error) {
	field, ok := resp.GetFields()["detections"]
	if !ok {
		return nil, fmt.Errorf("%w: missing detections", ErrMalformedResponse)
	}
	list := field.GetListValue()
	if list == nil {
		if _, isNull := field.GetKind().(*structpb.Value_NullValue); isNull {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: detections is not a list", ErrMalformedResponse)
	}

	preds := make([]models.RawPrediction, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		obj := v.GetStructValue()
		if obj == nil {
			return nil, fmt.Errorf("%w: detection %d is not an object", ErrMalformedResponse, i)
		}
		fields := obj.GetFields()

		bbox := fields["bbox"].GetListValue().GetValues()
		if len(bbox) != 4 {
			return nil, fmt.Errorf("%w: detection %d bbox has %d values", ErrMalformedResponse, i, len(bbox))
		}
		classID, ok := numberField(fields, "class_id")
		if !ok {
			return nil, fmt.Errorf("%w: detection %d has no class_id", ErrMalformedResponse, i)
		}
		conf, ok := numberField(fields, "confidence")
		if !ok {
			return nil, fmt.Errorf("%w: detection %d has no confidence", ErrMalformedResponse, i)
		}

		preds = append(preds, models.RawPrediction{
			ClassID:    int(classID),
			Confidence: conf,
			Box: models.BoundingBox{
				X1: bbox[0].GetNumberValue(),
				Y1: bbox[1].GetNumberValue(),
				X2: bbox[2].GetNumberValue(),
				Y2: bbox[3].GetNumberValue(),
			},
		})
	}
	return preds, nil
}

func numberField(fields map[string]*structpb.Value, key string) (float64, bool) {
	v, ok := fields[key]
	if !ok {
		return 0, false
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, false
	}
	return v.GetNumberValue(), true
}

// parseGRPCEndpoint normalizes host[:port] or scheme://host[:port] into a
// dial target and transport credentials.
func parseGRPCEndpoint(endpoint string) (string, credentials.TransportCredentials, error) {
	if endpoint == "" {
		return "", nil, errors.New("empty endpoint")
	}

	if !strings.Contains(endpoint, "://") {
		scheme := "https"
		if host, port, found := strings.Cut(endpoint, ":"); found && host != "" {
			if p, err := strconv.Atoi(port); err != nil || (p != 443 && p != 8443 && p != 9443) {
				scheme = "http"
			}
			endpoint = scheme + "://" + endpoint
		} else {
			endpoint = "https://" + endpoint + ":443"
		}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = u.Hostname() + ":443"
		case "http":
			host = u.Hostname() + ":80"
		}
	}

	switch u.Scheme {
	case "https":
		return host, credentials.NewTLS(&tls.Config{ServerName: u.Hostname()}), nil
	case "http":
		return host, insecure.NewCredentials(), nil
	default:
		return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
}
