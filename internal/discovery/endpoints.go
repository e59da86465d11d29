package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/cascadeview/backend/internal/logging"
	"github.com/cascadeview/backend/internal/types"
)

// Enumerator produces candidate target descriptors for one scan cycle.
type Enumerator interface {
	Enumerate(ctx context.Context) []types.TargetDescriptor
}

// PortEnumerator walks a loopback port range and collects target
// descriptors from each responding debugging endpoint. A silent port is
// simply an empty contribution, never a cycle failure.
type PortEnumerator struct {
	client    *retryablehttp.Client
	host      string
	portStart int
	portEnd   int
	log       *logging.Logger
}

// NewPortEnumerator creates an enumerator over [portStart, portEnd].
func NewPortEnumerator(host string, portStart, portEnd int, log *logging.Logger) *PortEnumerator {
	if log == nil {
		log = logging.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 300 * time.Millisecond
	client.HTTPClient.Timeout = 2 * time.Second
	client.Logger = nil

	return &PortEnumerator{
		client:    client,
		host:      host,
		portStart: portStart,
		portEnd:   portEnd,
		log:       log,
	}
}

// Enumerate fetches /json/list from every port in the range. Failures
// are tolerated per endpoint.
func (e *PortEnumerator) Enumerate(ctx context.Context) []types.TargetDescriptor {
	var out []types.TargetDescriptor
	for port := e.portStart; port <= e.portEnd; port++ {
		if ctx.Err() != nil {
			break
		}
		descs, err := e.fetch(ctx, port)
		if err != nil {
			e.log.Debug("endpoint yielded nothing", zap.Int("port", port), zap.Error(err))
			continue
		}
		out = append(out, descs...)
	}
	return out
}

func (e *PortEnumerator) fetch(ctx context.Context, port int) ([]types.TargetDescriptor, error) {
	url := fmt.Sprintf("http://%s:%d/json/list", e.host, port)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var descs []types.TargetDescriptor
	if err := sonic.Unmarshal(body, &descs); err != nil {
		return nil, fmt.Errorf("malformed target list: %w", err)
	}

	for i := range descs {
		descs[i].Port = port
	}
	return descs, nil
}
