// internal/clients/segments_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// SegmentsClient resolves segment memberships over the segments service's
// HTTP surface. It satisfies the promotions service's SegmentLookup.
type SegmentsClient struct {
	baseURL string
}

func NewSegmentsClient(baseURL string) *SegmentsClient {
	return &SegmentsClient{baseURL: baseURL}
}

func (c *SegmentsClient) SegmentsForCustomer(ctx context.Context, customerID uuid.UUID) ([]uuid.UUID, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/customers/%s/segments", c.baseURL, customerID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body struct {
		SegmentIDs []uuid.UUID `json:"segment_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	return body.SegmentIDs, nil
}
