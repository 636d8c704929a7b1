// internal/clients/loyalty_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// LoyaltyClient awards points over the loyalty service's HTTP surface. It
// satisfies the promotions service's LoyaltyAccrual.
type LoyaltyClient struct {
	baseURL string
}

func NewLoyaltyClient(baseURL string) *LoyaltyClient {
	return &LoyaltyClient{baseURL: baseURL}
}

func (c *LoyaltyClient) AwardOrderPoints(ctx context.Context, customerID uuid.UUID, points int64, orderID uuid.UUID) error {
	accrualReq := struct {
		Points  int64     `json:"points"`
		OrderID uuid.UUID `json:"order_id"`
	}{
		Points:  points,
		OrderID: orderID,
	}

	body, err := json.Marshal(accrualReq)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/loyalty/%s/accruals", c.baseURL, customerID), bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}
