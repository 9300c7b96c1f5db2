package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotifierClient talks to the internal notification/CRM bridge. Calls are
// best effort: callers swallow errors, nothing downstream depends on them.
type NotifierClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewNotifierClient(baseURL string, log *zap.Logger) *NotifierClient {
	return &NotifierClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

type escrowStatusNotification struct {
	EscrowPaymentID string `json:"escrow_payment_id"`
	OldStatus       string `json:"old_status"`
	NewStatus       string `json:"new_status"`
}

func (c *NotifierClient) EscrowStatusChanged(ctx context.Context, escrowPaymentID uuid.UUID, oldStatus, newStatus string) error {
	return c.post(ctx, "/internal/notifications/escrow-status", escrowStatusNotification{
		EscrowPaymentID: escrowPaymentID.String(),
		OldStatus:       oldStatus,
		NewStatus:       newStatus,
	})
}

type bountyStatusNotification struct {
	BountyID  string `json:"bounty_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

func (c *NotifierClient) BountyStatusChanged(ctx context.Context, bountyID uuid.UUID, oldStatus, newStatus string) error {
	return c.post(ctx, "/internal/notifications/bounty-status", bountyStatusNotification{
		BountyID:  bountyID.String(),
		OldStatus: oldStatus,
		NewStatus: newStatus,
	})
}

func (c *NotifierClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notifier unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notifier returned %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
