package service

import (
	"context"
	"fmt"
	"net/http"
)

// CancelOrder снимает ордер. Уже исполненный или снятый ордер (51400/51401/51402) не ошибка.
func (c *Client) CancelOrder(ctx context.Context, symbol, ordID string) error {
	if ordID == "" {
		return fmt.Errorf("empty ordId")
	}
	body := map[string]string{
		"instId": symbol,
		"ordId":  ordID,
	}
	err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", body, true, nil)
	if err != nil && isAlreadyDone(err) {
		return nil
	}
	return err
}
