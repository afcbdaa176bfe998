package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rickgao/lighter-data/internal/model"
)

// Account fetches the account snapshot by index. The response is kept
// as an untyped document so the full exchange structure survives the
// round trip to subscribers.
func (c *Client) Account(ctx context.Context, accountIndex int64) (model.Doc, error) {
	query := url.Values{
		"by":    {"index"},
		"value": {strconv.FormatInt(accountIndex, 10)},
	}

	var doc model.Doc
	if err := c.get(ctx, "/api/v1/account", query, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// AccountActiveOrders fetches the resting orders for one market.
func (c *Client) AccountActiveOrders(ctx context.Context, accountIndex int64, marketID int64) ([]model.Doc, error) {
	query := url.Values{
		"account_index": {strconv.FormatInt(accountIndex, 10)},
		"market_id":     {strconv.FormatInt(marketID, 10)},
	}

	var resp struct {
		Orders []model.Doc `json:"orders"`
	}
	if err := c.get(ctx, "/api/v1/accountActiveOrders", query, &resp); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}
