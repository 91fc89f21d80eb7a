package vend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// ListConsignments fetches a page of consignments changed since the given
// cursor position. An empty cursor starts from the beginning.
func (c *APIClient) ListConsignments(ctx context.Context, after string, pageSize int) ([]Consignment, error) {
	endpoint := "/api/2.0/consignments?page_size=" + strconv.Itoa(pageSize)
	if after != "" {
		endpoint += "&after=" + url.QueryEscape(after)
	}
	res, err := c.do(ctx, fiber.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var env listEnvelope[Consignment]
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse consignment list: %w", err)
	}
	return env.Data, nil
}

// GetConsignment fetches a single consignment by its remote ID
func (c *APIClient) GetConsignment(ctx context.Context, id string) (*Consignment, error) {
	res, err := c.do(ctx, fiber.MethodGet, "/api/2.0/consignments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var env dataEnvelope[Consignment]
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse consignment: %w", err)
	}
	return &env.Data, nil
}

// CreateConsignment creates a consignment on the platform
func (c *APIClient) CreateConsignment(ctx context.Context, req *ConsignmentRequest) (*Consignment, error) {
	res, err := c.do(ctx, fiber.MethodPost, "/api/2.0/consignments", req)
	if err != nil {
		return nil, err
	}
	var env dataEnvelope[Consignment]
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse created consignment: %w", err)
	}
	return &env.Data, nil
}

// UpdateConsignment updates a consignment on the platform
func (c *APIClient) UpdateConsignment(ctx context.Context, id string, req *ConsignmentRequest) (*Consignment, error) {
	res, err := c.do(ctx, fiber.MethodPut, "/api/2.0/consignments/"+url.PathEscape(id), req)
	if err != nil {
		return nil, err
	}
	var env dataEnvelope[Consignment]
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse updated consignment: %w", err)
	}
	return &env.Data, nil
}

// DeleteConsignment removes a consignment from the platform
func (c *APIClient) DeleteConsignment(ctx context.Context, id string) error {
	_, err := c.do(ctx, fiber.MethodDelete, "/api/2.0/consignments/"+url.PathEscape(id), nil)
	return err
}

// ListConsignmentProducts fetches the line items of a remote consignment
func (c *APIClient) ListConsignmentProducts(ctx context.Context, consignmentID string) ([]ConsignmentProduct, error) {
	endpoint := "/api/2.0/consignments/" + url.PathEscape(consignmentID) + "/products"
	res, err := c.do(ctx, fiber.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var env listEnvelope[ConsignmentProduct]
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse consignment products: %w", err)
	}
	return env.Data, nil
}

// AddConsignmentProduct adds a line item to a remote consignment
func (c *APIClient) AddConsignmentProduct(ctx context.Context, consignmentID string, p *ConsignmentProduct) error {
	endpoint := "/api/2.0/consignments/" + url.PathEscape(consignmentID) + "/products"
	_, err := c.do(ctx, fiber.MethodPost, endpoint, p)
	return err
}

// RemoveConsignmentProduct removes a line item from a remote consignment
func (c *APIClient) RemoveConsignmentProduct(ctx context.Context, consignmentID, productID string) error {
	endpoint := "/api/2.0/consignments/" + url.PathEscape(consignmentID) + "/products/" + url.PathEscape(productID)
	_, err := c.do(ctx, fiber.MethodDelete, endpoint, nil)
	return err
}

// GetProduct fetches a single product by its remote ID
func (c *APIClient) GetProduct(ctx context.Context, id string) (*Product, error) {
	res, err := c.do(ctx, fiber.MethodGet, "/api/2.0/products/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var env dataEnvelope[Product]
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse product: %w", err)
	}
	return &env.Data, nil
}

// ListWebhooks lists the account's webhook subscriptions
func (c *APIClient) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	res, err := c.do(ctx, fiber.MethodGet, "/api/2.0/webhooks", nil)
	if err != nil {
		return nil, err
	}
	var hooks []Webhook
	if err := json.Unmarshal(res.Body, &hooks); err != nil {
		return nil, fmt.Errorf("failed to parse webhooks: %w", err)
	}
	return hooks, nil
}

// CreateWebhook registers a webhook subscription
func (c *APIClient) CreateWebhook(ctx context.Context, w *Webhook) (*Webhook, error) {
	res, err := c.do(ctx, fiber.MethodPost, "/api/2.0/webhooks", w)
	if err != nil {
		return nil, err
	}
	var created Webhook
	if err := json.Unmarshal(res.Body, &created); err != nil {
		return nil, fmt.Errorf("failed to parse created webhook: %w", err)
	}
	return &created, nil
}

// DeleteWebhook removes a webhook subscription
func (c *APIClient) DeleteWebhook(ctx context.Context, id string) error {
	_, err := c.do(ctx, fiber.MethodDelete, "/api/2.0/webhooks/"+url.PathEscape(id), nil)
	return err
}
