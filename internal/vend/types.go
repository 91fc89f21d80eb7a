package vend

import (
	"errors"
	"fmt"
	"time"
)

// Consignment is a remote consignment resource
type Consignment struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OutletID       string `json:"outlet_id"`
	SourceOutletID string `json:"source_outlet_id"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	Version        int64  `json:"version"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// ConsignmentProduct is a line item on a remote consignment
type ConsignmentProduct struct {
	ProductID string  `json:"product_id"`
	Count     int     `json:"count"`
	Cost      float64 `json:"cost"`
	Received  *int    `json:"received,omitempty"`
}

// Product is a remote product resource
type Product struct {
	ID     string `json:"id"`
	SKU    string `json:"sku"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Webhook is a remote webhook subscription
type Webhook struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

// ConsignmentRequest is the create/update payload for a remote consignment
type ConsignmentRequest struct {
	Name           string `json:"name"`
	OutletID       string `json:"outlet_id"`
	SourceOutletID string `json:"source_outlet_id"`
	Type           string `json:"type"`
	Status         string `json:"status"`
}

// listEnvelope is the paged response wrapper the platform returns
type listEnvelope[T any] struct {
	Data []T `json:"data"`
}

// dataEnvelope is the single-resource response wrapper
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

// APIError is a typed outcome for a failed call. Callers branch on
// Retryable and StatusCode instead of parsing error text.
type APIError struct {
	StatusCode int
	Body       string
	RequestID  string
	Elapsed    time.Duration
	Retryable  bool
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("vend API error: HTTP %d (request %s): %s", e.StatusCode, e.RequestID, e.Body)
}

// IsRetryable reports whether the error is a transient API failure worth
// retrying at the job level.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	// Transport-level failures without a typed response are transient.
	return err != nil
}
