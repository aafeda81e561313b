package models

import (
	"errors"
	"strings"
)

// OrderEvent is the trigger payload announcing that a new order was created.
type OrderEvent struct {
	OrderID      string `json:"orderId"`
	CustomerName string `json:"customerName"`
}

var (
	ErrMissingOrderID      = errors.New("orderId is required")
	ErrMissingCustomerName = errors.New("customerName is required")
)

// Validate reports the first missing required field.
func (e OrderEvent) Validate() error {
	if strings.TrimSpace(e.OrderID) == "" {
		return ErrMissingOrderID
	}
	if strings.TrimSpace(e.CustomerName) == "" {
		return ErrMissingCustomerName
	}
	return nil
}

// Variables exposes the event fields to the notification templates.
func (e OrderEvent) Variables() map[string]interface{} {
	return map[string]interface{}{
		"order_id":      e.OrderID,
		"customer_name": e.CustomerName,
	}
}
