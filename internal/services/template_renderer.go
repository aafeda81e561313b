package services

import (
	"fmt"
	"regexp"

	"github.com/speedwaystore/admin-push/internal/models"
)

const (
	DefaultTitleTemplate = "📦 มีคำสั่งซื้อใหม่!"
	DefaultBodyTemplate  = "ลูกค้า {{customer_name}} ได้ทำการสั่งซื้อสินค้า (Order #{{order_id}})"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// PayloadTemplate holds the title and body templates for order notifications.
type PayloadTemplate struct {
	Title string
	Body  string
}

// DefaultPayloadTemplate returns the built-in new-order templates.
func DefaultPayloadTemplate() PayloadTemplate {
	return PayloadTemplate{Title: DefaultTitleTemplate, Body: DefaultBodyTemplate}
}

// Build renders the payload for event. Empty templates fall back to the defaults.
func (t PayloadTemplate) Build(event models.OrderEvent) *PushPayload {
	title, body := t.Title, t.Body
	if title == "" {
		title = DefaultTitleTemplate
	}
	if body == "" {
		body = DefaultBodyTemplate
	}
	vars := event.Variables()
	return &PushPayload{
		Title: RenderTemplate(title, vars),
		Body:  RenderTemplate(body, vars),
	}
}

// RenderTemplate performs naive moustache-style replacement for {{key}} placeholders.
func RenderTemplate(template string, variables map[string]interface{}) string {
	if template == "" || len(variables) == 0 {
		return template
	}

	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		submatch := placeholderRegex.FindStringSubmatch(match)
		if len(submatch) != 2 {
			return match
		}
		key := submatch[1]
		if value, ok := variables[key]; ok {
			return fmt.Sprint(value)
		}
		return match
	})
}
