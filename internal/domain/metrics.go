package domain

import "time"

// MetricsQuery selects a window and optional breakdown filters for
// aggregated delivery metrics.
type MetricsQuery struct {
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	ProviderID  string    `json:"provider_id,omitempty"`
	MessageType string    `json:"message_type,omitempty"`
	Category    string    `json:"category,omitempty"`
}

// EmailMetrics aggregates delivery outcomes over a window.
type EmailMetrics struct {
	Sent         int64   `json:"sent"`
	Delivered    int64   `json:"delivered"`
	Failed       int64   `json:"failed"`
	Bounced      int64   `json:"bounced"`
	Complained   int64   `json:"complained"`
	Opened       int64   `json:"opened"`
	Clicked      int64   `json:"clicked"`
	Unsubscribed int64   `json:"unsubscribed"`
	DeliveryRate float64 `json:"delivery_rate"`
	BounceRate   float64 `json:"bounce_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
}

// ComputeRates fills the derived rate fields from the raw counters.
func (m *EmailMetrics) ComputeRates() {
	if m.Sent > 0 {
		m.DeliveryRate = float64(m.Delivered) / float64(m.Sent) * 100
		m.BounceRate = float64(m.Bounced) / float64(m.Sent) * 100
	}
	if m.Delivered > 0 {
		m.OpenRate = float64(m.Opened) / float64(m.Delivered) * 100
		m.ClickRate = float64(m.Clicked) / float64(m.Delivered) * 100
	}
}

// ProviderMetrics is EmailMetrics broken down for one provider.
type ProviderMetrics struct {
	ProviderID string       `json:"provider_id"`
	Kind       ProviderKind `json:"kind"`
	EmailMetrics
}

// QueueStats reports durable queue depth for ops dashboards.
type QueueStats struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Scheduled int `json:"scheduled"`
	Retry     int `json:"retry"`
	Failed    int `json:"failed"`
}
