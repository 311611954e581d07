package api

import (
	"github.com/mattjoyce/courier/internal/channel"
	"github.com/mattjoyce/courier/internal/notify"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string `json:"status"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	Channels        int    `json:"channels"`
	ChannelsEnabled int    `json:"channels_enabled"`
	Templates       int    `json:"templates"`
}

// BulkRequest is the body of POST /notifications/bulk.
type BulkRequest struct {
	Requests []notify.Request `json:"requests"`
}

// BulkResponse carries results in request order.
type BulkResponse struct {
	Results []notify.Result `json:"results"`
	Sent    int             `json:"sent"`
	Failed  int             `json:"failed"`
}

// ChannelsResponse lists channels with secrets masked.
type ChannelsResponse struct {
	Channels []channel.Channel `json:"channels"`
}
