package services

import (
	"sync/atomic"
	"time"
)

// HubMetrics tracks hub statistics using atomic counters
type HubMetrics struct {
	ConnectedClients atomic.Int32
	EventsPublished  atomic.Int64
	MessagesSent     atomic.Int64
	MessagesReceived atomic.Int64
	ClientsDropped   atomic.Int64
	StartTime        time.Time
}

func NewHubMetrics() *HubMetrics {
	return &HubMetrics{StartTime: time.Now()}
}

// HubMetricsSnapshot is a point-in-time copy of the hub counters
type HubMetricsSnapshot struct {
	ConnectedClients int32  `json:"connected_clients"`
	EventsPublished  int64  `json:"events_published"`
	MessagesSent     int64  `json:"messages_sent"`
	MessagesReceived int64  `json:"messages_received"`
	ClientsDropped   int64  `json:"clients_dropped"`
	Uptime           string `json:"uptime"`
}

// Snapshot returns the current counter values
func (m *HubMetrics) Snapshot() HubMetricsSnapshot {
	return HubMetricsSnapshot{
		ConnectedClients: m.ConnectedClients.Load(),
		EventsPublished:  m.EventsPublished.Load(),
		MessagesSent:     m.MessagesSent.Load(),
		MessagesReceived: m.MessagesReceived.Load(),
		ClientsDropped:   m.ClientsDropped.Load(),
		Uptime:           time.Since(m.StartTime).Round(time.Second).String(),
	}
}
