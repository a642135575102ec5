// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"sync/atomic"
	"time"
)

// Stats tracks relay statistics.
type Stats struct {
	startTime time.Time

	// Connection stats
	totalConnections   atomic.Uint64
	currentConnections atomic.Uint64
	disconnections     atomic.Uint64

	// Message stats
	publishReceived atomic.Uint64
	publishSent     atomic.Uint64

	// Byte stats
	bytesReceived atomic.Uint64
	bytesSent     atomic.Uint64

	// Subscription stats
	subscriptions   atomic.Uint64
	unsubscriptions atomic.Uint64

	// Error stats
	deliveryFailures atomic.Uint64
	validationErrors atomic.Uint64
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Connection tracking.
func (s *Stats) IncrementConnections() {
	s.totalConnections.Add(1)
	s.currentConnections.Add(1)
}

func (s *Stats) DecrementConnections() {
	s.currentConnections.Add(^uint64(0))
	s.disconnections.Add(1)
}

func (s *Stats) GetTotalConnections() uint64 {
	return s.totalConnections.Load()
}

func (s *Stats) GetCurrentConnections() uint64 {
	return s.currentConnections.Load()
}

func (s *Stats) GetDisconnections() uint64 {
	return s.disconnections.Load()
}

// Message tracking.
func (s *Stats) IncrementPublishReceived() {
	s.publishReceived.Add(1)
}

func (s *Stats) IncrementPublishSent() {
	s.publishSent.Add(1)
}

func (s *Stats) GetPublishReceived() uint64 {
	return s.publishReceived.Load()
}

func (s *Stats) GetPublishSent() uint64 {
	return s.publishSent.Load()
}

// Byte tracking.
func (s *Stats) AddBytesReceived(n uint64) {
	s.bytesReceived.Add(n)
}

func (s *Stats) AddBytesSent(n uint64) {
	s.bytesSent.Add(n)
}

func (s *Stats) GetBytesReceived() uint64 {
	return s.bytesReceived.Load()
}

func (s *Stats) GetBytesSent() uint64 {
	return s.bytesSent.Load()
}

// Subscription tracking.
func (s *Stats) IncrementSubscriptions() {
	s.subscriptions.Add(1)
}

func (s *Stats) DecrementSubscriptions() {
	s.subscriptions.Add(^uint64(0))
	s.unsubscriptions.Add(1)
}

func (s *Stats) GetSubscriptions() uint64 {
	return s.subscriptions.Load()
}

// Error tracking.
func (s *Stats) IncrementDeliveryFailures() {
	s.deliveryFailures.Add(1)
}

func (s *Stats) IncrementValidationErrors() {
	s.validationErrors.Add(1)
}

func (s *Stats) GetDeliveryFailures() uint64 {
	return s.deliveryFailures.Load()
}

func (s *Stats) GetValidationErrors() uint64 {
	return s.validationErrors.Load()
}

// StartTime returns when stats collection began.
func (s *Stats) StartTime() time.Time {
	return s.startTime
}

// GetUptime returns the time elapsed since stats collection began.
func (s *Stats) GetUptime() time.Duration {
	return time.Since(s.startTime)
}

// StatsSnapshot is a point-in-time view of relay statistics.
type StatsSnapshot struct {
	ConnectedClients  int           `json:"connected_clients"`
	TotalConnections  uint64        `json:"total_connections"`
	MessagesPublished uint64        `json:"messages_published"`
	MessagesDelivered uint64        `json:"messages_delivered"`
	DeliveryFailures  uint64        `json:"delivery_failures"`
	Subscriptions     uint64        `json:"subscriptions"`
	RetainedMessages  int           `json:"retained_messages"`
	StartedAt         time.Time     `json:"started_at"`
	Uptime            time.Duration `json:"uptime"`
}
