// Package timing provides performance measurement utilities for client
// connection establishment.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures detailed timing information for a client connect.
type Metrics struct {
	// DNSLookup is the time spent performing DNS resolution
	DNSLookup time.Duration `json:"dns_lookup"`

	// TCPConnect is the time spent establishing the TCP connection
	TCPConnect time.Duration `json:"tcp_connect"`

	// TLSHandshake is the time spent performing the TLS handshake (0 for plain TCP)
	TLSHandshake time.Duration `json:"tls_handshake"`

	// Upgrade is the time between the Timer's StartUpgrade and EndUpgrade
	// calls, 0 when they were not made. The library's clients do not make
	// them, so a WebSocket client connect leaves it 0.
	Upgrade time.Duration `json:"upgrade"`

	// TotalTime is the total end-to-end connect time
	TotalTime time.Duration `json:"total_time"`
}

// Timer helps measure connect timings.
type Timer struct {
	start        time.Time
	dnsStart     time.Time
	dnsEnd       time.Time
	tcpStart     time.Time
	tcpEnd       time.Time
	tlsStart     time.Time
	tlsEnd       time.Time
	upgradeStart time.Time
	upgradeEnd   time.Time
}

// NewTimer creates a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{
		start: time.Now(),
	}
}

// StartDNS marks the beginning of DNS resolution.
func (t *Timer) StartDNS() {
	t.dnsStart = time.Now()
}

// EndDNS marks the end of DNS resolution.
func (t *Timer) EndDNS() {
	t.dnsEnd = time.Now()
}

// StartTCP marks the beginning of the TCP connection.
func (t *Timer) StartTCP() {
	t.tcpStart = time.Now()
}

// EndTCP marks the end of the TCP connection.
func (t *Timer) EndTCP() {
	t.tcpEnd = time.Now()
}

// StartTLS marks the beginning of the TLS handshake.
func (t *Timer) StartTLS() {
	t.tlsStart = time.Now()
}

// EndTLS marks the end of the TLS handshake.
func (t *Timer) EndTLS() {
	t.tlsEnd = time.Now()
}

// StartUpgrade marks the beginning of a protocol upgrade handshake.
func (t *Timer) StartUpgrade() {
	t.upgradeStart = time.Now()
}

// EndUpgrade marks the end of a protocol upgrade handshake.
func (t *Timer) EndUpgrade() {
	t.upgradeEnd = time.Now()
}

// GetMetrics returns the calculated timing metrics.
func (t *Timer) GetMetrics() Metrics {
	metrics := Metrics{
		TotalTime: time.Since(t.start),
	}

	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		metrics.DNSLookup = t.dnsEnd.Sub(t.dnsStart)
	}

	if !t.tcpStart.IsZero() && !t.tcpEnd.IsZero() {
		metrics.TCPConnect = t.tcpEnd.Sub(t.tcpStart)
	}

	if !t.tlsStart.IsZero() && !t.tlsEnd.IsZero() {
		metrics.TLSHandshake = t.tlsEnd.Sub(t.tlsStart)
	}

	if !t.upgradeStart.IsZero() && !t.upgradeEnd.IsZero() {
		metrics.Upgrade = t.upgradeEnd.Sub(t.upgradeStart)
	}

	return metrics
}

// GetConnectionTime returns the total connection establishment time
// (DNS + TCP + TLS + upgrade).
func (m Metrics) GetConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake + m.Upgrade
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("DNSLookup: %v, TCPConnect: %v, TLSHandshake: %v, Upgrade: %v, TotalTime: %v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.Upgrade, m.TotalTime)
}
