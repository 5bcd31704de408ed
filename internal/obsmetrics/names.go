package obsmetrics

// Names of the metrics required by SPEC_FULL.md/spec.md §4.9.2. Defined as
// constants so every producer in the gateway references the same string.
const (
	HTTPRequestsTotal         = "gateway_http_requests_total"
	HTTPRequestDurationSecond = "gateway_http_request_duration_seconds"
	RateLimitHitsTotal        = "gateway_rate_limit_hits_total"
	RateLimitAllowedTotal     = "gateway_rate_limit_allowed_total"
	NATSMessagesSentTotal     = "gateway_nats_messages_sent_total"
	NATSPublishFailuresTotal  = "gateway_nats_publish_failures_total"
	NATSConnectionStatus      = "gateway_nats_connection_status"
	AbuseEventsTotal          = "gateway_abuse_events_total"
	RedisBreakerState         = "gateway_redis_ratelimit_circuit_breaker_state"
	PoolAcquireTimeouts       = "gateway_bus_pool_acquire_timeouts_total"
	BusRequestTimeouts        = "gateway_bus_request_timeouts_total"
	IPCConnectionsActive      = "gateway_ipc_connections_active"
	SpansLeakedTotal          = "gateway_spans_leaked_total"
)

// NewGatewayRegistry builds a Registry with every required metric
// pre-registered, so producers never need to check "is this registered".
func NewGatewayRegistry() *Registry {
	r := New()
	r.RegisterCounter(HTTPRequestsTotal, "Total HTTP requests handled, by route and status.")
	r.RegisterHistogram(HTTPRequestDurationSecond, "HTTP request duration in seconds.", DefaultDurationBuckets)
	r.RegisterCounter(RateLimitHitsTotal, "Requests rejected by the rate limiter.")
	r.RegisterCounter(RateLimitAllowedTotal, "Requests admitted by the rate limiter.")
	r.RegisterCounter(NATSMessagesSentTotal, "Bus request-reply calls issued.")
	r.RegisterCounter(NATSPublishFailuresTotal, "Bus publish/request failures.")
	r.RegisterGauge(NATSConnectionStatus, "Bus connection status (0 disconnected/degraded, 1 connected).")
	r.RegisterCounter(AbuseEventsTotal, "Abuse-detection observability events, by type.")
	r.RegisterGauge(RedisBreakerState, "Redis rate-limiter circuit breaker state (0 closed, 1 open, 2 half-open).")
	r.RegisterCounter(PoolAcquireTimeouts, "Bus connection pool acquire timeouts.")
	r.RegisterCounter(BusRequestTimeouts, "Bus request-reply timeouts.")
	r.RegisterGauge(IPCConnectionsActive, "Active binary IPC connections.")
	r.RegisterCounter(SpansLeakedTotal, "Spans observed not ended before context discard.")
	return r
}
