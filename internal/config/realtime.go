package config

import "time"

// RealtimeConfig controls change broadcasting.
type RealtimeConfig struct {
	BufferSize      int           // per-subscriber event buffer before the subscriber is dropped
	ChannelPrefix   string        // Redis channel prefix; the zone id is appended
	Heartbeat       time.Duration // interval of SSE keep-alive comments
	PubNubEnabled   bool
	PubNubPublish   string
	PubNubSubscribe string
	PubNubSecret    string
	PubNubUserID    string
}

// LoadRealtimeConfig reads REALTIME_* and PUBNUB_* variables.  PubNub is
// enabled only when both keys are present.
func LoadRealtimeConfig() RealtimeConfig {
	cfg := RealtimeConfig{
		BufferSize:      envInt("REALTIME_BUFFER", 64),
		ChannelPrefix:   envStr("REALTIME_CHANNEL_PREFIX", "spots:zone:"),
		Heartbeat:       envDur("REALTIME_HEARTBEAT", 15*time.Second),
		PubNubPublish:   envStr("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribe: envStr("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecret:    envStr("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:    envStr("PUBNUB_USER_ID", "spot-service"),
	}
	cfg.PubNubEnabled = cfg.PubNubPublish != "" && cfg.PubNubSubscribe != ""
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	return cfg
}
