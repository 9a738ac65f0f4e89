package config

import (
	"fmt"
	"net/url"
	"time"
)

// Default client values. The STUN list matches the public reflection
// servers the web client shipped with.
const (
	DefaultRelayURL          = "http://localhost:8080"
	DefaultSTUNServers       = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302"
	DefaultReconnectAttempts = 3
	DefaultReconnectBackoff  = 2 * time.Second
)

// ClientConfig holds the settings for joining a room.
type ClientConfig struct {
	// RelayURL is the HTTP base of the relay service; the subscription
	// socket URL is derived from it.
	RelayURL    string
	STUNServers []string
	LogLevel    string

	ReconnectAttempts int
	ReconnectBackoff  time.Duration

	AudioFile string
	VideoFile string
}

// ClientOptions carries CLI flag overrides.
type ClientOptions struct {
	RelayURL    string
	STUNServers []string
	LogLevel    string
	AudioFile   string
	VideoFile   string
}

// LoadClient reads configuration with the following priority:
// 1. CLI flags (passed via ClientOptions)
// 2. Environment variables
// 3. Hardcoded defaults
func LoadClient(opts ClientOptions) (*ClientConfig, error) {
	relayURL := opts.RelayURL
	if relayURL == "" {
		relayURL = getEnv("RELAY_URL", DefaultRelayURL)
	}
	u, err := url.Parse(relayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid relay URL %q", relayURL)
	}

	stun := opts.STUNServers
	if len(stun) == 0 {
		stun = splitList(getEnv("STUN_SERVERS", DefaultSTUNServers))
	}

	logLevel := opts.LogLevel
	if logLevel == "" {
		logLevel = getEnv("LOG_LEVEL", "warn")
	}

	audio := opts.AudioFile
	if audio == "" {
		audio = getEnv("AUDIO_FILE", "")
	}
	video := opts.VideoFile
	if video == "" {
		video = getEnv("VIDEO_FILE", "")
	}

	return &ClientConfig{
		RelayURL:          u.String(),
		STUNServers:       stun,
		LogLevel:          logLevel,
		ReconnectAttempts: getInt("RECONNECT_ATTEMPTS", DefaultReconnectAttempts),
		ReconnectBackoff:  getDuration("RECONNECT_BACKOFF", DefaultReconnectBackoff),
		AudioFile:         audio,
		VideoFile:         video,
	}, nil
}

// RoomLink returns the shareable URL for a room.
func (c *ClientConfig) RoomLink(roomID string) string {
	return fmt.Sprintf("%s/room/%s", c.RelayURL, roomID)
}
