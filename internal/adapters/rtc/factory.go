// Package rtc builds pion peer connections for the negotiation engine.
package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/negotiation"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	ICEServers []webrtc.ICEServer
	// ConfigureMedia registers codecs on the media engine. When nil the pion
	// defaults are registered.
	ConfigureMedia func(*webrtc.MediaEngine) error
	// DisconnectedTimeout and FailedTimeout tune ICE; zero keeps pion defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// NewAPI assembles the pion API: media engine, default interceptors and ICE
// timeouts.
func NewAPI(cfg Config) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	configure := cfg.ConfigureMedia
	if configure == nil {
		configure = func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := configure(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, 2*time.Second)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

// NewFactory returns a negotiation.Factory that opens one pion connection per
// PeerLink.
func NewFactory(cfg Config) (negotiation.Factory, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	pcCfg := webrtc.Configuration{ICEServers: cfg.ICEServers}
	return func(peerID domain.UserID, ev negotiation.ConnEvents) (negotiation.PeerConnection, error) {
		return newWebRTCConnection(api, pcCfg, peerID, ev)
	}, nil
}
