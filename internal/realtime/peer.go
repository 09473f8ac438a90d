package realtime

import (
	"encoding/json"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// ParseICEServers reads a JSON list of ICE servers, falling back to a
// public STUN server.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// newPeer builds a peer connection with default codecs and interceptors
// and one Opus send track for the microphone.
func newPeer(servers []webrtc.ICEServer) (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, nil, err
	}
	micTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: sampleRate, Channels: 1},
		"mic", "algoviz",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(micTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, micTrack, nil
}

type remoteTrack struct{ t *webrtc.TrackRemote }

func (r remoteTrack) ReadPayload() ([]byte, error) {
	pkt, _, err := r.t.ReadRTP()
	if err != nil {
		return nil, err
	}
	return pkt.Payload, nil
}
