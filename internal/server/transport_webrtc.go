package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	// rtcChannelLabel is the data channel viewers open for the protocol
	rtcChannelLabel  = "screen"
	iceGatherTimeout = 10 * time.Second
	rtcInboxSize     = 64
)

// rtcTransport carries protocol messages over a WebRTC data channel.
// Inbound messages arrive on pion's callback goroutine and are handed to the
// client's reader through inbox.
type rtcTransport struct {
	pc        *webrtc.PeerConnection
	dc        *webrtc.DataChannel
	inbox     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newRTCTransport(pc *webrtc.PeerConnection, dc *webrtc.DataChannel) *rtcTransport {
	return &rtcTransport{
		pc:    pc,
		dc:    dc,
		inbox: make(chan []byte, rtcInboxSize),
		done:  make(chan struct{}),
	}
}

func (t *rtcTransport) deliver(data []byte) {
	select {
	case t.inbox <- data:
	case <-t.done:
	}
}

func (t *rtcTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	case <-t.done:
		return nil, ErrTransportClosed
	}
}

func (t *rtcTransport) WriteMessage(data []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	return t.dc.Send(data)
}

func (t *rtcTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = errors.Join(t.dc.Close(), t.pc.Close())
	})
	return err
}

func (t *rtcTransport) Kind() string { return "webrtc" }

// rtcSignal is the JSON body of POST /rtc and of its answer.
type rtcSignal struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s *Server) iceServers() []webrtc.ICEServer {
	if len(s.cfg.ICEServers) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: s.cfg.ICEServers}}
}

// handleRTC answers a viewer's SDP offer. The client session starts once
// the viewer's "screen" data channel opens.
func (s *Server) handleRTC(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableWebRTC {
		http.Error(w, "webrtc disabled", http.StatusNotFound)
		return
	}
	if s.hub.Full() {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	var offer rtcSignal
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&offer); err != nil {
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}
	if offer.Type != "" && offer.Type != "offer" {
		http.Error(w, "expected an offer", http.StatusBadRequest)
		return
	}

	answer, err := s.answerOffer(offer.SDP, r.RemoteAddr)
	if err != nil {
		log.Warn("webrtc negotiation failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "negotiation failed", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rtcSignal{Type: "answer", SDP: answer})
}

func (s *Server) answerOffer(sdp, remote string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: s.iceServers()})
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != rtcChannelLabel {
			log.Debug("ignoring data channel", "label", dc.Label(), "remote", remote)
			return
		}
		t := newRTCTransport(pc, dc)
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if !msg.IsString {
				t.deliver(msg.Data)
			}
		})
		dc.OnOpen(func() {
			s.attach(t, remote)
		})
		dc.OnClose(func() {
			t.Close()
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("webrtc connection state", "remote", remote, "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			pc.Close()
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		pc.Close()
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		pc.Close()
		return "", fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	}

	ld := pc.LocalDescription()
	if ld == nil {
		pc.Close()
		return "", errors.New("local description not available")
	}
	return ld.SDP, nil
}
