package signaling

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"
)

type sdpMessage struct {
	Type string                    `json:"type"`
	SDP  webrtc.SessionDescription `json:"sdp"`
}

// TestWebRTCNegotiationThroughRelay connects two pion peers on a virtual
// network using only the relay for offer/answer exchange.
func TestWebRTCNegotiationThroughRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC negotiation in -short mode")
	}

	const (
		cidr = "10.0.0.0/24"
		ipA  = "10.0.0.1"
		ipB  = "10.0.0.2"
	)

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          cidr,
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() {
		_ = router.Stop()
	})

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipA}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ipB}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	pcA := newVNetPeerConnection(t, netA)
	pcB := newVNetPeerConnection(t, netB)

	tr := newTestRelay(t, func(cfg *Config) {
		cfg.IdleTimeout = 30 * time.Second
		cfg.PingInterval = 10 * time.Second
	})
	wsA := tr.dial(t, "alice")
	wsB := tr.dial(t, "bob")
	tr.join(t, wsB, "call")
	tr.join(t, wsA, "call")
	if msg := readJSON(t, wsB); msg["type"] != "user-joined" || msg["name"] != "alice" {
		t.Fatalf("bob got %v, want user-joined", msg)
	}

	gotOnB := make(chan string, 1)
	pcB.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			select {
			case gotOnB <- string(msg.Data):
			default:
			}
		})
	})

	dcA, err := pcA.CreateDataChannel("chat", nil)
	if err != nil {
		t.Fatalf("create datachannel: %v", err)
	}
	openA := make(chan struct{})
	dcA.OnOpen(func() { close(openA) })

	// alice: offer
	offer, err := pcA.CreateOffer(nil)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	gatherA := webrtc.GatheringCompletePromise(pcA)
	if err := pcA.SetLocalDescription(offer); err != nil {
		t.Fatalf("set local offer: %v", err)
	}
	<-gatherA
	sendSDP(t, wsA, "offer", *pcA.LocalDescription())

	// bob: answer
	remoteOffer := readSDP(t, wsB, "offer")
	if err := pcB.SetRemoteDescription(remoteOffer); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := pcB.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	gatherB := webrtc.GatheringCompletePromise(pcB)
	if err := pcB.SetLocalDescription(answer); err != nil {
		t.Fatalf("set local answer: %v", err)
	}
	<-gatherB
	sendSDP(t, wsB, "answer", *pcB.LocalDescription())

	remoteAnswer := readSDP(t, wsA, "answer")
	if err := pcA.SetRemoteDescription(remoteAnswer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	select {
	case <-openA:
	case <-time.After(15 * time.Second):
		t.Fatalf("datachannel did not open")
	}
	if err := dcA.SendText("hello over vnet"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case got := <-gotOnB:
		if got != "hello over vnet" {
			t.Fatalf("bob received %q", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("bob never received datachannel message")
	}
}

func newVNetPeerConnection(t *testing.T, n *vnet.Net) *webrtc.PeerConnection {
	t.Helper()

	se := webrtc.SettingEngine{}
	se.SetNet(n)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		t.Fatalf("register codecs: %v", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	)
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("new peer connection: %v", err)
	}
	t.Cleanup(func() {
		_ = pc.Close()
	})
	return pc
}

func sendSDP(t *testing.T, c *websocket.Conn, typ string, desc webrtc.SessionDescription) {
	t.Helper()
	b, err := json.Marshal(sdpMessage{Type: typ, SDP: desc})
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readSDP(t *testing.T, c *websocket.Conn, typ string) webrtc.SessionDescription {
	t.Helper()
	var msg sdpMessage
	if err := json.Unmarshal(readRaw(t, c), &msg); err != nil {
		t.Fatalf("decode %s: %v", typ, err)
	}
	if msg.Type != typ {
		t.Fatalf("got %q, want %q", msg.Type, typ)
	}
	return msg.SDP
}
