package sender

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/pion/webrtc/v4"
)

// DataChannel sends parameter frames over an already negotiated WebRTC data
// channel.
type DataChannel struct {
	dc *webrtc.DataChannel
}

// NewDataChannel wraps dc. onMessage, if set, receives inbound messages.
func NewDataChannel(dc *webrtc.DataChannel, onMessage func([]byte)) *DataChannel {
	if onMessage != nil {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			onMessage(msg.Data)
		})
	}
	return &DataChannel{dc: dc}
}

// Label returns the data channel label.
func (d *DataChannel) Label() string {
	return d.dc.Label()
}

// Ready reports whether the data channel is open.
func (d *DataChannel) Ready() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send writes data as a text message.
func (d *DataChannel) Send(data []byte) error {
	if !d.Ready() {
		return ErrNotReady
	}
	return d.dc.SendText(string(data))
}

// Answerer answers a single SDP offer and hands every data channel the peer
// opens to Attach once it is ready to send.
type Answerer struct {
	Attach    func(*DataChannel)
	OnMessage func([]byte)
	Log       *log.Logger
}

// Answer builds a peer connection for offer and returns the local answer once
// ICE gathering completes. The returned closer tears the connection down.
func (a Answerer) Answer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, io.Closer, error) {
	logger := a.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Printf("data channel %q received", dc.Label())
		ch := NewDataChannel(dc, a.OnMessage)
		dc.OnOpen(func() {
			logger.Printf("data channel %q open", dc.Label())
			if a.Attach != nil {
				a.Attach(ch)
			}
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Printf("peer connection state: %s", state)
	})

	fail := func(step string, err error) (*webrtc.SessionDescription, io.Closer, error) {
		_ = pc.Close()
		return nil, nil, fmt.Errorf("%s: %w", step, err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fail("set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail("create answer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail("set local description", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fail("ice gathering", ctx.Err())
	}
	return pc.LocalDescription(), pc, nil
}
