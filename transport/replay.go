package transport

import (
	"io"

	"github.com/gravitational/trace"

	"scauthcore/ctaphid"
)

// ReplayDevice implements ctaphid.Device over a fixed sequence of
// pre-recorded HID packets, for exercising ctap2.Session without real USB
// HID/NFC hardware (Non-goal: this core never implements a real transport).
// WritePacket is a no-op; ReadPacket serves the recorded packets in order.
type ReplayDevice struct {
	packets [][]byte
	pos     int
}

// NewReplayDevice loads a sequence of ctaphid.PacketSize-byte packets from
// r (a flat concatenation, as produced by capturing a real authenticator's
// responses) for later playback.
func NewReplayDevice(r io.Reader) (*ReplayDevice, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "transport: reading replay packets")
	}
	if len(raw)%ctaphid.PacketSize != 0 {
		return nil, trace.BadParameter("transport: replay data length %d is not a multiple of packet size %d", len(raw), ctaphid.PacketSize)
	}

	var packets [][]byte
	for i := 0; i < len(raw); i += ctaphid.PacketSize {
		packets = append(packets, raw[i:i+ctaphid.PacketSize])
	}
	return &ReplayDevice{packets: packets}, nil
}

// WritePacket discards outbound packets; a replay device has no peer to
// send them to.
func (d *ReplayDevice) WritePacket(pkt []byte) error { return nil }

// ReadPacket returns the next recorded packet, or an error once the
// recording is exhausted.
func (d *ReplayDevice) ReadPacket() ([]byte, error) {
	if d.pos >= len(d.packets) {
		return nil, trace.ConnectionProblem(nil, "transport: replay recording exhausted")
	}
	pkt := d.packets[d.pos]
	d.pos++
	return pkt, nil
}
