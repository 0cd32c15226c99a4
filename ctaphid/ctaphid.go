// Package ctaphid implements CTAPHID packet framing: splitting an
// outbound message into INIT+CONT packets and reassembling packets into a
// full message, plus the CTAPHID_CANCEL one-shot signal (spec §4.C, §5).
package ctaphid

import (
	"encoding/binary"

	"github.com/gravitational/trace"
)

const (
	// PacketSize is the USB HID report size.
	PacketSize = 64

	// MaxMessageSize is the largest message this framing supports
	// (spec §6, "7609-byte max message").
	MaxMessageSize = 7609

	initHeaderSize = 7 // cid(4) + cmd(1) + bcnt(2)
	contHeaderSize = 5 // cid(4) + seq(1)

	CmdMsg    byte = 0x03
	CmdCbor   byte = 0x10
	CmdInit   byte = 0x06
	CmdCancel byte = 0x11
	CmdKeepAlive byte = 0x3B
	CmdError  byte = 0x3F

	frameTypeMask = 0x80
)

// Device is the byte-level endpoint this package consumes: a HID report
// read/write pair. Out of scope for this core (spec §1); real
// implementations wrap a USB HID or NFC transport.
type Device interface {
	WritePacket(pkt []byte) error
	ReadPacket() ([]byte, error)
}

// EncodeMessage splits cmd+payload into PacketSize-byte INIT/CONT packets
// for channel cid.
func EncodeMessage(cid uint32, cmd byte, payload []byte) ([][]byte, error) {
	if len(payload) > MaxMessageSize {
		return nil, trace.BadParameter("ctaphid: message of %d bytes exceeds max %d", len(payload), MaxMessageSize)
	}

	var packets [][]byte

	initCap := PacketSize - initHeaderSize
	first := payload
	if len(first) > initCap {
		first = payload[:initCap]
	}
	pkt := make([]byte, PacketSize)
	binary.BigEndian.PutUint32(pkt[0:4], cid)
	pkt[4] = cmd | frameTypeMask
	binary.BigEndian.PutUint16(pkt[5:7], uint16(len(payload)))
	copy(pkt[7:], first)
	packets = append(packets, pkt)

	rest := payload[len(first):]
	contCap := PacketSize - contHeaderSize
	seq := byte(0)
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > contCap {
			chunk = rest[:contCap]
		}
		p := make([]byte, PacketSize)
		binary.BigEndian.PutUint32(p[0:4], cid)
		p[4] = seq
		copy(p[5:], chunk)
		packets = append(packets, p)
		rest = rest[len(chunk):]
		seq++
	}
	return packets, nil
}

// Reassembler accumulates CONT packets following an INIT packet into a full
// message.
type Reassembler struct {
	cid      uint32
	cmd      byte
	total    int
	buf      []byte
	nextSeq  byte
	started  bool
}

// Feed processes one packet and reports whether the message is complete.
func (r *Reassembler) Feed(pkt []byte) (done bool, err error) {
	if len(pkt) != PacketSize {
		return false, trace.BadParameter("ctaphid: packet must be %d bytes, got %d", PacketSize, len(pkt))
	}
	cid := binary.BigEndian.Uint32(pkt[0:4])

	if pkt[4]&frameTypeMask != 0 {
		// INIT packet.
		r.cid = cid
		r.cmd = pkt[4] &^ frameTypeMask
		r.total = int(binary.BigEndian.Uint16(pkt[5:7]))
		r.buf = append([]byte{}, pkt[7:]...)
		r.nextSeq = 0
		r.started = true
	} else {
		if !r.started {
			return false, trace.BadParameter("ctaphid: continuation packet with no preceding INIT")
		}
		if cid != r.cid {
			return false, trace.BadParameter("ctaphid: channel id mismatch in continuation packet")
		}
		if pkt[4] != r.nextSeq {
			return false, trace.BadParameter("ctaphid: out-of-sequence continuation packet (want %d got %d)", r.nextSeq, pkt[4])
		}
		r.buf = append(r.buf, pkt[5:]...)
		r.nextSeq++
	}

	if len(r.buf) >= r.total {
		r.buf = r.buf[:r.total]
		return true, nil
	}
	return false, nil
}

// Command returns the message's command byte. Valid only after Feed
// returns done=true.
func (r *Reassembler) Command() byte { return r.cmd }

// ChannelID returns the message's channel id.
func (r *Reassembler) ChannelID() uint32 { return r.cid }

// Payload returns the reassembled message body.
func (r *Reassembler) Payload() []byte { return r.buf }

// SendMessage writes a full message (command + payload) to dev as one or
// more packets.
func SendMessage(dev Device, cid uint32, cmd byte, payload []byte) error {
	packets, err := EncodeMessage(cid, cmd, payload)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, p := range packets {
		if err := dev.WritePacket(p); err != nil {
			return trace.Wrap(err, "ctaphid: write failed")
		}
	}
	return nil
}

// ReceiveMessage reads packets from dev until a full message is assembled.
func ReceiveMessage(dev Device) (cmd byte, payload []byte, err error) {
	var r Reassembler
	for {
		pkt, err := dev.ReadPacket()
		if err != nil {
			return 0, nil, trace.Wrap(err, "ctaphid: read failed")
		}
		done, err := r.Feed(pkt)
		if err != nil {
			return 0, nil, trace.Wrap(err)
		}
		if done {
			return r.Command(), r.Payload(), nil
		}
	}
}

// Cancel sends CTAPHID_CANCEL on cid, per spec §4.C/§5: the in-flight
// command on the same channel resolves as Cancelled.
func Cancel(dev Device, cid uint32) error {
	return SendMessage(dev, cid, CmdCancel, nil)
}
