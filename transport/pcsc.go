package transport

import (
	"github.com/ebfe/scard"
	"github.com/gravitational/trace"
)

// PCSC is a PC/SC smart card connection implementing apdu.Transport
// (spec §6, "transport is external"). It owns the underlying PC/SC
// context and card handle and must be closed when the caller is done
// with the session (spec §5 resource policy).
type PCSC struct {
	ctx  *scard.Context
	card *scard.Card
	name string
	atr  []byte
}

// ListPCSCReaders enumerates the PC/SC reader names visible to this
// process.
func ListPCSCReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, trace.ConnectionProblem(err, "transport: establishing PC/SC context")
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, trace.ConnectionProblem(err, "transport: listing PC/SC readers")
	}
	return readers, nil
}

// ConnectPCSC opens a shared-mode connection to the card currently
// present in the reader at readerIndex (as returned by ListPCSCReaders).
func ConnectPCSC(readerIndex int) (*PCSC, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, trace.ConnectionProblem(err, "transport: establishing PC/SC context")
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, trace.ConnectionProblem(err, "transport: listing PC/SC readers")
	}
	if readerIndex < 0 || readerIndex >= len(readers) {
		ctx.Release()
		return nil, trace.BadParameter("transport: reader index %d out of range (0-%d)", readerIndex, len(readers)-1)
	}
	readerName := readers[readerIndex]

	c, err := ctx.Connect(readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, trace.ConnectionProblem(err, "transport: connecting to card in reader %q", readerName)
	}

	status, err := c.Status()
	if err != nil {
		c.Disconnect(scard.LeaveCard)
		ctx.Release()
		return nil, trace.ConnectionProblem(err, "transport: reading card status")
	}

	return &PCSC{ctx: ctx, card: c, name: readerName, atr: status.Atr}, nil
}

// Transmit implements apdu.Transport by exchanging one raw APDU with the
// card over PC/SC.
func (p *PCSC) Transmit(apdu []byte) ([]byte, error) {
	response, err := p.card.Transmit(apdu)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "transport: APDU transmit failed")
	}
	return response, nil
}

// Close releases the card handle and PC/SC context.
func (p *PCSC) Close() error {
	if p.card != nil {
		p.card.Disconnect(scard.LeaveCard)
	}
	if p.ctx != nil {
		p.ctx.Release()
	}
	return nil
}

// Name returns the PC/SC reader name this connection is bound to.
func (p *PCSC) Name() string { return p.name }

// ATR returns the card's Answer-To-Reset bytes captured at connect time.
func (p *PCSC) ATR() []byte { return p.atr }
