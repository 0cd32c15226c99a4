package apdu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedTransport struct {
	responses [][]byte
	sent      [][]byte
}

func (s *scriptedTransport) Transmit(raw []byte) ([]byte, error) {
	s.sent = append(s.sent, append([]byte{}, raw...))
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func TestMarshalShortForm(t *testing.T) {
	c := &Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00, Data: []byte{1, 2, 3}, Le: 0}
	got := c.Marshal()
	require.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00, 0x03, 1, 2, 3, 0x00}, got)
}

func TestMarshalNoDataNoLe(t *testing.T) {
	c := &Command{CLA: 0x00, INS: 0xA4, P1: 0x00, P2: 0x00, Le: -1}
	require.Equal(t, []byte{0x00, 0xA4, 0x00, 0x00}, c.Marshal())
}

func TestSendSuccess(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{{0x01, 0x02, 0x90, 0x00}}}
	resp, err := Send(tr, &Command{INS: 0xB0, Le: 2})
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())
	require.Equal(t, []byte{0x01, 0x02}, resp.Data)
}

func TestSendChainedMoreData(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{
		{0xAA, 0xBB, 0x61, 0x02},
		{0xCC, 0xDD, 0x90, 0x00},
	}}
	resp, err := Send(tr, &Command{INS: 0xB0, Le: 0})
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, resp.Data)
	require.Len(t, tr.sent, 2)
	require.Equal(t, byte(0xC0), tr.sent[1][1]) // GET RESPONSE
}

func TestSendWrongLeRetries(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{
		{0x6C, 0x05},
		{1, 2, 3, 4, 5, 0x90, 0x00},
	}}
	resp, err := Send(tr, &Command{INS: 0xB0, Le: 0})
	require.NoError(t, err)
	require.True(t, resp.IsSuccess())
	require.Len(t, resp.Data, 5)
}

func TestErrorOnNonSuccessSW(t *testing.T) {
	tr := &scriptedTransport{responses: [][]byte{{0x6A, 0x82}}}
	resp, err := Send(tr, &Command{INS: 0xA4, Le: -1})
	require.NoError(t, err)
	require.False(t, resp.IsSuccess())
	require.Error(t, resp.Error())
}
