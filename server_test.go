package modbits

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Append(string) {}

func newTestServer(t *testing.T) (*ModbusServer, *RegisterBank) {
	t.Helper()
	bank := NewRegisterBank(8)
	coils, err := NewCoilView(bank, []uint16{0, 1, 2, 3})
	require.NoError(t, err)
	discretes, err := NewDiscreteView(bank, []uint16{4, 5})
	require.NoError(t, err)
	s, err := NewModbusServer("tcp://localhost:0", bank, coils, discretes, nopLogger{})
	require.NoError(t, err)
	s.Connect(101)
	return s, bank
}

func reqPDU(fc uint8, words ...uint16) *pdu {
	p := &pdu{unitId: 101, functionCode: fc}
	for _, w := range words {
		p.payload = append(p.payload, uint16ToBytes(BIG_ENDIAN, w)...)
	}
	return p
}

func TestHandleRequestReadCoils(t *testing.T) {
	s, bank := newTestServer(t)
	require.NoError(t, bank.Set(0, 0xFFFF))

	res := s.handleRequest(reqPDU(fcReadCoils, 0, 5))
	assert.Equal(t, fcReadCoils, res.functionCode)
	assert.Equal(t, []byte{0x01, 0x1F}, res.payload)
}

func TestHandleRequestReadDiscreteInputs(t *testing.T) {
	s, bank := newTestServer(t)
	require.NoError(t, bank.Set(4, 0x0001))

	res := s.handleRequest(reqPDU(fcReadDiscreteInputs, 0, 1))
	assert.Equal(t, fcReadDiscreteInputs, res.functionCode)
	assert.Equal(t, []byte{0x01, 0x01}, res.payload)
}

func TestHandleRequestWriteThenReadCoils(t *testing.T) {
	s, _ := newTestServer(t)

	req := reqPDU(fcWriteMultipleCoils, 12, 8)
	req.payload = append(req.payload, 0x01, 0xA5)
	res := s.handleRequest(req)
	require.Equal(t, fcWriteMultipleCoils, res.functionCode)
	assert.Equal(t, req.payload[0:4], res.payload)

	res = s.handleRequest(reqPDU(fcReadCoils, 12, 8))
	assert.Equal(t, []byte{0x01, 0xA5}, res.payload)
}

func TestHandleRequestWriteSingleCoil(t *testing.T) {
	s, bank := newTestServer(t)

	res := s.handleRequest(reqPDU(fcWriteSingleCoil, 9, 0xff00))
	require.Equal(t, fcWriteSingleCoil, res.functionCode)

	v, err := bank.Get(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0200), v)

	// anything but 0xff00/0x0000 is rejected
	res = s.handleRequest(reqPDU(fcWriteSingleCoil, 9, 0x1234))
	assert.Equal(t, fcWriteSingleCoil|0x80, res.functionCode)
	assert.Equal(t, []byte{excIllegalDataValue}, res.payload)
}

func TestHandleRequestRegisters(t *testing.T) {
	s, _ := newTestServer(t)

	req := reqPDU(fcWriteMultipleRegisters, 2, 2)
	req.payload = append(req.payload, 0x04)
	req.payload = append(req.payload, uint16ToBytes(BIG_ENDIAN, 0xABCD)...)
	req.payload = append(req.payload, uint16ToBytes(BIG_ENDIAN, 0x1234)...)
	res := s.handleRequest(req)
	require.Equal(t, fcWriteMultipleRegisters, res.functionCode)

	res = s.handleRequest(reqPDU(fcReadHoldingRegisters, 2, 2))
	assert.Equal(t, []byte{0x04, 0xAB, 0xCD, 0x12, 0x34}, res.payload)

	res = s.handleRequest(reqPDU(fcWriteSingleRegister, 7, 0xBEEF))
	require.Equal(t, fcWriteSingleRegister, res.functionCode)

	res = s.handleRequest(reqPDU(fcReadInputRegisters, 7, 1))
	assert.Equal(t, []byte{0x02, 0xBE, 0xEF}, res.payload)
}

func TestHandleRequestExceptions(t *testing.T) {
	s, _ := newTestServer(t)

	test := []struct {
		name string
		req  *pdu
		code uint8
	}{
		{"coil address out of range", reqPDU(fcReadCoils, 60, 16), excIllegalDataAddress},
		{"zero coil count", reqPDU(fcReadCoils, 0, 0), excIllegalDataValue},
		{"register address out of range", reqPDU(fcReadHoldingRegisters, 7, 2), excIllegalDataAddress},
		{"unknown function code", reqPDU(0x2b, 0, 1), excIllegalFunction},
	}
	for _, tc := range test {
		t.Run(tc.name, func(t *testing.T) {
			res := s.handleRequest(tc.req)
			assert.Equal(t, tc.req.functionCode|0x80, res.functionCode)
			assert.Equal(t, []byte{tc.code}, res.payload)
		})
	}
}

func readResponse(t *testing.T, conn net.Conn) (txnId uint16, fc uint8, payload []byte) {
	t.Helper()
	header := make([]byte, mbapHeaderLength)
	_, err := io.ReadFull(conn, header)
	require.NoError(t, err)

	txnId = bytesToUint16(BIG_ENDIAN, header[0:2])
	rest := make([]byte, int(bytesToUint16(BIG_ENDIAN, header[4:6]))-1)
	_, err = io.ReadFull(conn, rest)
	require.NoError(t, err)
	return txnId, rest[0], rest[1:]
}

func TestServerReadCoilsOverWire(t *testing.T) {
	s, bank := newTestServer(t)
	require.NoError(t, bank.Set(0, 0xFFFF))

	client, srv := net.Pipe()
	defer client.Close()
	go s.handleClient(srv)

	_, err := client.Write(s.assembleMBAPFrame(7, reqPDU(fcReadCoils, 0, 5)))
	require.NoError(t, err)

	txnId, fc, payload := readResponse(t, client)
	assert.Equal(t, uint16(7), txnId)
	assert.Equal(t, fcReadCoils, fc)
	assert.Equal(t, []byte{0x01, 0x1F}, payload)
}

func TestNewModbusServerRejectsBadURL(t *testing.T) {
	_, err := NewModbusServer("localhost:502", NewRegisterBank(1), nil, nil, nopLogger{})
	assert.Error(t, err)
}

func TestSlaveToggleDuringDispatch(t *testing.T) {
	s, bank := newTestServer(t)
	require.NoError(t, bank.Set(0, 0xFFFF))

	client, srv := net.Pipe()
	defer client.Close()
	go s.handleClient(srv)

	// toggle one slave from another goroutine while requests for a second
	// slave are dispatched, the way the UI flips the online state of a
	// served slave
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.Connect(5)
			s.Disconnect(5)
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := client.Write(s.assembleMBAPFrame(uint16(i), reqPDU(fcReadCoils, 0, 5)))
		require.NoError(t, err)

		txnId, fc, payload := readResponse(t, client)
		assert.Equal(t, uint16(i), txnId)
		assert.Equal(t, fcReadCoils, fc)
		assert.Equal(t, []byte{0x01, 0x1F}, payload)
	}
	<-done
}

func TestServerSkipsOfflineSlaves(t *testing.T) {
	s, _ := newTestServer(t)

	client, srv := net.Pipe()
	defer client.Close()
	go s.handleClient(srv)

	// unit 5 is offline and never answered; the following request for unit
	// 101 is served
	offline := reqPDU(fcReadCoils, 0, 1)
	offline.unitId = 5
	_, err := client.Write(s.assembleMBAPFrame(1, offline))
	require.NoError(t, err)
	_, err = client.Write(s.assembleMBAPFrame(2, reqPDU(fcReadCoils, 0, 1)))
	require.NoError(t, err)

	txnId, fc, payload := readResponse(t, client)
	assert.Equal(t, uint16(2), txnId)
	assert.Equal(t, fcReadCoils, fc)
	assert.Equal(t, []byte{0x01, 0x00}, payload)
}
