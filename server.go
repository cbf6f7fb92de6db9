package modbits

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

type Logger interface {
	Append(text string)
}

// ModbusServer represents a TCP based modbus server with multiple slaves connected to it.
// All slaves share one register bank; coil and discrete input addresses are resolved
// through the configured views.
type ModbusServer struct {
	url         string
	logger      Logger
	tcpListener net.Listener
	bank        Bank
	coils       *CoilView
	discretes   *CoilView
	slaves      map[int]bool

	// serializes bank access across client connections and guards the slave
	// online map, which the UI goroutine toggles while clients are served;
	// WriteBits performs a read-modify-write on partially covered registers
	mu sync.Mutex
}

func NewModbusServer(url string, bank Bank, coils, discretes *CoilView, logger Logger) (*ModbusServer, error) {
	splitURL := strings.SplitN(url, "://", 2)
	if len(splitURL) != 2 {
		return nil, fmt.Errorf("invalid server url: %s", url)
	}
	return &ModbusServer{url: splitURL[1], bank: bank, coils: coils, discretes: discretes, logger: logger, slaves: make(map[int]bool)}, nil
}

func (s *ModbusServer) Start() (err error) {
	s.tcpListener, err = net.Listen("tcp", s.url)
	if err == nil {
		go s.acceptTCPClients()
	}
	return
}

func (s *ModbusServer) Connect(slaveID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves[slaveID] = true
}

func (s *ModbusServer) Disconnect(slaveID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slaves[slaveID] = false
}

func (s *ModbusServer) online(slaveID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slaves[slaveID]
}

func (s *ModbusServer) acceptTCPClients() {
	for {
		sock, err := s.tcpListener.Accept()
		if err != nil {
			slog.Warn("failed to accept client connection", "err", err)
			continue
		}
		ts := time.Now().Format(time.DateTime)
		s.logger.Append(fmt.Sprintf("%s: client %s connected", ts, sock.RemoteAddr()))
		go s.handleClient(sock)
	}
}

type Endianness uint
type Error string

const (
	fcReadCoils              uint8 = 0x01
	fcReadDiscreteInputs     uint8 = 0x02
	fcReadHoldingRegisters   uint8 = 0x03
	fcReadInputRegisters     uint8 = 0x04
	fcWriteSingleCoil        uint8 = 0x05
	fcWriteSingleRegister    uint8 = 0x06
	fcWriteMultipleCoils     uint8 = 0x0f
	fcWriteMultipleRegisters uint8 = 0x10

	excIllegalFunction     uint8 = 0x01
	excIllegalDataAddress  uint8 = 0x02
	excIllegalDataValue    uint8 = 0x03
	excServerDeviceFailure uint8 = 0x04

	mbapHeaderLength int = 7

	// endianness of 16-bit registers
	BIG_ENDIAN        Endianness = 1
	LITTLE_ENDIAN     Endianness = 2
	maxTCPFrameLength int        = 260

	ErrProtocolError     Error = "protocol error"
	ErrUnknownProtocolId Error = "unknown protocol identifier"
)

// Error implements the error interface.
func (me Error) Error() (s string) {
	s = string(me)
	return
}

type pdu struct {
	unitId       uint8
	functionCode uint8
	payload      []byte
}

func (s *ModbusServer) handleClient(sock net.Conn) {
	defer sock.Close()
	for {
		req, txnId, err := s.readMBAPFrame(sock)
		if err != nil {
			if err != io.EOF {
				slog.Warn("failed to read request frame", "err", err)
			}
			return
		}
		ts := time.Now().Format(time.DateTime)
		s.logger.Append(fmt.Sprintf("%s req: slave id: %d fc: %X payload: % X", ts, req.unitId, req.functionCode, req.payload))

		if !s.online(int(req.unitId)) {
			ts := time.Now().Format(time.DateTime)
			s.logger.Append(fmt.Sprintf("%s req: slave id: %d is offline", ts, req.unitId))
			continue
		}

		res := s.handleRequest(req)

		ts = time.Now().Format(time.DateTime)
		s.logger.Append(fmt.Sprintf("%s res: slave id: %d fc: %X payload: % X", ts, res.unitId, res.functionCode, res.payload))

		if _, err := sock.Write(s.assembleMBAPFrame(txnId, res)); err != nil {
			return
		}
	}
}

// handleRequest dispatches a PDU against the register bank and the coil views.
// Requests are serialized so that a read-modify-write never interleaves with
// another request touching the same registers.
func (s *ModbusServer) handleRequest(req *pdu) *pdu {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.functionCode {
	case fcReadCoils, fcReadDiscreteInputs:
		return s.readBits(req)
	case fcReadHoldingRegisters, fcReadInputRegisters:
		return s.readRegisters(req)
	case fcWriteSingleCoil:
		return s.writeSingleCoil(req)
	case fcWriteSingleRegister:
		return s.writeSingleRegister(req)
	case fcWriteMultipleCoils:
		return s.writeMultipleCoils(req)
	case fcWriteMultipleRegisters:
		return s.writeMultipleRegisters(req)
	default:
		return exceptionResponse(req, excIllegalFunction)
	}
}

func (s *ModbusServer) readBits(req *pdu) *pdu {
	if len(req.payload) < 4 {
		return exceptionResponse(req, excIllegalDataValue)
	}
	addr := bytesToUint16(BIG_ENDIAN, req.payload[0:2])
	quantity := bytesToUint16(BIG_ENDIAN, req.payload[2:4])
	if quantity > 2000 {
		return exceptionResponse(req, excIllegalDataValue)
	}

	view := s.coils
	if req.functionCode == fcReadDiscreteInputs {
		view = s.discretes
	}
	bits, err := view.ReadBits(int(addr), int(quantity))
	if err != nil {
		return exceptionResponse(req, exceptionCode(err))
	}

	return &pdu{
		unitId:       req.unitId,
		functionCode: req.functionCode,
		payload:      append([]byte{uint8(len(bits))}, bits...),
	}
}

func (s *ModbusServer) readRegisters(req *pdu) *pdu {
	if len(req.payload) < 4 {
		return exceptionResponse(req, excIllegalDataValue)
	}
	addr := bytesToUint16(BIG_ENDIAN, req.payload[0:2])
	quantity := bytesToUint16(BIG_ENDIAN, req.payload[2:4])
	if quantity < 1 || quantity > 125 {
		return exceptionResponse(req, excIllegalDataValue)
	}
	if int(addr)+int(quantity) > s.bank.Size() {
		return exceptionResponse(req, excIllegalDataAddress)
	}

	res := &pdu{
		unitId:       req.unitId,
		functionCode: req.functionCode,
		payload:      []byte{uint8(quantity * 2)},
	}
	for i := uint16(0); i < quantity; i++ {
		val, err := s.bank.Get(addr + i)
		if err != nil {
			return exceptionResponse(req, exceptionCode(err))
		}
		res.payload = append(res.payload, uint16ToBytes(BIG_ENDIAN, val)...)
	}
	return res
}

func (s *ModbusServer) writeSingleCoil(req *pdu) *pdu {
	if len(req.payload) < 4 {
		return exceptionResponse(req, excIllegalDataValue)
	}
	addr := bytesToUint16(BIG_ENDIAN, req.payload[0:2])
	value := bytesToUint16(BIG_ENDIAN, req.payload[2:4])

	var bit byte
	switch value {
	case 0xff00:
		bit = 0x01
	case 0x0000:
		bit = 0x00
	default:
		return exceptionResponse(req, excIllegalDataValue)
	}
	if err := s.coils.WriteBits(int(addr), 1, []byte{bit}); err != nil {
		return exceptionResponse(req, exceptionCode(err))
	}

	// the response echoes the request
	return &pdu{unitId: req.unitId, functionCode: req.functionCode, payload: req.payload[0:4]}
}

func (s *ModbusServer) writeSingleRegister(req *pdu) *pdu {
	if len(req.payload) < 4 {
		return exceptionResponse(req, excIllegalDataValue)
	}
	addr := bytesToUint16(BIG_ENDIAN, req.payload[0:2])
	value := bytesToUint16(BIG_ENDIAN, req.payload[2:4])
	if int(addr) >= s.bank.Size() {
		return exceptionResponse(req, excIllegalDataAddress)
	}
	if err := s.bank.Set(addr, value); err != nil {
		return exceptionResponse(req, exceptionCode(err))
	}
	return &pdu{unitId: req.unitId, functionCode: req.functionCode, payload: req.payload[0:4]}
}

func (s *ModbusServer) writeMultipleCoils(req *pdu) *pdu {
	if len(req.payload) < 5 {
		return exceptionResponse(req, excIllegalDataValue)
	}
	addr := bytesToUint16(BIG_ENDIAN, req.payload[0:2])
	quantity := bytesToUint16(BIG_ENDIAN, req.payload[2:4])
	byteCount := int(req.payload[4])
	data := req.payload[5:]
	if quantity < 1 || quantity > 1968 || byteCount != int(quantity-1)/8+1 || len(data) < byteCount {
		return exceptionResponse(req, excIllegalDataValue)
	}
	if err := s.coils.WriteBits(int(addr), int(quantity), data); err != nil {
		return exceptionResponse(req, exceptionCode(err))
	}
	return &pdu{unitId: req.unitId, functionCode: req.functionCode, payload: req.payload[0:4]}
}

func (s *ModbusServer) writeMultipleRegisters(req *pdu) *pdu {
	if len(req.payload) < 5 {
		return exceptionResponse(req, excIllegalDataValue)
	}
	addr := bytesToUint16(BIG_ENDIAN, req.payload[0:2])
	quantity := bytesToUint16(BIG_ENDIAN, req.payload[2:4])
	byteCount := int(req.payload[4])
	data := req.payload[5:]
	if quantity < 1 || quantity > 123 || byteCount != int(quantity)*2 || len(data) < byteCount {
		return exceptionResponse(req, excIllegalDataValue)
	}
	if int(addr)+int(quantity) > s.bank.Size() {
		return exceptionResponse(req, excIllegalDataAddress)
	}
	for i := uint16(0); i < quantity; i++ {
		if err := s.bank.Set(addr+i, bytesToUint16(BIG_ENDIAN, data[2*i:2*i+2])); err != nil {
			return exceptionResponse(req, exceptionCode(err))
		}
	}
	return &pdu{unitId: req.unitId, functionCode: req.functionCode, payload: req.payload[0:4]}
}

func exceptionResponse(req *pdu, code uint8) *pdu {
	return &pdu{
		unitId:       req.unitId,
		functionCode: req.functionCode | 0x80,
		payload:      []byte{code},
	}
}

// exceptionCode maps a codec error to the modbus exception reported on the wire.
func exceptionCode(err error) uint8 {
	switch err {
	case ErrOutOfRange:
		return excIllegalDataAddress
	case ErrInvalidCount, ErrShortBuffer:
		return excIllegalDataValue
	case ErrReadOnly:
		return excIllegalFunction
	default:
		return excServerDeviceFailure
	}
}

// Reads an entire frame (MBAP header + modbus PDU) from the socket.
func (s *ModbusServer) readMBAPFrame(sock net.Conn) (p *pdu, txnId uint16, err error) {
	var rxbuf []byte
	var bytesNeeded int
	var protocolId uint16
	var unitId uint8

	// read the MBAP header
	rxbuf = make([]byte, mbapHeaderLength)
	_, err = io.ReadFull(sock, rxbuf)
	if err != nil {
		return
	}

	// decode the transaction identifier
	txnId = bytesToUint16(BIG_ENDIAN, rxbuf[0:2])
	// decode the protocol identifier
	protocolId = bytesToUint16(BIG_ENDIAN, rxbuf[2:4])
	// store the source unit id
	unitId = rxbuf[6]

	// determine how many more bytes we need to read
	bytesNeeded = int(bytesToUint16(BIG_ENDIAN, rxbuf[4:6]))

	// the byte count includes the unit ID field, which we already have
	bytesNeeded--

	// never read more than the max allowed frame length
	if bytesNeeded+mbapHeaderLength > maxTCPFrameLength {
		err = ErrProtocolError
		return
	}

	// an MBAP length of 0 is illegal
	if bytesNeeded <= 0 {
		err = ErrProtocolError
		return
	}

	// read the PDU
	rxbuf = make([]byte, bytesNeeded)
	_, err = io.ReadFull(sock, rxbuf)
	if err != nil {
		return
	}

	// validate the protocol identifier
	if protocolId != 0x0000 {
		err = ErrUnknownProtocolId
		slog.Warn("received unexpected protocol id", "protocolId", protocolId)
		return
	}

	// store unit id, function code and payload in the PDU object
	p = &pdu{
		unitId:       unitId,
		functionCode: rxbuf[0],
		payload:      rxbuf[1:],
	}

	return
}

// Turns a PDU into an MBAP frame (MBAP header + PDU) and returns it as bytes.
func (s *ModbusServer) assembleMBAPFrame(txnId uint16, p *pdu) (payload []byte) {
	// transaction identifier
	payload = uint16ToBytes(BIG_ENDIAN, txnId)
	// protocol identifier (always 0x0000)
	payload = append(payload, 0x00, 0x00)
	// length (covers unit identifier + function code + payload fields)
	payload = append(payload, uint16ToBytes(BIG_ENDIAN, uint16(2+len(p.payload)))...)
	// unit identifier
	payload = append(payload, p.unitId)
	// function code
	payload = append(payload, p.functionCode)
	// payload
	payload = append(payload, p.payload...)

	return
}

func bytesToUint16(endianness Endianness, in []byte) (out uint16) {
	switch endianness {
	case BIG_ENDIAN:
		out = binary.BigEndian.Uint16(in)
	case LITTLE_ENDIAN:
		out = binary.LittleEndian.Uint16(in)
	}

	return
}

func uint16ToBytes(endianness Endianness, in uint16) (out []byte) {
	out = make([]byte, 2)
	switch endianness {
	case BIG_ENDIAN:
		binary.BigEndian.PutUint16(out, in)
	case LITTLE_ENDIAN:
		binary.LittleEndian.PutUint16(out, in)
	}

	return
}
