package modbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rwirdemann/modbits"
	"github.com/simonvetter/modbus"
)

type Adapter struct {
	client *modbus.ModbusClient
}

func NewAdapter(server modbits.Server) Adapter {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     server.Url,
		Timeout: time.Duration(server.Timeout) * time.Millisecond,
	})
	if err != nil {
		panic(err)
	}
	if err = client.Open(); err != nil {
		panic(err)
	}

	return Adapter{client: client}
}

func (a Adapter) Close() {
	_ = a.client.Close()
}

func (a Adapter) ReadRegister(register []modbits.Register) []modbits.Register {
	var rr []modbits.Register
	for _, r := range register {
		switch r.RegisterType {
		case "holding":
			holding, err := a.readHolding(r)
			if err != nil {
				continue
			}
			rr = append(rr, holding)
		case "input":
			input, err := a.readInput(r)
			if err != nil {
				slog.Error("error reading input register", "err", err)
				continue
			}
			rr = append(rr, input)
		case "discrete":
			discrete, err := a.readDiscrete(r)
			if err != nil {
				slog.Error("error reading discrete input", "err", err)
				continue
			}
			rr = append(rr, discrete)
		case "coil":
			coil, err := a.readCoil(r)
			if err != nil {
				slog.Error("error reading coil", "err", err)
				continue
			}
			rr = append(rr, coil)
		default:
			slog.Error("unknown register type", "type", r.RegisterType)
		}
	}
	return rr
}

func (a Adapter) WriteRegister(r modbits.Register) error {
	if err := a.client.SetUnitId(r.SlaveAddress); err != nil {
		return fmt.Errorf("set unit id: %w", err)
	}

	switch r.Datatype {
	case "BOOL":
		v := r.RawData.(bool)
		if err := a.client.WriteCoil(r.Address, v); err != nil {
			return err
		}
	case "U16":
		v := r.RawData.(uint16)
		if err := a.client.WriteRegister(r.Address, v); err != nil {
			return err
		}
	case "F32T1234":
		v := r.RawData.(float32)
		if err := a.client.WriteFloat32(r.Address, v); err != nil {
			return err
		}
	case "T64T1234":
		v := r.RawData.(uint64)
		if err := a.client.WriteUint64(r.Address, v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown datatype: %s", r.Datatype)
	}
	return nil
}

// WriteCoils packs values into a single write multiple coils request.
func (a Adapter) WriteCoils(slaveAddress uint8, address uint16, values []bool) error {
	if err := a.client.SetUnitId(slaveAddress); err != nil {
		return fmt.Errorf("set unit id: %w", err)
	}
	return a.client.WriteCoils(address, values)
}

// ReadCoils reads quantity coils starting at address.
func (a Adapter) ReadCoils(slaveAddress uint8, address, quantity uint16) ([]bool, error) {
	if err := a.client.SetUnitId(slaveAddress); err != nil {
		return nil, fmt.Errorf("set unit id: %w", err)
	}
	return a.client.ReadCoils(address, quantity)
}

func (a Adapter) readHolding(register modbits.Register) (modbits.Register, error) {
	if err := a.client.SetUnitId(register.SlaveAddress); err != nil {
		return modbits.Register{}, fmt.Errorf("set unit id: %w", err)
	}

	switch register.Datatype {
	case "U16":
		v, err := a.client.ReadRegister(register.Address, modbus.HOLDING_REGISTER)
		if err != nil {
			return modbits.Register{}, err
		}
		register.RawData = v
		return register, nil
	case "F32T1234":
		v, err := a.client.ReadFloat32(register.Address, modbus.HOLDING_REGISTER)
		if err != nil {
			return modbits.Register{}, err
		}
		register.RawData = v
		return register, nil
	default:
		return modbits.Register{}, fmt.Errorf("unknown datatype: %s", register.Datatype)
	}
}

func (a Adapter) readInput(register modbits.Register) (modbits.Register, error) {
	if err := a.client.SetUnitId(register.SlaveAddress); err != nil {
		return modbits.Register{}, fmt.Errorf("set unit id: %w", err)
	}

	switch register.Datatype {
	case "U16":
		v, err := a.client.ReadRegister(register.Address, modbus.INPUT_REGISTER)
		if err != nil {
			return modbits.Register{}, err
		}
		register.RawData = v
		return register, nil
	case "T64T1234":
		v, err := a.client.ReadUint64(register.Address, modbus.INPUT_REGISTER)
		if err != nil {
			return modbits.Register{}, err
		}
		register.RawData = v
		return register, nil
	default:
		return modbits.Register{}, fmt.Errorf("unknown datatype: %s", register.Datatype)
	}
}

func (a Adapter) readDiscrete(register modbits.Register) (modbits.Register, error) {
	if err := a.client.SetUnitId(register.SlaveAddress); err != nil {
		return modbits.Register{}, fmt.Errorf("set unit id: %w", err)
	}

	b, err := a.client.ReadDiscreteInput(register.Address)
	if err != nil {
		return modbits.Register{}, err
	}
	register.RawData = b
	return register, nil
}

func (a Adapter) readCoil(register modbits.Register) (modbits.Register, error) {
	if err := a.client.SetUnitId(register.SlaveAddress); err != nil {
		return modbits.Register{}, fmt.Errorf("set unit id: %w", err)
	}

	b, err := a.client.ReadCoil(register.Address)
	if err != nil {
		return modbits.Register{}, err
	}
	register.RawData = b
	return register, nil
}
