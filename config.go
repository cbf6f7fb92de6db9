package modbits

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
)

type Config struct {
	Servers []Server `json:"servers"`
}

type Server struct {
	Url       string   `json:"url"`
	Timeout   int      `json:"timeout"`
	Registers int      `json:"registers"`  // size of the register bank
	Coils     []uint16 `json:"coils"`      // register addresses exposed as coils, in coil order
	Discretes []uint16 `json:"discretes"`  // register addresses exposed as discrete inputs
	Slaves    []Slave  `json:"slaves"`
}

type Slave struct {
	Address int    `json:"address,omitempty"`
	Type    string `json:"type"`
}

// Build constructs the register bank and the coil and discrete input views
// described by this server entry.
func (s Server) Build() (*RegisterBank, *CoilView, *CoilView, error) {
	bank := NewRegisterBank(s.Registers)
	coils, err := NewCoilView(bank, s.Coils)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("coils: %w", err)
	}
	discretes, err := NewDiscreteView(bank, s.Discretes)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("discretes: %w", err)
	}
	return bank, coils, discretes, nil
}

func LoadConfig(configPath string) (Config, error) {
	if !exists(path.Join(configPath, "config.json")) {
		return Config{}, fmt.Errorf("configuration file not found: %s", path.Join(configPath, "config.json"))
	}

	bb, err := os.ReadFile(path.Join(configPath, "config.json"))
	if err != nil {
		return Config{}, fmt.Errorf("error reading file: %w", err)
	}
	var config Config
	if err := json.NewDecoder(bytes.NewReader(bb)).Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error decoding file: %w", err)
	}
	return config, nil
}

func exists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil || !os.IsNotExist(err)
}
