// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package sensors

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/magband/internal/imu"
)

// serialSource reads PMAG sentences from the wrist unit's serial bridge.
type serialSource struct {
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// NewSerialSource opens the serial port the BLE bridge exposes and
// returns a sample source reading the unit's sentence stream.
func NewSerialSource(portName string, baudRate uint) (imu.Source, io.Closer, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("sensors: open serial port %s: %w", portName, err)
	}
	log.Printf("sensors: serial port opened on %s at %d baud", portName, baudRate)

	return &serialSource{port: port, reader: bufio.NewReader(port)}, port, nil
}

// NextRaw blocks until the next valid PMAG sentence arrives. Lines that
// are not PMAG sentences (boot banners, other talkers) are skipped;
// checksum failures are logged and skipped.
func (s *serialSource) NextRaw() (imu.RawSample, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return imu.RawSample{}, fmt.Errorf("sensors: serial read: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}

		sentence, err := nmea.Parse(line)
		if err != nil {
			log.Printf("sensors: dropping malformed sentence: %v", err)
			continue
		}

		pmag, ok := sentence.(PMAG)
		if !ok {
			continue
		}
		return pmag.RawSample(), nil
	}
}
