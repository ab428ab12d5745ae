// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text


package sensors

import (
	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/magband/internal/imu"
)

// TypePMAG identifies the wrist unit's proprietary telemetry sentence:
//
//	$PMAG,<t_ms>,<ax>,<ay>,<az>,<gx>,<gy>,<gz>,<mx>,<my>,<mz>*hh
//
// All ten fields are decimal integers: the unit's millisecond timestamp
// followed by the nine raw sensor codes. Standard NMEA framing and
// checksum; one sentence per sample at the native rate.
const TypePMAG = "PMAG"

// PMAG is the parsed telemetry sentence.
type PMAG struct {
	nmea.BaseSentence
	TimestampMS int64
	Ax, Ay, Az  int64
	Gx, Gy, Gz  int64
	Mx, My, Mz  int64
}

func init() {
	// go-nmea splits a proprietary prefix into talker "P" + type, so the
	// parser must be registered under "MAG" to match "$PMAG" sentences.
	nmea.MustRegisterParser(TypePMAG[1:], func(s nmea.BaseSentence) (nmea.Sentence, error) {
		p := nmea.NewParser(s)
		return PMAG{
			BaseSentence: s,
			TimestampMS:  p.Int64(0, "timestamp_ms"),
			Ax:           p.Int64(1, "ax"),
			Ay:           p.Int64(2, "ay"),
			Az:           p.Int64(3, "az"),
			Gx:           p.Int64(4, "gx"),
			Gy:           p.Int64(5, "gy"),
			Gz:           p.Int64(6, "gz"),
			Mx:           p.Int64(7, "mx"),
			My:           p.Int64(8, "my"),
			Mz:           p.Int64(9, "mz"),
		}, p.Err()
	})
}

// RawSample converts the sentence into the pipeline's input record.
func (s PMAG) RawSample() imu.RawSample {
	return imu.RawSample{
		Ax: int16(s.Ax), Ay: int16(s.Ay), Az: int16(s.Az),
		Gx: int16(s.Gx), Gy: int16(s.Gy), Gz: int16(s.Gz),
		Mx: int16(s.Mx), My: int16(s.My), Mz: int16(s.Mz),
		TimestampMS: uint32(s.TimestampMS),
	}
}
