package dome

// Pin locates one logical signal in the board's raw input word. A negative
// Bit means the signal is not wired and always reads de-asserted.
type Pin struct {
	Bit      int  `yaml:"bit"`
	Inverted bool `yaml:"inverted"`
}

func (p Pin) read(raw uint32) bool {
	if p.Bit < 0 || p.Bit > 31 {
		return false
	}
	v := (raw>>uint(p.Bit))&1 == 1
	return v != p.Inverted
}

// MotorWiring is the wiring of one shutter: its two boundary sensors and
// its two manual push buttons.
type MotorWiring struct {
	EndA    Pin `yaml:"end_a"`
	EndB    Pin `yaml:"end_b"`
	ButtonA Pin `yaml:"button_a"`
	ButtonB Pin `yaml:"button_b"`
}

// Wiring resolves physical input bits to logical signals. Sites whose sensor
// labels do not match the physical ends fix it here, never in the state
// machine.
type Wiring struct {
	Motors        [NumMotors]MotorWiring `yaml:"motors"`
	EmergencyStop Pin                    `yaml:"emergency_stop"`
	PowerFail     Pin                    `yaml:"power_fail"`
}

// DefaultWiring packs each motor's four inputs into consecutive bits,
// followed by the emergency stop. The power-fail input is not wired.
func DefaultWiring() Wiring {
	var w Wiring
	for m := range w.Motors {
		base := m * 4
		w.Motors[m] = MotorWiring{
			EndA:    Pin{Bit: base},
			EndB:    Pin{Bit: base + 1},
			ButtonA: Pin{Bit: base + 2},
			ButtonB: Pin{Bit: base + 3},
		}
	}
	w.EmergencyStop = Pin{Bit: 8}
	w.PowerFail = Pin{Bit: -1}
	return w
}

// Inputs is one tick's worth of resolved input reads.
type Inputs struct {
	AtEnd         [NumMotors][2]bool
	Button        [NumMotors][2]bool
	EmergencyStop bool
	PowerFail     bool
}

// At reports whether motor m's boundary sensor for end e is asserted.
func (in *Inputs) At(m Motor, e End) bool {
	return in.AtEnd[m][e]
}

// AtAny reports whether motor m sits at either boundary.
func (in *Inputs) AtAny(m Motor) bool {
	return in.AtEnd[m][EndA] || in.AtEnd[m][EndB]
}

// Resolve decodes a raw input word.
func (w Wiring) Resolve(raw uint32) Inputs {
	var in Inputs
	for m, mw := range w.Motors {
		in.AtEnd[m][EndA] = mw.EndA.read(raw)
		in.AtEnd[m][EndB] = mw.EndB.read(raw)
		in.Button[m][EndA] = mw.ButtonA.read(raw)
		in.Button[m][EndB] = mw.ButtonB.read(raw)
	}
	in.EmergencyStop = w.EmergencyStop.read(raw)
	in.PowerFail = w.PowerFail.read(raw)
	return in
}
