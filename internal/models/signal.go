package models

// ChannelType enumerates sensor categories.
type ChannelType string

const (
	ChannelMag  ChannelType = "mag"
	ChannelGrad ChannelType = "grad"
	ChannelEEG  ChannelType = "eeg"
)

// Unit returns the display unit conventionally used for the channel type.
func (c ChannelType) Unit() string {
	switch c {
	case ChannelMag:
		return "fT"
	case ChannelGrad:
		return "fT/cm"
	case ChannelEEG:
		return "µV"
	default:
		return ""
	}
}

// Valid reports whether c is a known channel type.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelMag, ChannelGrad, ChannelEEG:
		return true
	default:
		return false
	}
}

// Channel describes one leadfield row.
type Channel struct {
	Name string
	Type ChannelType
}

// EvokedSignal is the sensor-space response to a dipole. Data follows channel
// order; ByType splits it per category in the same relative order.
type EvokedSignal struct {
	Channels []Channel
	Data     []float64
	ByType   map[ChannelType][]float64
}

// Types returns the channel types present, in mag, grad, eeg order.
func (e EvokedSignal) Types() []ChannelType {
	out := make([]ChannelType, 0, 3)
	for _, t := range []ChannelType{ChannelMag, ChannelGrad, ChannelEEG} {
		if _, ok := e.ByType[t]; ok {
			out = append(out, t)
		}
	}
	return out
}
