package cablesizing

// motorFLC is CEC Table 44: three-phase AC motor full load current at 575V,
// ascending by horsepower.
var motorFLC = []struct {
	HP   float64
	Amps float64
}{
	{1, 1.4},
	{1.5, 2.0},
	{2, 2.7},
	{3, 3.9},
	{5, 6.1},
	{7.5, 9.0},
	{10, 11.0},
	{15, 17.0},
	{20, 22.0},
	{25, 27.0},
	{30, 32.0},
	{40, 41.0},
	{50, 52.0},
	{60, 62.0},
	{75, 77.0},
	{100, 99.0},
	{125, 125.0},
	{150, 144.0},
	{200, 192.0},
}

// conductor is one row of the copper conductor table, smallest to largest.
type conductor struct {
	Size     string
	Ampacity float64 // CEC Table 2, 75C column, not more than 3 conductors
	Ohms     float64 // AC resistance at 75C, ohms/km
}

var conductors = []conductor{
	{"14 AWG", 20, 10.5},
	{"12 AWG", 25, 6.6},
	{"10 AWG", 35, 4.1},
	{"8 AWG", 50, 2.6},
	{"6 AWG", 65, 1.6},
	{"4 AWG", 85, 1.0},
	{"3 AWG", 100, 0.8},
	{"2 AWG", 115, 0.6},
	{"1 AWG", 130, 0.5},
	{"1/0 AWG", 150, 0.4},
	{"2/0 AWG", 175, 0.3},
	{"3/0 AWG", 200, 0.25},
	{"4/0 AWG", 230, 0.2},
	{"250 kcmil", 255, 0.17},
	{"350 kcmil", 310, 0.12},
	{"500 kcmil", 380, 0.09},
	{"750 kcmil", 475, 0.06},
}

// Sizes returns the standard conductor sizes, smallest first.
func Sizes() []string {
	out := make([]string, len(conductors))
	for i, c := range conductors {
		out[i] = c.Size
	}
	return out
}

func sizeIndex(size string) int {
	for i, c := range conductors {
		if c.Size == size {
			return i
		}
	}
	return -1
}

// Ampacity returns the tabulated ampacity of a conductor size.
func Ampacity(size string) (float64, bool) {
	i := sizeIndex(size)
	if i < 0 {
		return 0, false
	}
	return conductors[i].Ampacity, true
}

// Impedance returns the per-kilometre impedance of a conductor size.
func Impedance(size string) (float64, bool) {
	i := sizeIndex(size)
	if i < 0 {
		return 0, false
	}
	return conductors[i].Ohms, true
}
