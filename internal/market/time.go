package market

// WithinHHmm reports whether an HHMMSS bar time falls inside [start, end)
// where start/end are HHmm integers (e.g. 930, 1600).
func WithinHHmm(hhmmss, startHHmm, endHHmm int) bool {
	hh := hhmmss / 10000
	mm := (hhmmss / 100) % 100
	hhmm := hh*100 + mm
	return hhmm >= startHHmm && hhmm < endHHmm
}

// HHmmssToSeconds converts an HHMMSS integer to seconds since midnight.
func HHmmssToSeconds(hhmmss int) int {
	hh := hhmmss / 10000
	mm := (hhmmss / 100) % 100
	ss := hhmmss % 100
	return hh*3600 + mm*60 + ss
}
