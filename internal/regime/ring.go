package regime

// Ring is a fixed-capacity FIFO of float64 samples. Pushing beyond capacity
// evicts the oldest sample. Insertion order is preserved by Values, which
// matters for the slope and autocorrelation estimators.
type Ring struct {
	buf  []float64
	head int
	n    int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

func (r *Ring) Push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *Ring) Len() int { return r.n }

func (r *Ring) Cap() int { return len(r.buf) }

// Last returns the newest sample; zero if empty.
func (r *Ring) Last() float64 {
	if r.n == 0 {
		return 0
	}
	return r.buf[(r.head+r.n-1)%len(r.buf)]
}

// Values copies the samples oldest-first.
func (r *Ring) Values() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Tail copies at most the newest n samples, oldest-first.
func (r *Ring) Tail(n int) []float64 {
	if n > r.n {
		n = r.n
	}
	out := make([]float64, n)
	start := r.n - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.head+start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Reset() {
	r.head = 0
	r.n = 0
}
