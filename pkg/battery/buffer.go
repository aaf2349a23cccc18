package battery

// Buffer is a fixed-size FIFO of voltage samples. It is always full: it
// starts seeded and each Push evicts the oldest sample.
type Buffer struct {
	samples [BufferSize]float64
	next    int // index of the oldest sample
}

// NewBuffer returns a buffer filled with seed.
func NewBuffer(seed float64) *Buffer {
	b := &Buffer{}
	for i := range b.samples {
		b.samples[i] = seed
	}
	return b
}

// Push appends v and drops the oldest sample.
func (b *Buffer) Push(v float64) {
	b.samples[b.next] = v
	b.next = (b.next + 1) % BufferSize
}

// Len is always BufferSize.
func (b *Buffer) Len() int { return BufferSize }

// Average returns the mean of the samples.
func (b *Buffer) Average() float64 {
	var sum float64
	for _, v := range b.samples {
		sum += v
	}
	return sum / BufferSize
}

// Samples returns the samples oldest first.
func (b *Buffer) Samples() []float64 {
	out := make([]float64, 0, BufferSize)
	out = append(out, b.samples[b.next:]...)
	out = append(out, b.samples[:b.next]...)
	return out
}

// Compensation is Compensation(b.Average()).
func (b *Buffer) Compensation() float64 {
	return Compensation(b.Average())
}
