package channel

// Buffered decouples a producer from its consumers by inserting a buffer of
// the given size. The returned channel closes once in is closed and drained.
func Buffered[T any](in <-chan T, bufferSize int) <-chan T {
	out := make(chan T, bufferSize)
	go func() {
		defer close(out)
		for item := range in {
			out <- item
		}
	}()
	return out
}
