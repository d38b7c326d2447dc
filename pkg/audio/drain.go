package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it after closing a streaming source whose channel must still be
// emptied, such as the events of a closed live session.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
