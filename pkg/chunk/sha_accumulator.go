package chunk

import "crypto/sha256"

// shaAccumulator wraps a running SHA-256 hash.Hash for the streaming
// writer's rolling digest.
type shaAccumulator struct {
	state interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}
}

func newSHAAccumulator() *shaAccumulator {
	return &shaAccumulator{state: sha256.New()}
}

func (s *shaAccumulator) Write(p []byte) {
	s.state.Write(p)
}

func (s *shaAccumulator) Sum() [32]byte {
	var out [32]byte
	copy(out[:], s.state.Sum(nil))
	return out
}
