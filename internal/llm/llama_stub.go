//go:build !llama

package llm

// InitBackend refuses to start without the 'llama' build tag. There is no
// mocked runtime in production binaries.
func InitBackend() (Backend, error) {
	return nil, ErrUnavailable
}
