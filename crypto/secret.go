package crypto

// Zeroize overwrites b with zeros. Use on any buffer that held secret
// material before letting it go out of scope.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// WithSecret runs fn with ownership of secret and zeroes the buffer on
// every exit path, including panic. The callback must not retain the slice.
func WithSecret(secret []byte, fn func([]byte) error) error {
	defer Zeroize(secret)
	return fn(secret)
}
