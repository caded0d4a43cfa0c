package tasks

// Sealer encrypts the accept URL while an invitation task waits in Redis.
// *crypto.Encryptor satisfies it.
type Sealer interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(ciphertext string) (string, error)
}

type settings struct {
	sealer Sealer
}

// Option configures an InvitationNotifier or a Handler.
type Option func(*settings)

// WithSealer makes notifiers seal and handlers unseal the accept URL.
// Both sides must be given the same key.
func WithSealer(s Sealer) Option {
	return func(st *settings) { st.sealer = s }
}

func applyOptions(opts []Option) settings {
	var st settings
	for _, opt := range opts {
		opt(&st)
	}
	return st
}
