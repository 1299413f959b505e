package cos

import "crypto/rand"

// letters used by GenBEID/CryptoRandS; kept distinct from uuidABC (shortid alphabet)
const (
	LetterRunes   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	LenRunes      = len(LetterRunes)
	letterIdxBits = 6
	letterIdxMask = 1<<letterIdxBits - 1

	// seed for the k8s-proxy-id xxhash digest (arbitrary, fixed for reproducibility)
	MLCG32 = uint64(0x9e3779b97f4a7c15)
)

// CryptoRandS returns a cryptographically random alphanumeric string of length l.
func CryptoRandS(l int) string {
	b := make([]byte, l)
	buf := make([]byte, l)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is effectively unrecoverable on any supported platform
		panic(err)
	}
	for i, c := range buf {
		b[i] = LetterRunes[int(c)%LenRunes]
	}
	return string(b)
}
