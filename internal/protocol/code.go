package protocol

// PairingCodeLength is the number of digits in a pairing code.
const PairingCodeLength = 6

// ValidPairingCode reports whether code is exactly six ASCII digits.
func ValidPairingCode(code string) bool {
	if len(code) != PairingCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
