package message

import (
	"strings"
)

// base85Alphabet is the SMS-safe base85 alphabet. It omits characters that
// some SMS gateways rewrite.
const base85Alphabet = "!\"#$%&'()*+,-./0123456789:;<=>?@ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var base85Decode [256]int16

func init() {
	for i := range base85Decode {
		base85Decode[i] = -1
	}
	for i := 0; i < len(base85Alphabet); i++ {
		base85Decode[base85Alphabet[i]] = int16(i)
	}
}

var pow85 = [5]uint64{85 * 85 * 85 * 85, 85 * 85 * 85, 85 * 85, 85, 1}

// EncodeBase85 encodes src. Every 4 bytes become 5 characters; a trailing
// group of n bytes becomes n+1 characters.
func EncodeBase85(src []byte) string {
	var sb strings.Builder
	sb.Grow((len(src)*5 + 3) / 4)

	for len(src) > 0 {
		n := min(4, len(src))
		var tuple uint32
		for i := 0; i < n; i++ {
			tuple |= uint32(src[i]) << (24 - 8*i)
		}
		var digits [5]byte
		for i := 4; i >= 0; i-- {
			digits[i] = base85Alphabet[tuple%85]
			tuple /= 85
		}
		sb.Write(digits[:n+1])
		src = src[n:]
	}
	return sb.String()
}

// DecodeBase85 decodes text produced by EncodeBase85.
func DecodeBase85(text string) ([]byte, error) {
	out := make([]byte, 0, len(text)*4/5+4)

	for len(text) > 0 {
		n := min(5, len(text))
		if n == 1 {
			return nil, ErrBadEncoding
		}
		var tuple uint64
		for i := 0; i < n; i++ {
			d := base85Decode[text[i]]
			if d < 0 {
				return nil, ErrBadEncoding
			}
			tuple += uint64(d) * pow85[i]
		}
		if n < 5 {
			// Round up past the truncated digits.
			tuple += pow85[n-1]
		}
		if tuple > 0xFFFFFFFF {
			return nil, ErrBadEncoding
		}
		for i := 0; i < n-1; i++ {
			out = append(out, byte(tuple>>(24-8*i)))
		}
		text = text[n:]
	}
	return out, nil
}

// EncodeSMS renders a segment as SMS text. A non-empty sharedKey is sent
// as a "(key):" preamble so a gateway can route the message.
func EncodeSMS(sharedKey string, segment []byte) string {
	body := EncodeBase85(segment)
	if sharedKey == "" {
		return body
	}
	return "(" + sharedKey + "):" + body
}

// DecodeSMS parses SMS text into a segment. The preamble key is compared
// case-insensitively.
func DecodeSMS(sharedKey, text string) ([]byte, error) {
	text = strings.TrimRight(text, "\r\n")
	if sharedKey != "" {
		prefix := "(" + sharedKey + "):"
		if len(text) < len(prefix) ||
			text[0] != '(' ||
			!strings.EqualFold(text[1:1+len(sharedKey)], sharedKey) ||
			text[1+len(sharedKey):len(prefix)] != "):" {
			return nil, ErrBadPreamble
		}
		text = text[len(prefix):]
	}
	return DecodeBase85(text)
}

// MaxSMSSegmentSize returns the largest segment that fits in an SMS of
// maxChars characters after the preamble for sharedKey.
func MaxSMSSegmentSize(maxChars int, sharedKey string) int {
	if sharedKey != "" {
		maxChars -= len(sharedKey) + 3
	}
	if maxChars <= 0 {
		return 0
	}
	return maxChars * 4 / 5
}
