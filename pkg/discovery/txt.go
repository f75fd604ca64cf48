package discovery

// TXT record keys advertised by a session creator, matching the
// key names the joiner side reads in the original implementation.
const (
	TXTKeyDevice      = "device"
	TXTKeyFingerprint = "fingerprint"
	TXTKeyVersion     = "version"
)

// TXTRecord is the structured form of the advertised TXT key/value set.
type TXTRecord struct {
	Device      string
	Fingerprint string
	Version     string
}

// EncodeTXT renders r as "key=value" strings suitable for zeroconf.Register.
func EncodeTXT(r TXTRecord) []string {
	return []string{
		TXTKeyDevice + "=" + r.Device,
		TXTKeyFingerprint + "=" + r.Fingerprint,
		TXTKeyVersion + "=" + r.Version,
	}
}

// ParseTXT parses "key=value" TXT strings into a lookup map, ignoring
// malformed entries.
func ParseTXT(entries []string) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		for i := 0; i < len(e); i++ {
			if e[i] == '=' {
				m[e[:i]] = e[i+1:]
				break
			}
		}
	}
	return m
}

// DecodeTXT builds a TXTRecord from parsed key/value pairs, defaulting
// missing fields to their zero value.
func DecodeTXT(m map[string]string) TXTRecord {
	return TXTRecord{
		Device:      m[TXTKeyDevice],
		Fingerprint: m[TXTKeyFingerprint],
		Version:     m[TXTKeyVersion],
	}
}
