package sdputil

import (
	"strconv"
	"strings"
)

// Codec names a codec as "NAME/CLOCKRATE", e.g. "opus/48000" or "VP8/90000".
type Codec string

// Common codecs referenced by MediaPolicy defaults.
const (
	Opus Codec = "opus/48000"
	VP8  Codec = "VP8/90000"
)

// Name returns the encoding name part of c.
func (c Codec) Name() string {
	name, _, _ := strings.Cut(string(c), "/")
	return name
}

// ClockRate returns the clock rate part of c, or 0 if c has none.
func (c Codec) ClockRate() int {
	_, rate, ok := strings.Cut(string(c), "/")
	if !ok {
		return 0
	}
	rate, _, _ = strings.Cut(rate, "/")
	n, err := strconv.Atoi(rate)
	if err != nil {
		return 0
	}
	return n
}

// Rtpmap is a parsed a=rtpmap line.
type Rtpmap struct {
	PayloadType string
	Name        string
	ClockRate   int
	Channels    string
}

// ParseRtpmap parses "a=rtpmap:<pt> <name>/<rate>[/<channels>]".
func ParseRtpmap(line string) (Rtpmap, bool) {
	rest, ok := strings.CutPrefix(line, "a=rtpmap:")
	if !ok {
		return Rtpmap{}, false
	}
	pt, encoding, ok := strings.Cut(rest, " ")
	if !ok || !isPayloadType(pt) {
		return Rtpmap{}, false
	}
	parts := strings.Split(strings.TrimSpace(encoding), "/")
	if len(parts) < 2 || parts[0] == "" {
		return Rtpmap{}, false
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil {
		return Rtpmap{}, false
	}
	m := Rtpmap{PayloadType: pt, Name: parts[0], ClockRate: rate}
	if len(parts) > 2 {
		m.Channels = parts[2]
	}
	return m, true
}

// Matches reports whether the mapping describes codec c. Names compare
// case-insensitively; a codec without clock rate matches any rate.
func (m Rtpmap) Matches(c Codec) bool {
	if !strings.EqualFold(m.Name, c.Name()) {
		return false
	}
	rate := c.ClockRate()
	return rate == 0 || rate == m.ClockRate
}

func isPayloadType(s string) bool {
	if s == "" || len(s) > 3 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// findRtpmap returns the index and payload type of the first a=rtpmap line
// for codec within l[start:end].
func (l Lines) findRtpmap(start, end int, codec Codec) (int, string, bool) {
	for i := start; i < end && i < len(l); i++ {
		m, ok := ParseRtpmap(l[i])
		if ok && m.Matches(codec) {
			return i, m.PayloadType, true
		}
	}
	return -1, "", false
}

// PayloadType resolves codec to its payload type within the media section of
// kind. It is scoped to that section since payload types are per section.
func PayloadType(doc string, kind string, codec Codec) (string, bool) {
	l := Split(doc)
	start, end, ok := l.Section(kind)
	if !ok {
		return "", false
	}
	_, pt, ok := l.findRtpmap(start+1, end, codec)
	return pt, ok
}

// PreferCodec moves the payload type of codec to the front of the m= line of
// the kind section. The other payload types keep their relative order. The
// document is returned unchanged when the section or codec is absent.
func PreferCodec(doc string, kind string, codec Codec) string {
	if codec == "" {
		return doc
	}
	l := Split(doc)
	start, end, ok := l.Section(kind)
	if !ok {
		return doc
	}
	_, pt, ok := l.findRtpmap(start+1, end, codec)
	if !ok {
		return doc
	}
	mLine := setDefaultCodec(l[start], pt)
	if mLine == l[start] {
		return doc
	}
	l[start] = mLine
	return l.String()
}

// setDefaultCodec rewrites "m=<kind> <port> <proto> <fmt>..." so that pt is
// the first format.
func setDefaultCodec(mLine, pt string) string {
	elems := strings.Split(mLine, " ")
	if len(elems) < 4 {
		return mLine
	}
	out := make([]string, 0, len(elems))
	out = append(out, elems[:3]...)
	out = append(out, pt)
	for _, e := range elems[3:] {
		if e != pt {
			out = append(out, e)
		}
	}
	return strings.Join(out, " ")
}
