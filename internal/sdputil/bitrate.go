package sdputil

import "strconv"

// Format parameters understood by libwebrtc for the initial send bitrate.
const (
	paramMinBitrate = "x-google-min-bitrate"
	paramMaxBitrate = "x-google-max-bitrate"
)

// PreferBitrate sets a b=AS:<kbps> line in the media section of kind. Any
// b=AS line between the section's c= line and the next m= line is replaced
// by a single line placed directly after c= (RFC 4566 ordering).
func PreferBitrate(doc string, kind string, kbps int) string {
	if kbps <= 0 {
		return doc
	}
	l := Split(doc)
	start, end, ok := l.Section(kind)
	if !ok {
		return doc
	}
	cLine, ok := l.FindInRange(start+1, end, "c=", "")
	if !ok {
		return doc
	}

	bwLine := "b=AS:" + strconv.Itoa(kbps)
	if bLine, ok := l.FindInRange(cLine+1, end, "b=AS", ""); ok {
		if bLine == cLine+1 && l[bLine] == bwLine {
			return doc
		}
		l = l.remove(bLine)
	}
	l = l.insert(cLine+1, bwLine)
	return l.String()
}

// SetVideoSendInitialBitrate sets the minimum and maximum bitrate format
// parameters on codec in the video section. When ceiling is positive the
// initial value is clamped to it; otherwise the ceiling defaults to initial.
func SetVideoSendInitialBitrate(doc string, codec Codec, initial, ceiling int) string {
	if initial <= 0 {
		return doc
	}
	initial = ClampInitialBitrate(initial, ceiling)
	if ceiling <= 0 {
		ceiling = initial
	}
	if _, _, ok := Split(doc).Section("video"); !ok {
		return doc
	}
	if codec == "" {
		codec = VP8
	}
	doc = SetCodecParam(doc, codec, paramMinBitrate, strconv.Itoa(initial))
	return SetCodecParam(doc, codec, paramMaxBitrate, strconv.Itoa(ceiling))
}

// ClampInitialBitrate returns initial limited to ceiling when a ceiling is set.
func ClampInitialBitrate(initial, ceiling int) int {
	if ceiling > 0 && initial > ceiling {
		return ceiling
	}
	return initial
}
