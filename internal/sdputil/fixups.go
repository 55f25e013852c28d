package sdputil

import "strings"

const (
	profileSAVPF       = "UDP/TLS/RTP/SAVPF"
	profileLegacySAVPF = "RTP/SAVPF"
)

// StripRTX removes retransmission (rtx) payload types from every media
// section: their rtpmap, fmtp and rtcp-fb lines and their entry in the m=
// line format list.
func StripRTX(doc string) string {
	l := Split(doc)
	changed := false

	for start := 0; start < len(l); {
		if !strings.HasPrefix(l[start], "m=") {
			start++
			continue
		}
		end := l.sectionEnd(start)

		drop := make(map[string]bool)
		for i := start + 1; i < end; i++ {
			if m, ok := ParseRtpmap(l[i]); ok && strings.EqualFold(m.Name, "rtx") {
				drop[m.PayloadType] = true
			}
		}
		if len(drop) == 0 {
			start = end
			continue
		}

		kept := append(Lines(nil), l[:start+1]...)
		kept[start] = removeFormats(l[start], drop)
		for i := start + 1; i < end; i++ {
			if attributePayloadType(l[i], drop) {
				continue
			}
			kept = append(kept, l[i])
		}
		newEnd := len(kept)
		l = append(kept, l[end:]...)
		changed = true
		start = newEnd
	}

	if !changed {
		return doc
	}
	return l.String()
}

// attributePayloadType reports whether line is an rtpmap, fmtp or rtcp-fb
// attribute for one of the payload types in pts.
func attributePayloadType(line string, pts map[string]bool) bool {
	for _, prefix := range []string{"a=rtpmap:", "a=fmtp:", "a=rtcp-fb:"} {
		rest, ok := strings.CutPrefix(line, prefix)
		if !ok {
			continue
		}
		pt, _, _ := strings.Cut(rest, " ")
		return pts[pt]
	}
	return false
}

func removeFormats(mLine string, pts map[string]bool) string {
	elems := strings.Split(mLine, " ")
	if len(elems) < 4 {
		return mLine
	}
	out := elems[:3:3]
	for _, e := range elems[3:] {
		if !pts[e] {
			out = append(out, e)
		}
	}
	return strings.Join(out, " ")
}

// DowngradeProfile replaces the UDP/TLS/RTP/SAVPF transport profile with
// RTP/SAVPF on every m= line.
func DowngradeProfile(doc string) string {
	l := Split(doc)
	changed := false
	for i, line := range l {
		if strings.HasPrefix(line, "m=") && strings.Contains(line, profileSAVPF) {
			l[i] = strings.ReplaceAll(line, profileSAVPF, profileLegacySAVPF)
			changed = true
		}
	}
	if !changed {
		return doc
	}
	return l.String()
}

// CandidateType returns the type (host, srflx, prflx, relay) of an ICE
// candidate string, or "" if the candidate is too short.
func CandidateType(candidate string) string {
	fields := strings.Split(candidate, " ")
	if len(fields) < 8 {
		return ""
	}
	return fields[7]
}
