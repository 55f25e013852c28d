package sdputil

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// MediaSummary describes one media section of a parsed description.
type MediaSummary struct {
	Kind      string
	Protocol  string
	Formats   []string          // payload types in m= line order
	Codecs    map[string]string // payload type -> "name/rate"
	Fmtp      map[string]string // payload type -> raw parameter list
	Bandwidth map[string]uint64 // bandwidth type (AS, TIAS) -> value
	Direction string
}

// PreferredCodec returns the codec of the first listed payload type.
func (m MediaSummary) PreferredCodec() string {
	if len(m.Formats) == 0 {
		return ""
	}
	return m.Codecs[m.Formats[0]]
}

// Inspect parses doc with a full SDP grammar and summarizes its media
// sections. Unlike the rewriters it fails on malformed input.
func Inspect(doc string) ([]MediaSummary, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(doc)); err != nil {
		return nil, fmt.Errorf("failed to parse SDP: %w", err)
	}

	out := make([]MediaSummary, 0, len(desc.MediaDescriptions))
	for _, md := range desc.MediaDescriptions {
		s := MediaSummary{
			Kind:      md.MediaName.Media,
			Protocol:  strings.Join(md.MediaName.Protos, "/"),
			Formats:   append([]string(nil), md.MediaName.Formats...),
			Codecs:    make(map[string]string),
			Fmtp:      make(map[string]string),
			Bandwidth: make(map[string]uint64),
			Direction: "sendrecv",
		}
		for _, bw := range md.Bandwidth {
			s.Bandwidth[bw.Type] = bw.Bandwidth
		}
		for _, attr := range md.Attributes {
			switch attr.Key {
			case "rtpmap":
				if m, ok := ParseRtpmap("a=rtpmap:" + attr.Value); ok {
					s.Codecs[m.PayloadType] = fmt.Sprintf("%s/%d", m.Name, m.ClockRate)
				}
			case "fmtp":
				pt, params, _ := strings.Cut(attr.Value, " ")
				s.Fmtp[pt] = params
			case "sendrecv", "sendonly", "recvonly", "inactive":
				s.Direction = attr.Key
			}
		}
		out = append(out, s)
	}
	return out, nil
}
