package sdputil

import (
	"strconv"

	"github.com/pion/webrtc/v4"
)

// Flag is a tri-state boolean option carried as a string: "true" enables,
// "false" disables and anything else (usually "") leaves the SDP as-is.
type Flag string

const (
	FlagUnset Flag = ""
	FlagTrue  Flag = "true"
	FlagFalse Flag = "false"
)

// MediaPolicy describes the media parameters the application wants to see
// negotiated. Zero values mean "no preference".
type MediaPolicy struct {
	OpusStereo          Flag `json:"opusStereo,omitempty" mapstructure:"opus-stereo"`
	OpusFec             Flag `json:"opusFec,omitempty" mapstructure:"opus-fec"`
	OpusDtx             Flag `json:"opusDtx,omitempty" mapstructure:"opus-dtx"`
	OpusMaxPlaybackRate int  `json:"opusMaxPlaybackRate,omitempty" mapstructure:"opus-max-playback-rate"`

	// Bitrates in kbps.
	AudioSendBitrate        int `json:"audioSendBitrate,omitempty" mapstructure:"audio-send-bitrate"`
	AudioRecvBitrate        int `json:"audioRecvBitrate,omitempty" mapstructure:"audio-recv-bitrate"`
	VideoSendBitrate        int `json:"videoSendBitrate,omitempty" mapstructure:"video-send-bitrate"`
	VideoRecvBitrate        int `json:"videoRecvBitrate,omitempty" mapstructure:"video-recv-bitrate"`
	VideoSendInitialBitrate int `json:"videoSendInitialBitrate,omitempty" mapstructure:"video-send-initial-bitrate"`

	AudioSendCodec Codec `json:"audioSendCodec,omitempty" mapstructure:"audio-send-codec"`
	AudioRecvCodec Codec `json:"audioRecvCodec,omitempty" mapstructure:"audio-recv-codec"`
	VideoSendCodec Codec `json:"videoSendCodec,omitempty" mapstructure:"video-send-codec"`
	VideoRecvCodec Codec `json:"videoRecvCodec,omitempty" mapstructure:"video-recv-codec"`

	// StripRTX removes retransmission payload types from descriptions.
	StripRTX bool `json:"stripRtx,omitempty" mapstructure:"strip-rtx"`
	// LegacyProfile rewrites UDP/TLS/RTP/SAVPF to RTP/SAVPF in remote
	// descriptions for peers that predate the newer profile name.
	LegacyProfile bool `json:"legacyProfile,omitempty" mapstructure:"legacy-profile"`
}

// IsZero reports whether p expresses no preference at all.
func (p MediaPolicy) IsZero() bool {
	return p == MediaPolicy{}
}

// Rewrite applies every concern of p to doc: first the receive-side options
// used for local descriptions, then the send-side options used for remote
// descriptions.
func Rewrite(doc string, p MediaPolicy) string {
	return RewriteRemote(RewriteLocal(doc, p), p)
}

// RewriteLocal applies the receive-side options to a locally created
// description before it is applied and sent to the peer.
func RewriteLocal(doc string, p MediaPolicy) string {
	doc = PreferCodec(doc, "audio", p.AudioRecvCodec)
	doc = PreferCodec(doc, "video", p.VideoRecvCodec)
	doc = PreferBitrate(doc, "audio", p.AudioRecvBitrate)
	doc = PreferBitrate(doc, "video", p.VideoRecvBitrate)
	if p.StripRTX {
		doc = StripRTX(doc)
	}
	return doc
}

// RewriteRemote applies the send-side options to a description received
// from the peer before it is applied.
func RewriteRemote(doc string, p MediaPolicy) string {
	doc = SetOpusOptions(doc, p)
	doc = PreferCodec(doc, "audio", p.AudioSendCodec)
	doc = PreferCodec(doc, "video", p.VideoSendCodec)
	doc = PreferBitrate(doc, "audio", p.AudioSendBitrate)
	doc = PreferBitrate(doc, "video", p.VideoSendBitrate)
	doc = SetVideoSendInitialBitrate(doc, p.videoInitialCodec(), p.VideoSendInitialBitrate, p.VideoSendBitrate)
	if p.LegacyProfile {
		doc = DowngradeProfile(doc)
	}
	if p.StripRTX {
		doc = StripRTX(doc)
	}
	return doc
}

func (p MediaPolicy) videoInitialCodec() Codec {
	if p.VideoSendCodec != "" {
		return p.VideoSendCodec
	}
	return VP8
}

// SetOpusOptions applies the opus stereo/FEC/DTX flags and the maximum
// playback rate.
func SetOpusOptions(doc string, p MediaPolicy) string {
	doc = applyFlag(doc, Opus, "stereo", p.OpusStereo)
	doc = applyFlag(doc, Opus, "useinbandfec", p.OpusFec)
	doc = applyFlag(doc, Opus, "usedtx", p.OpusDtx)
	if p.OpusMaxPlaybackRate > 0 {
		doc = SetCodecParam(doc, Opus, "maxplaybackrate", strconv.Itoa(p.OpusMaxPlaybackRate))
	}
	return doc
}

func applyFlag(doc string, codec Codec, key string, f Flag) string {
	switch f {
	case FlagTrue:
		return SetCodecParam(doc, codec, key, "1")
	case FlagFalse:
		return RemoveCodecParam(doc, codec, key)
	default:
		return doc
	}
}

// ApplyToDescription rewrites desc with p. Local descriptions get the
// receive-side options, remote ones the send-side options.
func ApplyToDescription(desc webrtc.SessionDescription, p MediaPolicy, local bool) webrtc.SessionDescription {
	if local {
		desc.SDP = RewriteLocal(desc.SDP, p)
	} else {
		desc.SDP = RewriteRemote(desc.SDP, p)
	}
	return desc
}
