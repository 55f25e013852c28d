package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/1ureka/rtcsig/internal/config"
	"github.com/1ureka/rtcsig/internal/util"
)

var (
	_viper  *viper.Viper
	_config *config.Config
)

// NewRootCmd returns the rtcsig root command with all subcommands. Flag
// defaults are taken from a fresh default configuration.
func NewRootCmd(version string) *cobra.Command {
	_viper = config.NewViper()
	_config = config.Default()

	cmd := &cobra.Command{
		Use:               "rtcsig",
		Short:             "Resilient WebRTC signaling client and SDP toolkit",
		Version:           version,
		SilenceUsage:      true,
		TraverseChildren:  true,
		PersistentPreRunE: loadConfig,
	}

	cmd.PersistentFlags().String("config-dir", _config.ConfigDir, "Directory containing rtcsig.yaml")
	cmd.PersistentFlags().Bool("debug", _config.Debug, "Enable debug logging")

	cmd.AddCommand(
		NewConnectCmd(),
		NewRewriteCmd(),
		NewInspectCmd(),
	)
	return cmd
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

// addMediaFlags adds the media policy flags. They are bound under the
// "media." prefix by loadConfig.
func addMediaFlags(fs *pflag.FlagSet) {
	m := _config.Media
	fs.String("opus-stereo", string(m.OpusStereo), "Opus stereo: true, false or empty to keep")
	fs.String("opus-fec", string(m.OpusFec), "Opus in-band FEC: true, false or empty to keep")
	fs.String("opus-dtx", string(m.OpusDtx), "Opus DTX: true, false or empty to keep")
	fs.Int("opus-max-playback-rate", m.OpusMaxPlaybackRate, "Opus maxplaybackrate in Hz")

	fs.Int("audio-send-bitrate", m.AudioSendBitrate, "Audio send bitrate in kbps")
	fs.Int("audio-recv-bitrate", m.AudioRecvBitrate, "Audio receive bitrate in kbps")
	fs.Int("video-send-bitrate", m.VideoSendBitrate, "Video send bitrate in kbps")
	fs.Int("video-recv-bitrate", m.VideoRecvBitrate, "Video receive bitrate in kbps")
	fs.Int("video-send-initial-bitrate", m.VideoSendInitialBitrate, "Initial video send bitrate in kbps")

	fs.String("audio-send-codec", string(m.AudioSendCodec), "Preferred audio send codec, e.g. opus/48000")
	fs.String("audio-recv-codec", string(m.AudioRecvCodec), "Preferred audio receive codec")
	fs.String("video-send-codec", string(m.VideoSendCodec), "Preferred video send codec, e.g. VP8/90000")
	fs.String("video-recv-codec", string(m.VideoRecvCodec), "Preferred video receive codec")

	fs.Bool("strip-rtx", m.StripRTX, "Remove RTX payload types")
	fs.Bool("legacy-profile", m.LegacyProfile, "Rewrite UDP/TLS/RTP/SAVPF to RTP/SAVPF in remote descriptions")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	// Includes the persistent flags of the parent.
	fs := cmd.Flags()
	if err := _viper.BindPFlags(fs); err != nil {
		return err
	}
	for _, key := range config.MediaKeys {
		if f := fs.Lookup(key); f != nil {
			if err := _viper.BindPFlag("media."+key, f); err != nil {
				return err
			}
		}
	}

	cfg, err := config.Load(_viper)
	if err != nil {
		return err
	}
	_config = cfg

	if _config.Debug {
		util.EnableDebug()
	}
	util.LogDebug("config: url=%q room=%q connect-timeout=%s connect-timeout-max=%s reconnect-delay=%s auto-reconnect=%t",
		_config.URL, _config.Room, _config.ConnectTimeout, _config.ConnectTimeoutMax,
		_config.ReconnectDelay, _config.AutoReconnect)
	return nil
}
