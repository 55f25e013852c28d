package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/1ureka/rtcsig/internal/sdputil"
)

// NewRewriteCmd returns the command that applies the media policy to an SDP.
func NewRewriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rewrite [file]",
		Short: "Apply the media policy to a session description (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRewrite,
	}
	cmd.Flags().String("side", "both", "Which options to apply: local, remote or both")
	cmd.Flags().Bool("lf", false, "Write LF line endings instead of CRLF")
	addMediaFlags(cmd.Flags())
	return cmd
}

func runRewrite(cmd *cobra.Command, args []string) error {
	doc, err := readSDP(cmd, args)
	if err != nil {
		return err
	}

	side, _ := cmd.Flags().GetString("side")
	switch side {
	case "local":
		doc = sdputil.RewriteLocal(doc, _config.Media)
	case "remote":
		doc = sdputil.RewriteRemote(doc, _config.Media)
	case "both":
		doc = sdputil.Rewrite(doc, _config.Media)
	default:
		return fmt.Errorf("invalid --side %q: must be local, remote or both", side)
	}

	if lf, _ := cmd.Flags().GetBool("lf"); lf {
		doc = strings.ReplaceAll(doc, "\r\n", "\n")
	}
	_, err = io.WriteString(cmd.OutOrStdout(), doc)
	return err
}

// readSDP reads the named file or stdin and converts bare LF line endings
// to CRLF, which the rewriters require.
func readSDP(cmd *cobra.Command, args []string) (string, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to open SDP: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read SDP: %w", err)
	}
	doc := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.ReplaceAll(doc, "\n", "\r\n"), nil
}
