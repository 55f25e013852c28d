package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rtcsig/internal/sdputil"
)

// NewInspectCmd returns the command that summarizes a session description.
func NewInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file]",
		Short: "Summarize the media sections of a session description (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	doc, err := readSDP(cmd, args)
	if err != nil {
		return err
	}
	media, err := sdputil.Inspect(doc)
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Kind", "Protocol", "Direction", "Preferred", "Formats", "Bandwidth"}}
	for _, m := range media {
		formats := make([]string, 0, len(m.Formats))
		for _, pt := range m.Formats {
			if codec, ok := m.Codecs[pt]; ok {
				formats = append(formats, pt+":"+codec)
			} else {
				formats = append(formats, pt)
			}
		}

		bw := make([]string, 0, len(m.Bandwidth))
		for typ, v := range m.Bandwidth {
			bw = append(bw, fmt.Sprintf("%s:%d", typ, v))
		}
		sort.Strings(bw)

		data = append(data, []string{
			m.Kind, m.Protocol, m.Direction, m.PreferredCodec(),
			strings.Join(formats, " "), strings.Join(bw, " "),
		})
	}

	return pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render()
}
