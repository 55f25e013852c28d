package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rtcsig/internal/app"
	"github.com/1ureka/rtcsig/internal/config"
	"github.com/1ureka/rtcsig/internal/connector"
	"github.com/1ureka/rtcsig/internal/event"
	"github.com/1ureka/rtcsig/internal/signaling"
	"github.com/1ureka/rtcsig/internal/util"
)

// NewConnectCmd returns the command that keeps a signaling session open.
func NewConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect [url]",
		Short: "Open a resilient signaling session and log its traffic",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConnect,
	}
	AddConnectFlags(cmd)
	return cmd
}

// AddConnectFlags adds flags to the connect command.
func AddConnectFlags(cmd *cobra.Command) {
	fs := cmd.Flags()

	// Link
	fs.StringP("url", "u", _config.URL, "Channelling server URL (ws://, wss://, http:// or https://)")
	fs.StringP("room", "r", _config.Room, "Room to join once the session is established")
	fs.String("token", _config.Token, "Resume token for the first dial")
	fs.Duration("connect-timeout", _config.ConnectTimeout, "Initial connect timeout, also the backoff step")
	fs.Duration("connect-timeout-max", _config.ConnectTimeoutMax, "Connect timeout ceiling")
	fs.Duration("reconnect-delay", _config.ReconnectDelay, "Delay before redialing after a close")
	fs.Bool("auto-reconnect", _config.AutoReconnect, "Reconnect after transport errors")
	fs.Duration("keepalive", _config.KeepAlive, "Interval between Alive messages, 0 disables")

	// Reporting
	fs.Duration("stats-interval", _config.StatsInterval, "Interval between traffic reports")
	fs.String("metrics-listen", _config.MetricsAddr, "IP:Port for the prometheus /metrics endpoint")

	// Media policy applied to offers and answers
	addMediaFlags(fs)
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runConnect(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		u, err := config.NormalizeURL(args[0])
		if err != nil {
			return err
		}
		_config.URL = u
	}
	if _config.URL == "" {
		return errors.New("missing server URL: pass it as an argument or with --url")
	}

	// Cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	opts := _config.ConnectorOptions()
	opts.Registerer = reg
	conn := connector.New(opts)
	conn.SetToken(_config.Token)

	client := app.New(conn, app.Options{
		Policy:        _config.Media,
		AutoReconnect: _config.AutoReconnect,
		KeepAlive:     _config.KeepAlive,
	})
	watch(ctx, conn, client)

	if _config.MetricsAddr != "" {
		go serveMetrics(ctx, _config.MetricsAddr, reg)
	}
	util.StartStatsReporter(ctx, _config.StatsInterval)

	util.LogFields("connecting", map[string]any{
		"url":   _config.URL,
		"room":  _config.Room,
		"media": !_config.Media.IsZero(),
	})
	if err := client.Run(ctx, _config.URL); err != nil {
		return err
	}

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
	}
	util.LogInfo("signaling session closed")
	return nil
}

// watch prints link and protocol events.
func watch(ctx context.Context, conn *connector.Connector, client *app.Client) {
	conn.Subscribe(event.Connecting, func(n event.Notification) {
		pterm.Info.Printfln("connecting to %s", n.URL)
	})
	conn.Subscribe(event.Open, func(event.Notification) {
		pterm.Success.Println("connected")
	})
	conn.Subscribe(event.Close, func(event.Notification) {
		pterm.Warning.Println(closeMessage(ctx))
	})
	conn.Subscribe(event.Error, func(n event.Notification) {
		pterm.Error.Printfln("connection error: %v", n.Err)
	})
	conn.Subscribe(event.Malformed, func(n event.Notification) {
		util.LogWarning("malformed message (%d bytes)", len(n.Raw))
	})

	client.OnSelf(func(s *signaling.Self) {
		pterm.Success.Printfln("session %s (api %.1f, %d ICE servers)", s.Id, s.ApiVersion, len(s.ICEServers()))
		if _config.Room != "" {
			if err := client.Join(config.DefaultVersion, _config.Room); err != nil {
				util.LogError("failed to join %s: %v", _config.Room, err)
			}
		}
	})
	client.OnOffer(func(from string, desc webrtc.SessionDescription) {
		util.LogInfo("offer from %s (%d bytes SDP)", from, len(desc.SDP))
	})
	client.OnAnswer(func(from string, desc webrtc.SessionDescription) {
		util.LogInfo("answer from %s (%d bytes SDP)", from, len(desc.SDP))
	})
	client.OnCandidate(func(from string, init webrtc.ICECandidateInit) {
		util.LogDebug("candidate from %s: %s", from, init.Candidate)
	})
	client.OnBye(func(from string) {
		util.LogInfo("bye from %s", from)
	})
}

// closeMessage describes a Close notification. The final close on shutdown
// is not followed by a reconnect.
func closeMessage(ctx context.Context) string {
	if ctx.Err() != nil {
		return "connection closed"
	}
	return "connection closed, reconnecting"
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	util.LogInfo("serving metrics on http://%s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.LogError("%v", fmt.Errorf("metrics server: %w", err))
	}
}
