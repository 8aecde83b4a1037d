package main

import (
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/ivlev/lecture3d/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr     string
		autoplay bool
		noWatch  bool
	)

	cmd := &cobra.Command{
		Use:   "serve <manifest>",
		Short: "Present a lecture and stream its events over HTTP",
		Long: `serve presents the lecture and exposes it on the network:

  GET  /ws          websocket stream of presentation events
  GET  /metrics     Prometheus metrics
  GET  /api/state   current presentation and classroom state
  POST /api/play, /api/pause, /api/seek?t=, /api/slide?index=

The manifest is reloaded when the file changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			ctx := cmd.Context()
			s, err := a.mount(ctx, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			defer a.logEvents(s.bus)()

			if !noWatch {
				if err := s.pres.Watch(ctx, args[0]); err != nil {
					a.log.Warn().Err(err).Msg("manifest hot reload disabled")
				}
			}
			if autoplay {
				if err := s.pres.Play(); err != nil {
					return err
				}
			}

			srv := server.New(a.cfg.Server.Addr, s.pres, s.room, s.bus, a.log.Logger)
			url := streamURL(a.cfg.Server.PublicURL, a.cfg.Server.Addr)
			if a.cfg.Server.ShowQRCode {
				printQRCode(cmd.OutOrStdout(), url)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Event stream: %s\n", url)

			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&autoplay, "autoplay", false, "start playing immediately")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the manifest on change")
	return cmd
}

// streamURL is the websocket URL clients should open. Without a public URL
// the listen address is used, with localhost for an empty host.
func streamURL(publicURL, addr string) string {
	if publicURL != "" {
		base := strings.TrimSuffix(publicURL, "/")
		base = strings.Replace(base, "https://", "wss://", 1)
		base = strings.Replace(base, "http://", "ws://", 1)
		return base + "/ws"
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "ws://" + addr + "/ws"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "ws://" + net.JoinHostPort(host, port) + "/ws"
}

func printQRCode(w io.Writer, url string) {
	q, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return
	}
	fmt.Fprintln(w, q.ToSmallString(false))
}
