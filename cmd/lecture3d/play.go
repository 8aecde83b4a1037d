package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPlayCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "play <manifest>",
		Short: "Present a lecture headlessly until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			s, err := a.mount(ctx, args[0])
			if err != nil {
				return err
			}
			defer s.Close()
			defer a.logEvents(s.bus)()

			started := time.Now()
			if err := s.pres.Play(); err != nil {
				return err
			}
			err = s.pres.Wait(ctx)
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				a.log.Warn().Dur("timeout", timeout).Msg("stopped before the lecture ended")
			case errors.Is(err, context.Canceled):
				a.log.Info().Msg("interrupted")
			case err != nil:
				return err
			}

			st, err := s.room.Status(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Presented %d frames in %s (whiteboard: %s, clip: %s)\n",
				s.renderer.Frames(), time.Since(started).Round(time.Millisecond), st.Slide, st.Clip)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop after this long (0 = until the lecture ends)")
	return cmd
}
