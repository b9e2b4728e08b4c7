package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/playcore/internal/config"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/repository"
	"github.com/jmylchreest/playcore/internal/session"
	"github.com/jmylchreest/playcore/pkg/format"
)

var playCmd = &cobra.Command{
	Use:   "play <manifest-url>",
	Short: "Play a presentation in a simulated session",
	Long: `Load an HLS or DASH presentation and play it on a simulated clock,
printing buffer progress until the content ends, the duration limit is
reached or the command is interrupted.

The manifest may be an http(s) URL, a file:// URL or a local path.

Examples:
  playcore play https://example.com/live/master.m3u8 --duration 2m
  playcore play ./manifest.mpd --rate 8 --bitrate 800000 --output json`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

type playOptions struct {
	start    float64
	duration time.Duration
	ahead    string
	bitrate  int
	noText   bool
	rate     float64
	output   string
	interval time.Duration
	journal  bool
}

var playOpts playOptions

func init() {
	rootCmd.AddCommand(playCmd)

	f := playCmd.Flags()
	f.Float64Var(&playOpts.start, "start", 0, "start position in seconds (default: beginning, or live edge)")
	f.DurationVar(&playOpts.duration, "duration", 0, "stop after this much wall time (0 plays to the end)")
	f.StringVar(&playOpts.ahead, "ahead", "", "wanted buffer ahead of the playhead, e.g. 30s")
	f.IntVar(&playOpts.bitrate, "bitrate", 0, "pin the video bitrate in bits per second (0 is adaptive)")
	f.BoolVar(&playOpts.noText, "no-text", false, "do not buffer text tracks")
	f.Float64Var(&playOpts.rate, "rate", 1, "playback rate of the simulated clock")
	f.StringVarP(&playOpts.output, "output", "o", "text", "progress output format (text, json)")
	f.DurationVar(&playOpts.interval, "interval", time.Second, "progress report interval")
	f.BoolVar(&playOpts.journal, "journal", false, "record the session in the journal database")
}

func runPlay(cmd *cobra.Command, args []string) error {
	logger := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyPlayOptions(cmd, cfg, playOpts); err != nil {
		return err
	}
	report, err := newReporter(cmd.OutOrStdout(), playOpts.output)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if playOpts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, playOpts.duration)
		defer cancel()
	}

	opts := session.Options{
		ManifestURL: args[0],
		Autoplay:    true,
		Rate:        playOpts.rate,
		Config:      cfg,
		Logger:      logger,
	}
	if cmd.Flags().Changed("start") {
		opts.StartAt = &playOpts.start
	}
	if playOpts.journal {
		cfg.Journal.Enabled = true
		db, err := openJournal(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Sessions = repository.NewSessionRepository(db.DB)
		opts.Events = repository.NewEventRepository(db.DB)
	}

	s, err := session.New(opts)
	if err != nil {
		return err
	}
	// The session outlives ctx so that Stop can flush the journal.
	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	pinned := playOpts.bitrate <= 0
	ticker := time.NewTicker(playOpts.interval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-s.Done():
			break loop
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if !pinned {
				pinned = pinBitrate(ctx, s, playOpts.bitrate, logger)
			}
			report.progress(s.Stats())
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	err = s.Stop(stopCtx)
	report.summary(s.Stats())
	if errors.Is(err, session.ErrSessionClosed) {
		return nil
	}
	return err
}

// applyPlayOptions applies explicitly set flags over the configuration.
func applyPlayOptions(cmd *cobra.Command, cfg *config.Config, o playOptions) error {
	if o.ahead != "" {
		d, err := config.ParseDuration(o.ahead)
		if err != nil {
			return fmt.Errorf("invalid --ahead: %w", err)
		}
		cfg.Buffer.WantedBufferAhead = d
	}
	if o.noText {
		cfg.Playback.EnableText = false
	}
	if o.rate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}
	if o.interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	if cmd.Flags().Changed("start") && o.start < 0 {
		return fmt.Errorf("--start must not be negative")
	}
	return nil
}

// pinBitrate fixes the video bitrate once the manifest is loaded. It
// reports whether there is nothing left to do.
func pinBitrate(ctx context.Context, s *session.Session, bitrate int, logger *slog.Logger) bool {
	err := s.SetBitrate(ctx, media.TypeVideo, bitrate)
	switch {
	case errors.Is(err, session.ErrNotReady):
		return false
	case err != nil:
		logger.Warn("pinning bitrate failed", slog.String("error", err.Error()))
	}
	return true
}

type reporter struct {
	w    io.Writer
	json bool
}

func newReporter(w io.Writer, output string) (*reporter, error) {
	switch strings.ToLower(output) {
	case "text":
		return &reporter{w: w}, nil
	case "json":
		return &reporter{w: w, json: true}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", output)
	}
}

func (r *reporter) progress(st session.Stats) {
	if r.json {
		_ = json.NewEncoder(r.w).Encode(st)
		return
	}
	fmt.Fprintln(r.w, progressLine(st))
}

func (r *reporter) summary(st session.Stats) {
	if r.json {
		_ = json.NewEncoder(r.w).Encode(st)
		return
	}
	fmt.Fprintln(r.w, summaryLine(st))
}

// progressLine renders one line of playback progress.
func progressLine(st session.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %s", st.State, format.Position(st.Position))
	if st.Duration > 0 {
		fmt.Fprintf(&b, " / %s", format.Position(st.Duration))
	}
	if st.Paused {
		b.WriteString(" paused")
	}
	if st.Stalled {
		b.WriteString(" stalled")
	}
	for _, buf := range st.Buffers {
		if buf.Disabled {
			continue
		}
		fmt.Fprintf(&b, " | %s %s", buf.Type, format.Seconds(buf.BufferedAhead))
		if buf.Bitrate > 0 {
			fmt.Fprintf(&b, " @%s", format.Bitrate(float64(buf.Bitrate)))
		}
		if buf.Complete {
			b.WriteString(" done")
		}
	}
	fmt.Fprintf(&b, " | bw %s", format.Bitrate(st.Bandwidth.EstimateBps))
	return b.String()
}

// summaryLine renders the final report of a session.
func summaryLine(st session.Stats) string {
	line := fmt.Sprintf("session %s %s at %s: %s segments, %s, %d rebuffers",
		st.ID, st.State, format.Position(st.Position),
		format.Number(int64(st.SegmentsLoaded)), format.Bytes(st.BytesLoaded), st.Rebuffers)
	if st.Error != "" {
		line += ": " + st.Error
	}
	return line
}
