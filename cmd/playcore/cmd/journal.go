package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/repository"
	"github.com/jmylchreest/playcore/internal/scheduler"
	"github.com/jmylchreest/playcore/internal/session"
	"github.com/jmylchreest/playcore/pkg/duration"
	"github.com/jmylchreest/playcore/pkg/format"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect and maintain the session journal",
	Long: `Commands reading the session journal database written by the daemon
and by "play --journal".`,
}

var (
	journalListLimit int
	journalListSince string
)

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent sessions",
	Args:  cobra.NoArgs,
	RunE:  runJournalList,
}

var (
	journalEventsKind  string
	journalEventsLimit int
	journalEventsSince string
)

var journalEventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Print the journaled events of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEvents,
}

var journalPruneOlderThan string

var journalPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished sessions past the retention",
	Long: `Delete finished sessions, and their events, that ended before the
retention period. The retention defaults to journal.retention.`,
	Args: cobra.NoArgs,
	RunE: runJournalPrune,
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalListCmd, journalEventsCmd, journalPruneCmd)

	journalListCmd.Flags().IntVar(&journalListLimit, "limit", 20, "maximum number of sessions")
	journalListCmd.Flags().StringVar(&journalListSince, "since", "", "only sessions started since, e.g. 2h, \"3 days ago\", yesterday or 2024-06-01")
	journalEventsCmd.Flags().StringVar(&journalEventsKind, "kind", "", "only events of this kind, e.g. added_segment")
	journalEventsCmd.Flags().IntVar(&journalEventsLimit, "limit", 1000, "maximum number of events")
	journalEventsCmd.Flags().StringVar(&journalEventsSince, "since", "", "only events recorded since, e.g. 10m or an RFC 3339 time")
	journalPruneCmd.Flags().StringVar(&journalPruneOlderThan, "older-than", "", "retention, e.g. 7d (default journal.retention)")
}

func runJournalList(cmd *cobra.Command, args []string) error {
	since, err := duration.ParseSince(journalListSince, time.Now())
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openJournal(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := repository.NewSessionRepository(db.DB).List(cmd.Context(), journalListLimit)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	return writeSessionTable(cmd.OutOrStdout(), sessionsSince(rows, since))
}

func runJournalEvents(cmd *cobra.Command, args []string) error {
	id, err := models.ParseULID(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id: %w", err)
	}
	since, err := duration.ParseSince(journalEventsSince, time.Now())
	if err != nil {
		return fmt.Errorf("invalid --since: %w", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openJournal(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := repository.NewEventRepository(db.DB).ListBySession(cmd.Context(), id, 0, journalEventsKind, journalEventsLimit)
	if err != nil {
		return fmt.Errorf("reading events: %w", err)
	}
	records := make([]session.Record, 0, len(rows))
	for _, row := range rows {
		if !since.IsZero() && row.CreatedAt.Before(since) {
			continue
		}
		records = append(records, session.RecordFromModel(row))
	}
	return writeEventTable(cmd.OutOrStdout(), records)
}

func runJournalPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	retention := cfg.Journal.Retention.Duration()
	if journalPruneOlderThan != "" {
		retention, err = duration.Parse(journalPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than: %w", err)
		}
	}

	db, err := openJournal(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	prune := scheduler.NewJournalPrune(repository.NewSessionRepository(db.DB), retention, slog.Default(), nil)
	return prune(cmd.Context())
}

// sessionsSince keeps the sessions created at or after since. A zero since
// keeps everything.
func sessionsSince(rows []*models.PlaybackSession, since time.Time) []*models.PlaybackSession {
	if since.IsZero() {
		return rows
	}
	kept := make([]*models.PlaybackSession, 0, len(rows))
	for _, row := range rows {
		if !row.CreatedAt.Before(since) {
			kept = append(kept, row)
		}
	}
	return kept
}

func writeSessionTable(w io.Writer, rows []*models.PlaybackSession) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPOSITION\tSEGMENTS\tLOADED\tREBUFFERS\tSTARTED")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			row.ID, row.State, format.Position(row.LastPosition), row.SegmentsLoaded,
			format.Bytes(row.BytesLoaded), row.Rebuffers, format.RelativeTime(row.CreatedAt))
	}
	return tw.Flush()
}

func writeEventTable(w io.Writer, records []session.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tPOSITION\tKIND\tTYPE\tPERIOD")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.Seq, r.Time.Format("15:04:05.000"), format.Position(r.Position), r.Kind, r.MediaType, r.PeriodID)
	}
	return tw.Flush()
}
