package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetnotes/pkg/actionitems"
	"github.com/otherjamesbrown/meetnotes/pkg/ai"
	"github.com/otherjamesbrown/meetnotes/pkg/calendar"
	"github.com/otherjamesbrown/meetnotes/pkg/logging"
	"github.com/otherjamesbrown/meetnotes/pkg/meeting"
	"github.com/otherjamesbrown/meetnotes/pkg/observability"
	"github.com/otherjamesbrown/meetnotes/pkg/pipeline"
	"github.com/otherjamesbrown/meetnotes/pkg/queues"
	"github.com/otherjamesbrown/meetnotes/pkg/store"
)

// Meeting command flags.
var (
	meetingOutput string

	submitTitle   string
	submitStart   string
	submitEnd     string
	submitEventID string
	submitFolder  string
	submitAsync   bool

	listFolder    string
	listFavorites bool

	summaryMode    string
	summaryPersona string

	syncEventID string
	syncStart   string
	syncEnd     string

	processAll bool
)

// MeetingCmd groups meeting operations against the configured store.
var MeetingCmd = &cobra.Command{
	Use:     "meeting",
	Aliases: []string{"meetings", "m"},
	Short:   "Submit, inspect and query meetings",
	Long: `Submit recordings and work with processed meetings.

These commands open the configured store directly, so they work without a
running server. Provider keys and calendar tokens come from the environment
or from 'meetnotes auth set-key'.

Examples:
  meetnotes meeting submit standup.m4a --title "Daily standup"
  meetnotes meeting list --favorites
  meetnotes meeting show <id>
  meetnotes meeting ask "What did we decide about the launch date?"
  meetnotes meeting actions toggle <id> 2`,
}

var meetingSubmitCmd = &cobra.Command{
	Use:   "submit <audio-file>",
	Short: "Submit a recording for processing",
	Long: `Copy a recording into the blob store and process it.

Processing runs transcription, then summarization and action item extraction.
A stage that fails degrades instead of failing the meeting, so the meeting
always reaches Ready. Use --async to queue the meeting for 'meetnotes worker'.`,
	Args: cobra.ExactArgs(1),
	RunE: runMeetingSubmit,
}

var meetingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List meetings, newest first",
	RunE:  runMeetingList,
}

var meetingSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search titles, summaries and transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMeetingSearch,
}

var meetingShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a meeting with its summary and action items",
	Args:  cobra.ExactArgs(1),
	RunE:  runMeetingShow,
}

var meetingDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a meeting and its recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runMeetingDelete,
}

var meetingFavoriteCmd = &cobra.Command{
	Use:   "favorite <id> <on|off>",
	Short: "Mark or unmark a meeting as favorite",
	Args:  cobra.ExactArgs(2),
	RunE:  runMeetingFavorite,
}

var meetingProcessCmd = &cobra.Command{
	Use:   "process [id...]",
	Short: "Process meetings that have not reached Ready",
	Long: `Run the processing pipeline for the given meetings, or with --all for every
meeting that has not reached Ready. Ready meetings are skipped.`,
	RunE: runMeetingProcess,
}

var meetingAskCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from meeting transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMeetingAsk,
}

var meetingTopicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Group recent meetings into topics",
	RunE:  runMeetingTopics,
}

var meetingSummaryCmd = &cobra.Command{
	Use:   "summary <id>",
	Short: "Generate a summary in a chosen style",
	Long: `Generate a summary of a processed meeting in one of four modes:
executive, detailed, decisions, or persona (with --persona). The stored
summary is not changed.`,
	Args: cobra.ExactArgs(1),
	RunE: runMeetingSummary,
}

var meetingSyncCmd = &cobra.Command{
	Use:   "sync <id>",
	Short: "Link a meeting to a calendar event",
	Long: `Write the meeting to the calendar and record the link.

With --event-id an existing event is updated and linked. Without it the
meeting's linked event is updated, or a new event is created when the meeting
has no link yet.`,
	Args: cobra.ExactArgs(1),
	RunE: runMeetingSync,
}

var meetingActionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Manage a meeting's action items",
}

var actionsExtractCmd = &cobra.Command{
	Use:   "extract <id>",
	Short: "Re-extract action items from the transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runActionsExtract,
}

var actionsToggleCmd = &cobra.Command{
	Use:   "toggle <id> <index>",
	Short: "Flip an action item between open and done",
	Args:  cobra.ExactArgs(2),
	RunE:  runActionsToggle,
}

var actionsSetCmd = &cobra.Command{
	Use:   "set <id> <file|->",
	Short: "Replace all action items from a JSON array",
	Args:  cobra.ExactArgs(2),
	RunE:  runActionsSet,
}

var actionsStatsCmd = &cobra.Command{
	Use:   "stats <id>",
	Short: "Count open, done and overdue action items",
	Args:  cobra.ExactArgs(1),
	RunE:  runActionsStats,
}

func init() {
	MeetingCmd.PersistentFlags().StringVarP(&meetingOutput, "output", "o", "", "Output format: text, json, yaml")

	meetingSubmitCmd.Flags().StringVar(&submitTitle, "title", "", "Meeting title (default: file name)")
	meetingSubmitCmd.Flags().StringVar(&submitStart, "start", "", "Start time (RFC3339 or YYYY-MM-DDTHH:MM UTC)")
	meetingSubmitCmd.Flags().StringVar(&submitEnd, "end", "", "End time (RFC3339 or YYYY-MM-DDTHH:MM UTC)")
	meetingSubmitCmd.Flags().StringVar(&submitEventID, "event-id", "", "Calendar event id to record")
	meetingSubmitCmd.Flags().StringVar(&submitFolder, "folder", "", "Folder id")
	meetingSubmitCmd.Flags().BoolVar(&submitAsync, "async", false, "Queue for a worker instead of processing now")

	meetingListCmd.Flags().StringVar(&listFolder, "folder", "", "Only meetings in this folder")
	meetingListCmd.Flags().BoolVar(&listFavorites, "favorites", false, "Only favorite meetings")

	meetingProcessCmd.Flags().BoolVar(&processAll, "all", false, "Process every meeting that is not Ready")

	meetingSummaryCmd.Flags().StringVar(&summaryMode, "mode", string(ai.ModeExecutive), "executive, detailed, decisions, or persona")
	meetingSummaryCmd.Flags().StringVar(&summaryPersona, "persona", "", "Persona name for --mode persona")

	meetingSyncCmd.Flags().StringVar(&syncEventID, "event-id", "", "Existing calendar event to link")
	meetingSyncCmd.Flags().StringVar(&syncStart, "start", "", "Event start (RFC3339 or YYYY-MM-DDTHH:MM UTC, default: meeting start)")
	meetingSyncCmd.Flags().StringVar(&syncEnd, "end", "", "Event end (RFC3339 or YYYY-MM-DDTHH:MM UTC, default: start)")

	meetingActionsCmd.AddCommand(actionsExtractCmd, actionsToggleCmd, actionsSetCmd, actionsStatsCmd)
	MeetingCmd.AddCommand(
		meetingSubmitCmd,
		meetingListCmd,
		meetingSearchCmd,
		meetingShowCmd,
		meetingDeleteCmd,
		meetingFavoriteCmd,
		meetingProcessCmd,
		meetingAskCmd,
		meetingTopicsCmd,
		meetingSummaryCmd,
		meetingSyncCmd,
		meetingActionsCmd,
	)
}

// withApp builds an App for one command and closes it afterwards.
func withApp(cmd *cobra.Command, opts AppOptions, fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := NewApp(ctx, cfg, NewLogger(cfg, "meetnotes-cli"), opts)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printMeeting(cmd *cobra.Command, m *meeting.Meeting) error {
	format, err := outputFormat(meetingOutput)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), format, m, func(w io.Writer) error {
		return writeMeetingDetail(w, m, time.Now())
	})
}

func printMeetings(cmd *cobra.Command, ms []*meeting.Meeting) error {
	format, err := outputFormat(meetingOutput)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), format, ms, func(w io.Writer) error {
		return writeMeetingTable(w, ms)
	})
}

func runMeetingSubmit(cmd *cobra.Command, args []string) error {
	path := args[0]
	req, err := submitRequestFromFlags(path)
	if err != nil {
		return err
	}

	return withApp(cmd, AppOptions{WithQueue: submitAsync}, func(ctx context.Context, app *App) error {
		if submitAsync && app.Queue == nil {
			return fmt.Errorf("--async requires redis.addr to be configured")
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening recording: %w", err)
		}
		defer f.Close()

		req.ID = uuid.NewString()
		ref, err := app.Blobs.Put(ctx, req.ID+strings.ToLower(filepath.Ext(path)), f)
		if err != nil {
			return fmt.Errorf("storing recording: %w", err)
		}
		req.AudioRef = ref
		ctx = logging.ContextWithMeetingID(ctx, req.ID)

		if submitAsync {
			m, err := app.Pipeline.Create(ctx, req)
			if err != nil {
				_ = app.Blobs.Delete(context.WithoutCancel(ctx), ref)
				return err
			}
			msgID, err := app.Queue.Enqueue(ctx, &queues.ProcessMeetingMessage{
				MeetingID:    m.ID,
				Priority:     queues.PriorityNormal,
				RequestedAt:  time.Now().UTC(),
				TraceContext: observability.InjectTraceContext(ctx),
			})
			if err != nil {
				return fmt.Errorf("meeting %s created but not queued: %w", m.ID, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Queued meeting %s (message %s)\n", m.ID, msgID)
			return printMeeting(cmd, m)
		}

		cred, _, err := resolveCredentials()
		if err != nil {
			return err
		}
		if cred.Empty() {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: no provider key configured; the meeting will finish degraded.")
		}
		m, err := app.Pipeline.Submit(ctx, cred, req)
		if err != nil {
			_ = app.Blobs.Delete(context.WithoutCancel(ctx), ref)
			return err
		}
		return printMeeting(cmd, m)
	})
}

func submitRequestFromFlags(path string) (pipeline.SubmitRequest, error) {
	title := strings.TrimSpace(submitTitle)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	req := pipeline.SubmitRequest{
		Title:           title,
		CalendarEventID: meeting.NonEmptyPtr(submitEventID),
		FolderID:        meeting.NonEmptyPtr(submitFolder),
	}
	var err error
	if req.StartTime, err = parseFlagTime("start", submitStart); err != nil {
		return req, err
	}
	if req.EndTime, err = parseFlagTime("end", submitEnd); err != nil {
		return req, err
	}
	return req, nil
}

func parseFlagTime(name, value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := meeting.ParseTime(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}

func runMeetingList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		ms, err := app.Repo.List(ctx, store.ListFilter{
			FolderID:      meeting.NonEmptyPtr(listFolder),
			FavoritesOnly: listFavorites,
		})
		if err != nil {
			return err
		}
		return printMeetings(cmd, ms)
	})
}

func runMeetingSearch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		ms, err := app.Repo.Search(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printMeetings(cmd, ms)
	})
}

func runMeetingShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		m, err := app.Repo.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printMeeting(cmd, m)
	})
}

func runMeetingDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		m, err := app.Repo.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if err := app.Repo.Delete(ctx, m.ID); err != nil {
			return err
		}
		if m.AudioRef != "" {
			if err := app.Blobs.Delete(ctx, m.AudioRef); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: recording %s not removed: %v\n", m.AudioRef, err)
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted meeting %s\n", m.ID)
		return nil
	})
}

func runMeetingFavorite(cmd *cobra.Command, args []string) error {
	var on bool
	switch strings.ToLower(args[1]) {
	case "on", "true", "yes":
		on = true
	case "off", "false", "no":
	default:
		return fmt.Errorf("expected on or off, got %q", args[1])
	}
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		m, err := app.Repo.Modify(ctx, args[0], func(m *meeting.Meeting) error {
			m.IsFavorite = on
			return nil
		})
		if err != nil {
			return err
		}
		return printMeeting(cmd, m)
	})
}

func runMeetingProcess(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !processAll {
		return fmt.Errorf("give meeting ids or --all")
	}
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		ids := args
		if processAll {
			ms, err := app.Repo.List(ctx, store.ListFilter{})
			if err != nil {
				return err
			}
			for _, m := range ms {
				if m.Status != meeting.StatusReady {
					ids = append(ids, m.ID)
				}
			}
		}
		if len(ids) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to process.")
			return nil
		}

		cred, _, err := resolveCredentials()
		if err != nil {
			return err
		}
		rows := make([]processResult, 0, len(ids))
		for _, r := range app.Pipeline.ProcessBatch(ctx, cred, ids) {
			row := processResult{MeetingID: r.MeetingID}
			if r.Err != nil {
				row.Error = r.Err.Error()
			} else {
				row.Status = r.Meeting.Status
			}
			rows = append(rows, row)
		}

		format, err := outputFormat(meetingOutput)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), format, rows, func(w io.Writer) error {
			failed := 0
			for _, r := range rows {
				if r.Error != "" {
					failed++
					fmt.Fprintf(w, "  %s  error: %s\n", r.MeetingID, r.Error)
					continue
				}
				fmt.Fprintf(w, "  %s  %s\n", r.MeetingID, r.Status)
			}
			fmt.Fprintf(w, "Processed %d meeting(s), %d failed.\n", len(rows), failed)
			return nil
		})
	})
}

type processResult struct {
	MeetingID string         `json:"meeting_id" yaml:"meeting_id"`
	Status    meeting.Status `json:"status,omitempty" yaml:"status,omitempty"`
	Error     string         `json:"error,omitempty" yaml:"error,omitempty"`
}

func runMeetingAsk(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		cred, _, err := resolveCredentials()
		if err != nil {
			return err
		}
		answer, err := app.Retrieval.AnswerQuestion(ctx, cred, strings.Join(args, " "))
		if err != nil {
			return err
		}
		format, err := outputFormat(meetingOutput)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), format, answer, func(w io.Writer) error {
			fmt.Fprintln(w, answer.Text)
			if len(answer.References) > 0 {
				fmt.Fprintln(w, "\nSources:")
				for _, ref := range answer.References {
					fmt.Fprintf(w, "  %s  %s  %s\n", ref.MeetingID, ref.CreatedAt.Local().Format("2006-01-02"), ref.Title)
				}
			}
			return nil
		})
	})
}

func runMeetingTopics(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		cred, _, err := resolveCredentials()
		if err != nil {
			return err
		}
		clusters, err := app.Retrieval.DiscoverTopics(ctx, cred)
		if err != nil {
			return err
		}
		format, err := outputFormat(meetingOutput)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), format, clusters, func(w io.Writer) error {
			if len(clusters) == 0 {
				fmt.Fprintln(w, "No topics found.")
				return nil
			}
			for _, c := range clusters {
				fmt.Fprintf(w, "%s (%d)\n", c.Name, len(c.Meetings))
				if c.Description != "" {
					fmt.Fprintln(w, indent(c.Description, "  "))
				}
				for _, ref := range c.Meetings {
					fmt.Fprintf(w, "  - %s  %s\n", ref.MeetingID, ref.Title)
				}
				fmt.Fprintln(w)
			}
			return nil
		})
	})
}

func runMeetingSummary(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		cred, _, err := resolveCredentials()
		if err != nil {
			return err
		}
		summary, err := app.Pipeline.SmartSummarize(ctx, cred, args[0], summaryMode, summaryPersona)
		if err != nil {
			return err
		}
		format, err := outputFormat(meetingOutput)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), format, map[string]string{"summary": summary}, func(w io.Writer) error {
			fmt.Fprintln(w, summary)
			return nil
		})
	})
}

func runMeetingSync(cmd *cobra.Command, args []string) error {
	req := calendar.SyncRequest{TargetEventID: meeting.NonEmptyPtr(syncEventID)}
	var err error
	if req.Start, err = parseFlagTime("start", syncStart); err != nil {
		return err
	}
	if req.End, err = parseFlagTime("end", syncEnd); err != nil {
		return err
	}

	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		_, cred, err := resolveCredentials()
		if err != nil {
			return err
		}
		if cred.Empty() {
			return fmt.Errorf("no calendar token; set MEETNOTES_CALENDAR_TOKEN or run 'meetnotes auth set-key --calendar'")
		}
		m, err := app.Calendar.Sync(ctx, cred, args[0], req)
		if err != nil {
			return err
		}
		return printMeeting(cmd, m)
	})
}

func runActionsExtract(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		cred, _, err := resolveCredentials()
		if err != nil {
			return err
		}
		m, err := app.Pipeline.ReExtractActionItems(ctx, cred, args[0])
		if err != nil {
			return err
		}
		return printItems(cmd, m)
	})
}

func runActionsToggle(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("index must be an integer: %w", err)
	}
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		m, err := app.Items.ToggleStatus(ctx, args[0], index)
		if err != nil {
			return err
		}
		return printItems(cmd, m)
	})
}

func runActionsSet(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if args[1] != "-" {
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var items []meeting.ActionItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return fmt.Errorf("reading action items: %w", err)
	}

	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		m, err := app.Items.ReplaceAll(ctx, args[0], items)
		if err != nil {
			return err
		}
		return printItems(cmd, m)
	})
}

func runActionsStats(cmd *cobra.Command, args []string) error {
	return withApp(cmd, AppOptions{}, func(ctx context.Context, app *App) error {
		stats, err := app.Items.StatsFor(ctx, args[0], time.Now())
		if err != nil {
			return err
		}
		format, err := outputFormat(meetingOutput)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), format, stats, func(w io.Writer) error {
			return writeStats(w, stats)
		})
	})
}

func writeStats(w io.Writer, stats actionitems.Stats) error {
	fmt.Fprintf(w, "Total:   %d\n", stats.Total)
	fmt.Fprintf(w, "Open:    %d\n", stats.Open)
	fmt.Fprintf(w, "Done:    %d\n", stats.Total-stats.Open)
	fmt.Fprintf(w, "Overdue: %d\n", stats.Overdue)
	if stats.AllDone {
		fmt.Fprintln(w, "All action items are done.")
	}
	return nil
}

func printItems(cmd *cobra.Command, m *meeting.Meeting) error {
	format, err := outputFormat(meetingOutput)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), format, m.ActionItems, func(w io.Writer) error {
		writeActionItems(w, m.ActionItems, time.Now())
		return nil
	})
}
