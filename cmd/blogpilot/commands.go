package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/blogpilot/internal/config"
	"github.com/kalambet/blogpilot/internal/pipeline"
	"github.com/kalambet/blogpilot/internal/schedule"
	"github.com/kalambet/blogpilot/internal/storage"
)

// A run makes several model calls plus an image upload.
const runClientTimeout = 6 * time.Minute

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process the next pending topic now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.httpClient.Timeout = runClientTimeout

		printStep("Running pipeline...")
		res, err := runPipeline(cmd.Context(), client)
		if err != nil {
			return err
		}
		printResult(res)
		if res.Status == pipeline.StatusError {
			return fmt.Errorf("pipeline run failed")
		}
		return nil
	},
}

func runPipeline(ctx context.Context, c *apiClient) (pipeline.Result, error) {
	resp, err := c.post(ctx, "/pipeline", nil)
	if err != nil {
		return pipeline.Result{}, err
	}
	var res pipeline.Result
	if err := decodeJSON(resp, &res); err != nil {
		return pipeline.Result{}, err
	}
	return res, nil
}

func printResult(res pipeline.Result) {
	topic := ""
	if res.QueueItem != nil {
		topic = res.QueueItem.Topic
	}
	switch res.Status {
	case pipeline.StatusSuccess:
		printSuccess("Published %q (post %s, slug %s)", topic, res.PostID, res.Slug)
	case pipeline.StatusDraft:
		printSuccess("Saved %q as draft (post %s)", topic, res.PostID)
	case pipeline.StatusHeld:
		printWarning("Held %q for review", topic)
	default:
		printError("%s", res.Error)
	}
	if res.ConfidenceScore != nil {
		printStatus("Confidence", "%d", *res.ConfidenceScore)
	}
	if res.SEOChecksPassed != nil {
		printStatus("SEO checks", "%d", *res.SEOChecksPassed)
	}
	if res.RevisionNotes != "" {
		printStatus("Notes", "%s", res.RevisionNotes)
	}
}

// --- replenish ---

var replenishCmd = &cobra.Command{
	Use:   "replenish",
	Short: "Top up the topic queue if it is running low",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.httpClient.Timeout = runClientTimeout

		resp, err := client.post(cmd.Context(), "/replenish", nil)
		if err != nil {
			return err
		}
		var res pipeline.ReplenishResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if res.Requested == 0 {
			printSuccess("Queue has %d pending topics, nothing to do", res.Pending)
			return nil
		}
		printSuccess("Added %d of %d requested topics (%d were pending)", res.Added, res.Requested, res.Pending)
		return nil
	},
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the topic queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		items, err := fetchQueue(cmd.Context(), client, status, limit)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Queue is empty.")
			return nil
		}
		for _, it := range items {
			fmt.Printf("%s  %-11s  %s  %s\n",
				colorize(colorCyan, shortID(it.ID)),
				colorize(statusColor(it.Status), string(it.Status)),
				it.CreatedAt.Format("2006-01-02 15:04"),
				it.Topic,
			)
		}
		return nil
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add <topic>",
	Short: "Add a topic to the queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyphrase, _ := cmd.Flags().GetString("keyphrase")
		keywords, _ := cmd.Flags().GetStringSlice("keyword")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		item, err := addTopic(cmd.Context(), client, strings.Join(args, " "), keyphrase, keywords)
		if err != nil {
			return err
		}
		printSuccess("Queued %q (%s)", item.Topic, item.ID)
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Put an item back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := setQueueStatus(cmd.Context(), client, args[0], storage.StatusPending); err != nil {
			return err
		}
		printSuccess("Requeued %s", args[0])
		return nil
	},
}

var queueApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Publish a held item after review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		excerpt, _ := cmd.Flags().GetString("excerpt")
		contentFile, _ := cmd.Flags().GetString("content-file")
		cover, _ := cmd.Flags().GetString("cover")
		tags, _ := cmd.Flags().GetStringSlice("tag")

		var content string
		if contentFile != "" {
			data, err := os.ReadFile(contentFile)
			if err != nil {
				return fmt.Errorf("reading content: %w", err)
			}
			content = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		postID, err := approveItem(cmd.Context(), client, args[0], pipeline.Approval{
			Title:      title,
			Excerpt:    excerpt,
			Content:    content,
			CoverImage: cover,
			Tags:       tags,
		})
		if err != nil {
			return err
		}
		printSuccess("Published %s as post %s", args[0], postID)
		return nil
	},
}

var queueDiscardCmd = &cobra.Command{
	Use:   "discard <id>",
	Short: "Discard an item without publishing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := discardItem(cmd.Context(), client, args[0]); err != nil {
			return err
		}
		printSuccess("Discarded %s", args[0])
		return nil
	},
}

var queueDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a queue item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/queue/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	queueListCmd.Flags().String("status", "", "filter by status (pending, in_progress, published, held, discarded)")
	queueListCmd.Flags().Int("limit", 50, "maximum number of items to list")
	queueAddCmd.Flags().String("keyphrase", "", "focus keyphrase (defaults to the topic)")
	queueAddCmd.Flags().StringSlice("keyword", nil, "supporting keyword (repeatable)")
	queueApproveCmd.Flags().String("title", "", "post title")
	queueApproveCmd.Flags().String("excerpt", "", "post excerpt")
	queueApproveCmd.Flags().String("content-file", "", "file holding the post body in markdown")
	queueApproveCmd.Flags().String("cover", "", "cover image URL")
	queueApproveCmd.Flags().StringSlice("tag", nil, "post tag (repeatable)")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	queueCmd.AddCommand(queueApproveCmd)
	queueCmd.AddCommand(queueDiscardCmd)
	queueCmd.AddCommand(queueDeleteCmd)
}

func fetchQueue(ctx context.Context, c *apiClient, status string, limit int) ([]storage.QueueItem, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/queue"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var out struct {
		Items []storage.QueueItem `json:"items"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func addTopic(ctx context.Context, c *apiClient, topic, keyphrase string, keywords []string) (storage.QueueItem, error) {
	body := map[string]any{"topic": topic}
	if keyphrase != "" {
		body["focus_keyphrase"] = keyphrase
	}
	if len(keywords) > 0 {
		body["keywords"] = keywords
	}
	resp, err := c.post(ctx, "/queue", body)
	if err != nil {
		return storage.QueueItem{}, err
	}
	var out struct {
		Item storage.QueueItem `json:"item"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return storage.QueueItem{}, err
	}
	return out.Item, nil
}

func setQueueStatus(ctx context.Context, c *apiClient, id string, status storage.QueueStatus) error {
	resp, err := c.patch(ctx, "/queue/"+url.PathEscape(id), map[string]string{"status": string(status)})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func approveItem(ctx context.Context, c *apiClient, id string, a pipeline.Approval) (string, error) {
	body := struct {
		Action string `json:"action"`
		pipeline.Approval
	}{Action: "approve", Approval: a}

	resp, err := c.post(ctx, "/review/"+url.PathEscape(id), body)
	if err != nil {
		return "", err
	}
	var out struct {
		Post struct {
			ID string `json:"id"`
		} `json:"post"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.Post.ID, nil
}

func discardItem(ctx context.Context, c *apiClient, id string) error {
	resp, err := c.post(ctx, "/review/"+url.PathEscape(id), map[string]string{"action": "discard"})
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func statusColor(s storage.QueueStatus) string {
	switch s {
	case storage.StatusPublished:
		return colorGreen
	case storage.StatusHeld, storage.StatusInProgress:
		return colorYellow
	case storage.StatusDiscarded:
		return colorRed
	default:
		return colorCyan
	}
}

// --- logs ---

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent automation log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		queueID, _ := cmd.Flags().GetString("queue")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		logs, err := fetchLogs(cmd.Context(), client, queueID, limit)
		if err != nil {
			return err
		}
		if len(logs) == 0 {
			fmt.Println("No log entries.")
			return nil
		}
		for _, l := range logs {
			line := fmt.Sprintf("%s  %-8s", l.CreatedAt.Format("2006-01-02 15:04"), l.Status)
			if l.ConfidenceScore != nil {
				line += fmt.Sprintf("  score=%d", *l.ConfidenceScore)
			}
			if l.PostID != nil {
				line += "  post=" + *l.PostID
			}
			if l.ErrorMessage != nil {
				line += "  " + colorize(colorRed, *l.ErrorMessage)
			} else if l.RevisionNotes != nil {
				line += "  " + *l.RevisionNotes
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	logsCmd.Flags().Int("limit", 20, "maximum number of entries")
	logsCmd.Flags().String("queue", "", "only entries for this queue item")
}

func fetchLogs(ctx context.Context, c *apiClient, queueID string, limit int) ([]storage.AutomationLog, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	if queueID != "" {
		q.Set("queue_id", queueID)
	}
	resp, err := c.get(ctx, "/logs?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var out struct {
		Logs []storage.AutomationLog `json:"logs"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// --- schedule ---

type scheduleView struct {
	schedule.Settings
	NextRuns []time.Time `json:"next_runs"`
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show or change when the pipeline runs",
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the schedule and upcoming runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/schedule")
		if err != nil {
			return err
		}
		var view scheduleView
		if err := decodeJSON(resp, &view); err != nil {
			return err
		}
		printSchedule(view)
		return nil
	},
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := schedulePatchFromFlags(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		view, err := updateSchedule(cmd.Context(), client, patch)
		if err != nil {
			return err
		}
		printSuccess("Schedule updated")
		printSchedule(view)
		return nil
	},
}

func addScheduleFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("active", true, "enable scheduled runs")
	cmd.Flags().StringSlice("at", nil, "run time as HH:MM (repeatable)")
	cmd.Flags().String("timezone", "", "IANA timezone, e.g. America/New_York")
}

func init() {
	addScheduleFlags(scheduleSetCmd)

	scheduleCmd.AddCommand(scheduleShowCmd)
	scheduleCmd.AddCommand(scheduleSetCmd)
}

// schedulePatchFromFlags only carries flags the user actually passed.
func schedulePatchFromFlags(cmd *cobra.Command) (schedule.Patch, error) {
	var p schedule.Patch
	if cmd.Flags().Changed("active") {
		v, _ := cmd.Flags().GetBool("active")
		p.Active = &v
	}
	if cmd.Flags().Changed("at") {
		v, _ := cmd.Flags().GetStringSlice("at")
		p.RunTimes = v
	}
	if cmd.Flags().Changed("timezone") {
		v, _ := cmd.Flags().GetString("timezone")
		p.Timezone = &v
	}
	if p.Active == nil && p.RunTimes == nil && p.Timezone == nil {
		return p, fmt.Errorf("nothing to change; pass --active, --at or --timezone")
	}
	return p, nil
}

func updateSchedule(ctx context.Context, c *apiClient, p schedule.Patch) (scheduleView, error) {
	resp, err := c.post(ctx, "/schedule", p)
	if err != nil {
		return scheduleView{}, err
	}
	var view scheduleView
	if err := decodeJSON(resp, &view); err != nil {
		return scheduleView{}, err
	}
	return view, nil
}

func printSchedule(v scheduleView) {
	state := colorize(colorGreen, "active")
	if !v.Active {
		state = colorize(colorYellow, "paused")
	}
	printStatus("State", "%s", state)
	printStatus("Run times", "%s", strings.Join(v.RunTimes, ", "))
	printStatus("Timezone", "%s", v.Timezone)
	for i, t := range v.NextRuns {
		printStatus(fmt.Sprintf("Next #%d", i+1), "%s", t.Format(time.RFC1123))
	}
}

// --- post ---

var postCmd = &cobra.Command{
	Use:   "post <id>",
	Short: "Show a post as stored on the blog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/posts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var out struct {
			Post json.RawMessage `json:"post"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		return printJSON(out.Post)
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if k.FromEnv {
				line += colorize(colorYellow, " (from "+k.EnvVar+")")
			}
			fmt.Println(line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configSetCmd.Long = "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", ")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
