package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/truecheckia/retry-service/internal/api/dto"
)

// scheduleParser accepts 5-field cron expressions and descriptors like "@every 5m"
var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

type triggerOptions struct {
	url      string
	secret   string
	schedule string
	timeout  time.Duration
}

func newTriggerCommand() *cobra.Command {
	opts := &triggerOptions{}

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Call the cron endpoint once, or on a schedule",
		Example: `  dlqctl trigger --url http://localhost:8080/api/cron/process-dlq
  dlqctl trigger --schedule "*/5 * * * *"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.secret == "" {
				return errors.New("cron secret is required (--secret or CRON_SECRET)")
			}
			client := &http.Client{Timeout: opts.timeout}

			if opts.schedule == "" {
				return triggerOnce(cmd.Context(), cmd.OutOrStdout(), client, opts)
			}
			return triggerOnSchedule(cmd.Context(), cmd, client, opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "http://localhost:8080/api/cron/process-dlq", "cron endpoint URL")
	cmd.Flags().StringVar(&opts.secret, "secret", os.Getenv("CRON_SECRET"), "bearer secret for the cron endpoint")
	cmd.Flags().StringVar(&opts.schedule, "schedule", "", `cron expression, e.g. "*/5 * * * *" or "@every 5m"`)
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	return cmd
}

func triggerOnce(ctx context.Context, out io.Writer, client *http.Client, opts *triggerOptions) error {
	resp, err := callCron(ctx, client, opts.url, opts.secret)
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

// triggerOnSchedule fires the endpoint on every tick until ctx is canceled.
// Failed calls are reported and the schedule keeps running.
func triggerOnSchedule(ctx context.Context, cmd *cobra.Command, client *http.Client, opts *triggerOptions) error {
	schedule, err := scheduleParser.Parse(opts.schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", opts.schedule, err)
	}

	c := cronlib.New(cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)))
	c.Schedule(schedule, cronlib.FuncJob(func() {
		resp, err := callCron(ctx, client, opts.url, opts.secret)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s trigger failed: %v\n", time.Now().Format(time.RFC3339), err)
			return
		}
		r := resp.Results
		fmt.Fprintf(cmd.OutOrStdout(), "%s processed=%d failed=%d recovered=%d duration=%s\n",
			time.Now().Format(time.RFC3339), r.Processed, r.Failed, r.Recovered, r.Duration)
	}))

	fmt.Fprintf(cmd.OutOrStdout(), "triggering %s on %q, next run %s\n",
		opts.url, opts.schedule, schedule.Next(time.Now()).Format(time.RFC3339))

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// callCron POSTs to the cron endpoint and decodes the sweep response
func callCron(ctx context.Context, client *http.Client, url, secret string) (*dto.ProcessDLQResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+secret)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cron request failed: %w", err)
	}
	defer resp.Body.Close()

	var body dto.ProcessDLQResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("cron endpoint returned %d with unreadable body: %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || !body.Success {
		msg := body.Error
		if msg == "" {
			msg = body.Message
		}
		return nil, fmt.Errorf("cron endpoint returned %d: %s", resp.StatusCode, msg)
	}
	if body.Results == nil {
		return nil, errors.New("cron endpoint returned no results")
	}
	return &body, nil
}
