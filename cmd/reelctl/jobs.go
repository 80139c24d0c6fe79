package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"reel/internal/models"
	"reel/internal/pkg/errors"
	"reel/internal/platform"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Submit, inspect and purge render jobs",
	}
	cmd.AddCommand(jobsSubmitCmd(), jobsGetCmd(), jobsListCmd(), jobsPurgeCmd())
	return cmd
}

func jobsSubmitCmd() *cobra.Command {
	var prompt, contact string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Enqueue a render job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt = strings.TrimSpace(prompt)
			if prompt == "" {
				return errors.ValidationField("prompt", "prompt is required")
			}
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				job, err := p.Store.Enqueue(ctx, models.Payload{Prompt: prompt, Contact: strings.TrimSpace(contact)})
				if err != nil {
					return err
				}
				if err := p.Waker.Notify(ctx, job.ID); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: wake-up failed, job waits for the next poll: %v\n", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), job.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "text prompt to render")
	cmd.Flags().StringVar(&contact, "contact", "", "email notified when the video is ready (push delivery)")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func jobsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Print a job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				job, err := p.Store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(job)
			})
		},
	}
}

func jobsListCmd() *cobra.Command {
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f models.ListFilter
			if state != "" {
				st, err := models.ParseState(state)
				if err != nil {
					return err
				}
				f.State = st
			}
			f.Limit = limit

			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				jobs, err := p.Store.List(ctx, f.Normalize())
				if err != nil {
					return err
				}
				printJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "filter by state (queued, active, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", models.DefaultListLimit, "maximum number of jobs")
	return cmd
}

func printJobs(w io.Writer, jobs []*models.Job) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tATTEMPTS\tCREATED\tDETAIL")
	for _, j := range jobs {
		detail := j.Result
		if j.State == models.StateFailed {
			detail = j.FailureReason
		}
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			j.ID, j.State, j.Attempts, j.MaxAttempts, j.CreatedAt.Local().Format(time.DateTime), detail)
	}
	_ = tw.Flush()
}

func jobsPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete all queued and active jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlatform(cmd, func(ctx context.Context, p *platform.Platform) error {
				n, err := p.Store.Purge(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d jobs\n", n)
				return nil
			})
		},
	}
}
