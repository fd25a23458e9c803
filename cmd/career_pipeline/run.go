package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jonathan/career-pipeline/internal/broadcast"
	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/types"
)

const progressBuffer = 64

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		documentPath string
		rolePath     string
		roleText     string
		userFlag     string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one submission through the pipeline in-process",
		Long: `Run executes a CV and role description through every stage in this process,
printing progress as it goes. The run is stored like any API run and can be
inspected with status or continued with resume if it pauses for input.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := parseUserFlag(userFlag)
			if err != nil {
				return err
			}
			document, err := readInput(ctx.fs, documentPath)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			role := roleText
			if rolePath != "" {
				if role, err = readInput(ctx.fs, rolePath); err != nil {
					return fmt.Errorf("read role: %w", err)
				}
			}

			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			runCtx, cancel := withOptionalTimeout(cmd.Context(), timeout)
			defer cancel()

			rt, err := ctx.newRuntime(runCtx, logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(runCtx)) }()

			runID, err := rt.follow(runCtx, userID, cmd.OutOrStdout(), func() (*pipeline.Execution, error) {
				_, exec, err := rt.engine.Start(runCtx, userID, pipeline.Inputs{
					DocumentText:    document,
					RoleDescription: role,
				})
				return exec, err
			})
			if err != nil {
				return err
			}
			return rt.printOutcome(runCtx, cmd.OutOrStdout(), runID)
		},
	}

	cmd.Flags().StringVarP(&documentPath, "document", "d", "", "Path to the CV text file")
	cmd.Flags().StringVarP(&rolePath, "role", "r", "", "Path to the target role description")
	cmd.Flags().StringVar(&roleText, "role-text", "", "Target role description given inline")
	cmd.Flags().StringVar(&userFlag, "user", "", "User id owning the run (defaults to the local user)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort if the run takes longer than this (0 waits indefinitely)")
	cmd.MarkFlagsMutuallyExclusive("role", "role-text")
	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	var (
		documentPath string
		rolePath     string
		roleText     string
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Resume a paused or failed run in-process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			var in pipeline.ResumeInput
			if documentPath != "" {
				doc, err := readInput(ctx.fs, documentPath)
				if err != nil {
					return fmt.Errorf("read document: %w", err)
				}
				in.DocumentText = &doc
			}
			switch {
			case rolePath != "":
				role, err := readInput(ctx.fs, rolePath)
				if err != nil {
					return fmt.Errorf("read role: %w", err)
				}
				in.RoleDescription = &role
			case cmd.Flags().Changed("role-text"):
				in.RoleDescription = &roleText
			}

			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			runCtx, cancel := withOptionalTimeout(cmd.Context(), timeout)
			defer cancel()

			rt, err := ctx.newRuntime(runCtx, logger)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.WithoutCancel(runCtx)) }()

			rec, err := rt.engine.Status(runCtx, runID)
			if err != nil {
				return err
			}
			if _, err := rt.follow(runCtx, rec.UserID, cmd.OutOrStdout(), func() (*pipeline.Execution, error) {
				res, err := rt.engine.Resume(runCtx, runID, in)
				if err != nil {
					return nil, err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resuming run %s from stage %d\n", runID, res.ResumedFromStage)
				return res.Execution, nil
			}); err != nil {
				return err
			}
			return rt.printOutcome(runCtx, cmd.OutOrStdout(), runID)
		},
	}

	cmd.Flags().StringVarP(&documentPath, "document", "d", "", "Replace the CV with this file before resuming")
	cmd.Flags().StringVarP(&rolePath, "role", "r", "", "Replace the role description with this file")
	cmd.Flags().StringVar(&roleText, "role-text", "", "Replace the role description with this text")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort if the run takes longer than this (0 waits indefinitely)")
	cmd.MarkFlagsMutuallyExclusive("role", "role-text")
	return cmd
}

// follow subscribes to userID's progress, calls launch, prints every event
// until the execution stops and returns the run id.
func (r *runtime) follow(ctx context.Context, userID uuid.UUID, out io.Writer, launch func() (*pipeline.Execution, error)) (uuid.UUID, error) {
	conn := broadcast.NewChanConn(progressBuffer)
	if err := r.hub.Subscribe(ctx, userID.String(), conn); err != nil {
		return uuid.Nil, err
	}

	printer := newProgressPrinter(out)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for event := range conn.Events() {
			printer.print(event)
		}
	}()
	stopFollowing := func() {
		r.hub.Unsubscribe(userID.String(), conn)
		_ = conn.Close()
		<-printed
	}

	exec, err := launch()
	if err != nil {
		stopFollowing()
		return uuid.Nil, err
	}
	status, err := exec.Wait(ctx)
	stopFollowing()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return exec.RunID, fmt.Errorf("run %s still %s when the timeout expired", exec.RunID, types.StatusRunning)
		}
		return exec.RunID, err
	}
	r.logger.Debug("execution stopped", "run_id", exec.RunID, "status", status)
	return exec.RunID, nil
}

// printOutcome renders the stored run after its execution stopped
func (r *runtime) printOutcome(ctx context.Context, out io.Writer, runID uuid.UUID) error {
	rec, err := r.engine.Status(context.WithoutCancel(ctx), runID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, renderRun(rec))
	if rec.Status == types.StatusWaitingForInput {
		fmt.Fprintf(out, "Run paused; supply %s and run: career_pipeline resume %s\n", strings.Join(rec.MissingFields, ", "), rec.ID)
	}
	return nil
}

func readInput(fs afero.Fs, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
