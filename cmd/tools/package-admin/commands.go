// cmd/tools/package-admin/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"package-orchestrator/internal/audit"
	"package-orchestrator/internal/models"
	"package-orchestrator/internal/queue"

	cc "package-orchestrator/internal/workers/submission/completeness-check"

	"github.com/spf13/cobra"
)

type packageStore interface {
	Get(ctx context.Context, id string) (*models.ApplicationPackage, error)
	ResetSubmission(ctx context.Context, id string) (models.PackageStatus, error)
}

type jobQueue interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload models.JobPayload, opts ...queue.EnqueueOption) (queue.EnqueueResult, error)
	ListPending(ctx context.Context, types ...models.JobType) ([]models.Job, error)
}

type triggers interface {
	TriggerScan(ctx context.Context) (queue.EnqueueResult, error)
	TriggerStageCheck(ctx context.Context) (queue.EnqueueResult, error)
}

type screeningMarker interface {
	MarkScreeningProvided(ctx context.Context, memberID string) (string, error)
}

type historian interface {
	History(ctx context.Context, packageID string, size int) ([]audit.Event, error)
}

// app holds the collaborators the commands run against. connect fills it in
// before any command that needs them.
type app struct {
	packages     packageStore
	household    cc.HouseholdReader
	screening    screeningMarker
	queue        jobQueue
	triggers     triggers
	history      historian
	screeningAge int
	migrate      func(ctx context.Context) error
	close        func()
}

const reasonOperator = "package-admin"

func newRootCmd(a *app, connect func(ctx context.Context, a *app) error) *cobra.Command {
	root := &cobra.Command{
		Use:           "package-admin",
		Short:         "Operator tooling for the package orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return connect(cmd.Context(), a)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.close != nil {
				a.close()
			}
		},
	}

	root.AddCommand(
		migrateCmd(a),
		resetSubmissionCmd(a),
		enqueueCheckCmd(a),
		markScreeningCmd(a),
		pendingCmd(a),
		triggerCmd(a),
		inspectCmd(a),
	)
	return root
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

// jobForStatus picks the job that moves a reset package forward.
func jobForStatus(status models.PackageStatus) (models.JobType, bool) {
	switch status {
	case models.StatusReady:
		return models.JobSubmission, true
	case models.StatusReferralRequested:
		return models.JobSubmitReferral, true
	case models.StatusAwaitingConsent:
		return models.JobCompletenessCheck, true
	}
	return "", false
}

func resetSubmissionCmd(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "reset-submission",
		Short: "Clear a failed submission and queue the package again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			status, err := a.packages.ResetSubmission(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if status == "" {
				fmt.Fprintf(out, "package %s has no failed or errored submission, nothing to reset\n", id)
				return nil
			}

			jobType, ok := jobForStatus(status)
			if !ok {
				fmt.Fprintf(out, "package %s reset to pending; status %s needs no job\n", id, status)
				return nil
			}
			res, err := a.queue.Enqueue(ctx, jobType, models.JobPayload{PackageID: id, Reason: reasonOperator})
			if err != nil {
				return fmt.Errorf("package reset but %s job not queued: %w", jobType, err)
			}
			fmt.Fprintf(out, "package %s reset to pending, %s job %s%s\n", id, jobType, res.JobID, duplicateNote(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "package id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func enqueueCheckCmd(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "enqueue-check",
		Short: "Queue a completeness check for a package",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.queue.Enqueue(cmd.Context(), models.JobCompletenessCheck, models.JobPayload{PackageID: id, Reason: reasonOperator})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "completeness-check job %s%s\n", res.JobID, duplicateNote(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "package id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

// markScreeningCmd records a member's screening and re-checks the member's package.
func markScreeningCmd(a *app) *cobra.Command {
	var memberID string
	cmd := &cobra.Command{
		Use:   "mark-screening",
		Short: "Mark a household member's screening as provided and queue a completeness check",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			packageID, err := a.screening.MarkScreeningProvided(ctx, memberID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "member %s screening provided (package %s)\n", memberID, packageID)

			res, err := a.queue.Enqueue(ctx, models.JobCompletenessCheck, models.JobPayload{PackageID: packageID, Reason: reasonOperator})
			if err != nil {
				return fmt.Errorf("screening recorded but completeness-check not queued: %w", err)
			}
			fmt.Fprintf(out, "completeness-check job %s%s\n", res.JobID, duplicateNote(res))
			return nil
		},
	}
	cmd.Flags().StringVar(&memberID, "member", "", "household member id")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func pendingCmd(a *app) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List waiting, active and delayed jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobTypes := models.AllJobTypes
			if len(types) > 0 {
				jobTypes = make([]models.JobType, 0, len(types))
				for _, t := range types {
					if !knownJobType(models.JobType(t)) {
						return fmt.Errorf("unknown job type %q, expected one of: %s", t, jobTypeNames())
					}
					jobTypes = append(jobTypes, models.JobType(t))
				}
			}
			jobs, err := a.queue.ListPending(cmd.Context(), jobTypes...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "no pending jobs")
				return nil
			}
			for _, job := range jobs {
				fmt.Fprintf(out, "%-36s  %-18s  %-8s  %-36s  attempts=%d/%d\n",
					job.ID, job.Type, job.State, job.Payload.PackageID, job.AttemptsMade, job.Policy.MaxAttempts)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "job types to list, any of: "+jobTypeNames())
	return cmd
}

func triggerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "trigger scan|stage-check",
		Short:     "Queue a periodic job now",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"scan", "stage-check"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				res queue.EnqueueResult
				err error
			)
			switch args[0] {
			case "scan":
				res, err = a.triggers.TriggerScan(cmd.Context())
			case "stage-check":
				res, err = a.triggers.TriggerStageCheck(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s job %s%s\n", args[0], res.JobID, duplicateNote(res))
			return nil
		},
	}
}

type inspection struct {
	Package      *models.ApplicationPackage `json:"package"`
	Members      []models.HouseholdMember   `json:"members"`
	Forms        []models.Form              `json:"forms"`
	Completeness models.CompletenessResult  `json:"completeness"`
	Events       []audit.Event              `json:"events,omitempty"`
}

func inspectCmd(a *app) *cobra.Command {
	var (
		id     string
		events int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show a package, its household and the completeness verdict",
		Long:  "Show a package, its household and the completeness verdict. Nothing is changed.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			pkg, err := a.packages.Get(ctx, id)
			if err != nil {
				return err
			}
			members, err := a.household.ListMembers(ctx, id)
			if err != nil {
				return err
			}
			forms, err := a.household.ListForms(ctx, id)
			if err != nil {
				return err
			}
			verdict, err := cc.NewEvaluator(a.household, a.screeningAge).Evaluate(ctx, pkg)
			if err != nil {
				return err
			}

			report := inspection{Package: pkg, Members: members, Forms: forms, Completeness: verdict}
			if a.history != nil && events > 0 {
				report.Events, err = a.history.History(ctx, id, events)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "audit history unavailable: %v\n", err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "package id")
	cmd.Flags().IntVar(&events, "events", 10, "number of audit events to include")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func duplicateNote(res queue.EnqueueResult) string {
	if res.Duplicate {
		return " (already queued)"
	}
	return ""
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jobTypeNames() string {
	names := make([]string, len(models.AllJobTypes))
	for i, t := range models.AllJobTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func knownJobType(t models.JobType) bool {
	for _, known := range models.AllJobTypes {
		if t == known {
			return true
		}
	}
	return false
}
