// workflows/scheduled_processor.go
package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"

	"github.com/geopulse/geo-workflows/services"
)

// refreshStaleness is how old a set's newest metrics report may be before
// the weekly refresh re-runs it. It matches the update-in-place window so a
// refreshed set always starts a new time-series entry.
const refreshStaleness = 7 * 24 * time.Hour

type ScheduledProcessor struct {
	setStore services.QuestionSetStore
	client   inngestgo.Client
}

func NewScheduledProcessor(setStore services.QuestionSetStore) *ScheduledProcessor {
	return &ScheduledProcessor{
		setStore: setStore,
	}
}

func (p *ScheduledProcessor) SetClient(client inngestgo.Client) {
	p.client = client
}

// WeeklyRefreshProcessor re-runs the pipeline for every set whose metrics
// have gone stale, one event per set.
func (p *ScheduledProcessor) WeeklyRefreshProcessor() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:   "weekly-refresh-processor",
			Name: "Weekly GEO Metrics Refresh",
		},
		inngestgo.CronTrigger("0 3 * * 1"), // Every Monday at 3 AM UTC
		func(ctx context.Context, input inngestgo.Input[any]) (any, error) {
			now := time.Now()
			cutoff := now.Add(-refreshStaleness)

			// Step 1: find sets whose latest report predates the cutoff.
			setIDs, err := step.Run(ctx, "list-stale-sets", func(ctx context.Context) ([]uuid.UUID, error) {
				return p.setStore.ListStale(ctx, cutoff)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to list stale sets: %w", err)
			}

			if len(setIDs) == 0 {
				return map[string]interface{}{
					"execution_date":   now.Format("2006-01-02"),
					"total_sets_found": 0,
					"message":          "No stale question sets to refresh",
				}, nil
			}

			// Step 2: one idempotent step per set, so a workflow retry only
			// resends the events that did not complete.
			for _, setID := range setIDs {
				stepName := fmt.Sprintf("trigger-refresh-%s", setID.String())

				_, err := step.Run(ctx, stepName, func(ctx context.Context) (interface{}, error) {
					return p.client.Send(ctx, inngestgo.Event{
						Name: "geo/question-set.process",
						Data: map[string]interface{}{
							"question_set_id": setID.String(),
							"triggered_by":    "weekly_scheduler",
						},
					})
				})
				if err != nil {
					// Keep going; the remaining sets should still refresh.
					fmt.Printf("Warning: Failed to send refresh event for set %s: %v\n", setID.String(), err)
				}
			}

			return map[string]interface{}{
				"execution_date":   now.Format("2006-01-02"),
				"total_sets_found": len(setIDs),
				"sets_refreshed":   setIDs,
				"message":          fmt.Sprintf("Triggered %d pipeline refreshes", len(setIDs)),
			}, nil
		},
	)

	if err != nil {
		fmt.Printf("Failed to create weekly refresh processor function: %v\n", err)
	}
	return fn
}
