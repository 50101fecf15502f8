package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/acme/voice-load-test/internal/app"
	"github.com/acme/voice-load-test/internal/domain"
	"github.com/acme/voice-load-test/internal/scheduler"
	loadtestsvc "github.com/acme/voice-load-test/internal/service/loadtest"
	"github.com/acme/voice-load-test/internal/telemetry"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
)

var runBatchCmd = &cobra.Command{
	Use:   "run-batch",
	Short: "Dispatch a batch of test calls",
	Long: `run-batch issues one dispatch per call, one after another, pausing
--interval seconds between them. It exits 0 once every dispatch was attempted,
whatever the individual outcomes, and non-zero only when the run could not start.`,
	RunE: runBatch,
}

var batchFlags struct {
	phoneNumber string
	trunkID     string
	calls       int
	interval    int
	duration    int
	agent       string
}

func init() {
	f := runBatchCmd.Flags()
	f.StringVar(&batchFlags.phoneNumber, "phone-number", "", "E.164 number to call")
	f.StringVar(&batchFlags.trunkID, "trunk-id", "", "outbound SIP trunk id")
	f.IntVar(&batchFlags.calls, "calls", 3, "number of calls to place")
	f.IntVar(&batchFlags.interval, "interval", 5, "seconds between dispatches")
	f.IntVar(&batchFlags.duration, "duration", 10, "seconds each answered call is held")
	f.StringVar(&batchFlags.agent, "agent", "outbound_agent", "agent that handles the calls")
	_ = runBatchCmd.MarkFlagRequired("phone-number")
	_ = runBatchCmd.MarkFlagRequired("trunk-id")
}

func runBatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	container, err := app.Build(ctx, configPath, app.NeedPostgres|app.NeedRedis|app.NeedKafka)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App, "loadtest")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		return fmt.Errorf("ensure kafka topics: %w", err)
	}
	if err := container.Err(); err != nil {
		return err
	}

	services := container.Services()
	run, err := services.LoadTest.NewRun(inputFromFlags(cmd))
	if err != nil {
		return err
	}

	batch, err := services.Scheduler.Prepare(ctx, run)
	if err != nil {
		if hint := apperrors.FlattenHints(err); hint != "" {
			pterm.Warning.Println(hint)
		}
		return err
	}

	printHeader(batch)
	printSummary(dispatchAll(ctx, batch), run.CallCount)
	return nil
}

// inputFromFlags maps flags onto run input. An unset --agent takes the
// configured default agent.
func inputFromFlags(cmd *cobra.Command) loadtestsvc.NewRunInput {
	interval := time.Duration(batchFlags.interval) * time.Second
	duration := time.Duration(batchFlags.duration) * time.Second
	input := loadtestsvc.NewRunInput{
		PhoneNumber:  batchFlags.phoneNumber,
		TrunkID:      batchFlags.trunkID,
		CallCount:    &batchFlags.calls,
		Interval:     &interval,
		CallDuration: &duration,
	}
	if cmd.Flags().Changed("agent") {
		input.AgentName = batchFlags.agent
	}
	return input
}

func printHeader(batch *scheduler.Batch) {
	run := batch.Run()
	trunks := batch.Trunks()

	pterm.DefaultHeader.WithFullWidth().Println("Voice load test")
	pterm.Info.Printf("run id:        %s\n", run.RunID)
	pterm.Info.Printf("outbound trunk: %s (%s) from %s\n", trunks.Outbound.ID, trunks.Outbound.Name, trunks.Outbound.PrimaryNumber())
	pterm.Info.Printf("inbound trunk:  %s (%s) answering %s\n", trunks.Inbound.ID, trunks.Inbound.Name, run.PhoneNumber)
	pterm.Info.Printf("calls: %d, every %s, held %s, agent %s\n", run.CallCount, run.Interval, run.CallDuration, run.AgentName)
	pterm.Info.Printf("search rooms with prefix %s\n", pterm.LightCyan(domain.RoomPrefix(run.RunID)))
	pterm.Println()
}

type tally struct {
	dispatched int
	failed     int
}

func dispatchAll(ctx context.Context, batch *scheduler.Batch) tally {
	var t tally
	total := batch.Run().CallCount
	for result := range batch.Dispatches(ctx) {
		if result.OK() {
			t.dispatched++
			pterm.Success.Printf("[%d/%d] %s dispatched as %s\n", result.CallIndex+1, total, result.RoomName, result.DispatchID)
			continue
		}
		t.failed++
		pterm.Error.Printf("[%d/%d] %s not dispatched: %v\n", result.CallIndex+1, total, result.RoomName, result.Err)
	}
	return t
}

func printSummary(t tally, total int) {
	pterm.Println()
	if missing := total - t.dispatched - t.failed; missing > 0 {
		pterm.Warning.Printf("batch interrupted, %d calls never dispatched\n", missing)
	}
	pterm.Info.Printf("%d dispatched, %d failed\n", t.dispatched, t.failed)
}
