// Package telemetry instruments the plan retrieval pipeline: structured
// logging on zerolog, OpenTelemetry tracing, Prometheus metrics, and a
// lifecycle event publisher behind one handle.
//
// Initialize once at startup and carry the handle through context:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Loggers are derived per component and enriched with pipeline fields:
//
//	logger := tel.Logger.NewComponentLogger("tfe_client").
//	    WithWorkspaceID("ws-ABC123xyz").WithRunID("run-XYZ789abc")
//	logger.Info("Starting plan retrieval")
//	logger.WithError(err).Error("Retrieval failed")
//
// A retrieval is traced end to end, with metrics and events recorded at the
// same boundaries:
//
//	ctx, span := tel.Tracer.StartFetchSpan(ctx, workspaceID, runID)
//	defer span.End()
//
//	tel.Metrics.RecordAPICall("GET", 200, duration)
//	tel.Metrics.RecordRetry("run lookup", "api_rate_limit")
//	_ = tel.Events.PublishFetchStarted(workspaceID, runID)
//
// Subscribers observe the pipeline without modifying it:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.Message)
//	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))
//
// Every component is safe to use when disabled: metrics methods no-op, the
// tracer emits no-op spans, and the publisher drops events.
package telemetry
