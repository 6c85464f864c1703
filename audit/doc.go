// Package audit bridges job lifecycle events to an audit trail backend.
//
// The extension translates every scheduler hook into a structured
// [AuditEvent] and hands it to a caller-supplied [Recorder]. Backends are
// injected at wiring time, so the package stays free of storage
// dependencies — a RecorderFunc closure is enough to bridge to any audit
// system:
//
//	ext := audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.AuditEvent) error {
//	    return trail.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//	mgr := sched.NewManager(st, client, logger, sched.WithExtension(ext))
package audit
