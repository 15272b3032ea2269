// Package audithook is a courier extension that turns job lifecycle
// events into an audit trail.
//
// Every hook emits a structured [AuditEvent] through a [Recorder]. Severity
// is info for normal progress, warning for retries and rejections, and
// critical for dead-lettering. Tenant tokens are replaced by their
// fingerprint before an event leaves the process.
//
//	eng, _ := engine.Build(s,
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDLQ,
//	    ),
//	)
package audithook
