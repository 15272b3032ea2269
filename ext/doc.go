// Package ext defines the extension system for Courier.
//
// Extensions are notified of lifecycle events and can react to them, for
// example by recording metrics or writing audit logs. Each lifecycle hook
// is a separate interface so extensions opt in only to the events they
// care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobDelivered(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s delivered in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued]: job was accepted through the engine
//   - [JobLeased]: a worker claimed the job
//   - [JobDelivered]: the endpoint acknowledged the delivery
//   - [JobRetrying]: delivery failed and will be retried
//   - [JobFailed]: the job failed terminally
//   - [JobDLQ]: the job was moved to the dead letter queue
//   - [JobRearmed]: a recurring job moved to its next occurrence
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never interrupt delivery.
package ext
