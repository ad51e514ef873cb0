// Package audit records grant changes for compliance and forensics.
//
// # Overview
//
// Every grant created, changed or removed through access.Resolver produces an
// Event carrying the admin, the resource, the level before and after, and the
// request id when one is in the context.
//
// # Sinks
//
// DBLogger writes to the grant_audit_logs table created by the schema
// migrations. FileLogger appends JSON lines to audit.log and rotates by size.
// MultiLogger fans out to several sinks.
//
// # Usage Example
//
//	auditLogger, err := audit.NewDBLogger(db)
//	if err != nil {
//		return err
//	}
//	resolver := access.NewResolver(store, access.WithAuditor(auditLogger))
//
// Read back the history of a survey:
//
//	events, err := auditLogger.Recent(ctx, "survey", 4, 20)
package audit
