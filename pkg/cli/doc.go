// Package cli provides the fieldnote command-line interface for operators.
//
// # Commands
//
// migrate: Create or upgrade the database schema
//
//	fieldnote migrate
//
// grant set: Grant, change or remove an admin's level on a group or survey.
// A level of none removes the grant. The last owner of a resource can neither
// be removed nor downgraded.
//
//	fieldnote grant set -kind group -id 12 -email ana@example.org -level edit
//	fieldnote grant set -kind survey -id 4 -email ana@example.org -level none
//
// grant list: List the admins of a resource
//
//	fieldnote grant list -kind group -id 12 -json
//
// grant history: Show recent grant changes recorded by the audit log
//
//	fieldnote grant history -kind survey -id 4 -limit 20
//
// check: Exit non-zero unless the admin holds the level
//
//	fieldnote check -kind survey -id 4 -email ana@example.org -level edit
//
// due: List allocations the next push run would notify
//
//	fieldnote due -limit 20
//
// push-once: Run the push job once, outside the scheduler
//
//	fieldnote push-once -dispatcher log
//
// # Configuration
//
// Commands read the same configuration as the scheduler; see pkg/config.
// Grant changes go to the audit sink named by FIELDNOTE_AUDIT_SINK.
//
//	export FIELDNOTE_DATABASE_URL="postgres://localhost/fieldnote?sslmode=disable"
package cli
