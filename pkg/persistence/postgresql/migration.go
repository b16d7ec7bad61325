package postgresql

// Workflow and execution documents are stored as JSONB next to the columns
// used for filtering, sorting and compare-and-swap. Workflow metrics live in
// their own columns so counters can be incremented without touching the document.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived', 'deleted')),
				trigger_type VARCHAR(50) NOT NULL,
				document JSONB NOT NULL,
				version BIGINT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_org_status ON workflows(organization_id, status);
			CREATE INDEX idx_workflows_created_at ON workflows(created_at);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				organization_id TEXT NOT NULL,
				contact_id TEXT NOT NULL,
				status VARCHAR(50) NOT NULL,
				document JSONB NOT NULL,
				version BIGINT NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_executions_workflow ON executions(workflow_id, organization_id);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_started_at ON executions(started_at);
		`,
		2: `
			ALTER TABLE workflows
				ADD COLUMN total_executions BIGINT NOT NULL DEFAULT 0,
				ADD COLUMN completed_executions BIGINT NOT NULL DEFAULT 0,
				ADD COLUMN average_completion_time DOUBLE PRECISION NOT NULL DEFAULT 0,
				ADD COLUMN last_executed_at TIMESTAMP WITH TIME ZONE;
		`,
		3: `
			CREATE TABLE contacts (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				document JSONB NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE portals (
				id TEXT PRIMARY KEY,
				organization_id TEXT NOT NULL,
				workflow_id TEXT NOT NULL,
				status VARCHAR(50) NOT NULL,
				document JSONB NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_portals_workflow ON portals(workflow_id, organization_id, status);

			CREATE TABLE users (
				id TEXT PRIMARY KEY,
				document JSONB NOT NULL
			);
		`,
	}
}
