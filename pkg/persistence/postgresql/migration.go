package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				trigger_event VARCHAR(255) NOT NULL,
				conditions JSONB NOT NULL DEFAULT '[]',
				is_active BOOLEAN NOT NULL DEFAULT false,
				allow_reenrollment BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automations_trigger_active ON automations(trigger_event, is_active);

			CREATE TABLE automation_steps (
				automation_id VARCHAR(255) NOT NULL REFERENCES automations(id) ON DELETE CASCADE,
				position INT NOT NULL,
				type VARCHAR(50) NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				PRIMARY KEY (automation_id, position)
			);

			CREATE TABLE subscribers (
				id VARCHAR(255) PRIMARY KEY,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'inactive', 'blocked')),
				language VARCHAR(16) NOT NULL DEFAULT '',
				chat_id VARCHAR(255) NOT NULL DEFAULT '',
				attributes JSONB NOT NULL DEFAULT '{}'
			);

			CREATE TABLE enrollments (
				id VARCHAR(255) PRIMARY KEY,
				automation_id VARCHAR(255) NOT NULL REFERENCES automations(id),
				subscriber_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'completed', 'cancelled')),
				current_step INT NOT NULL DEFAULT 0,
				next_execute_at TIMESTAMP WITH TIME ZONE,
				event_payload JSONB NOT NULL DEFAULT '{}',
				version INT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_enrollments_automation_subscriber ON enrollments(automation_id, subscriber_id, created_at DESC);
			CREATE INDEX idx_enrollments_active_due ON enrollments(next_execute_at) WHERE status = 'active';
			CREATE UNIQUE INDEX idx_enrollments_one_active ON enrollments(automation_id, subscriber_id) WHERE status = 'active';
		`,
		2: `
			CREATE TABLE deliveries (
				id VARCHAR(255) PRIMARY KEY,
				automation_id VARCHAR(255) NOT NULL,
				enrollment_id VARCHAR(255) NOT NULL REFERENCES enrollments(id),
				subscriber_id VARCHAR(255) NOT NULL,
				content TEXT NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('sent', 'rate_limited', 'failed')),
				channel_message_id VARCHAR(255),
				error TEXT,
				sent_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_deliveries_enrollment ON deliveries(enrollment_id, sent_at);
		`,
	}
}
