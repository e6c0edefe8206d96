package repository

// Migrations returns the DDL for the stock schema, in order. Statements are
// idempotent so they can be applied at startup in development and by the
// integration test suite.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS categories (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT categories_name_key UNIQUE (name)
		)`,

		`CREATE TABLE IF NOT EXISTS medicines (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			category_id UUID REFERENCES categories(id),
			unit VARCHAR(50) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT medicines_name_key UNIQUE (name)
		)`,

		`CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY,
			medicine_id UUID NOT NULL REFERENCES medicines(id),
			batch_name VARCHAR(255) NOT NULL,
			quantity INTEGER NOT NULL,
			expiry_date TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMPTZ,
			CONSTRAINT batches_quantity_non_negative CHECK (quantity >= 0),
			CONSTRAINT batches_medicine_batch_name_key UNIQUE (medicine_id, batch_name)
		)`,

		`CREATE INDEX IF NOT EXISTS batches_medicine_idx
			ON batches (medicine_id)`,

		`CREATE TABLE IF NOT EXISTS stock_transactions (
			id UUID PRIMARY KEY,
			medicine_id UUID NOT NULL REFERENCES medicines(id),
			batch_id UUID NOT NULL REFERENCES batches(id),
			change INTEGER NOT NULL,
			type VARCHAR(20) NOT NULL,
			reason VARCHAR(255) NOT NULL,
			patient_id UUID,
			family_member_id UUID,
			treatment_ref UUID,
			performed_by UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT stock_transactions_transaction_type_valid
				CHECK (type IN ('added', 'removed'))
		)`,

		`CREATE INDEX IF NOT EXISTS stock_transactions_medicine_created_idx
			ON stock_transactions (medicine_id, created_at DESC)`,

		`CREATE INDEX IF NOT EXISTS stock_transactions_batch_idx
			ON stock_transactions (batch_id)`,

		`CREATE TABLE IF NOT EXISTS stock_notifications (
			id UUID PRIMARY KEY,
			notification_type VARCHAR(50) NOT NULL,
			medicine_id UUID NOT NULL,
			medicine_name VARCHAR(255),
			batch_id UUID,
			message TEXT NOT NULL,
			acknowledged_by UUID,
			acknowledged_at TIMESTAMPTZ,
			resolved_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS stock_notifications_active_idx
			ON stock_notifications (notification_type, medicine_id)
			WHERE resolved_at IS NULL`,
	}
}
