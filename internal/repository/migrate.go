package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table names.
const (
	TableTranscriptionJobs = "transcription_jobs"
	TableTranscriptions    = "transcriptions"
	TableCreditBalances    = "credit_balances"
	TableCreditSettlements = "credit_settlements"
	TableImages            = "images"
	TableDocuments         = "documents"
)

var textType = map[string]string{dialect.Postgres: "text"}

var (
	// TranscriptionJobsColumns holds the columns for the "transcription_jobs" table.
	TranscriptionJobsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID, Unique: true},
		{Name: "image_id", Type: field.TypeUUID},
		{Name: "external_job_id", Type: field.TypeString},
		{Name: "status", Type: field.TypeString},
		{Name: "transcript_text", Type: field.TypeString, Nullable: true, SchemaType: textType},
		{Name: "failure_reason", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	// TranscriptionJobsTable holds the schema information for the "transcription_jobs" table.
	TranscriptionJobsTable = &schema.Table{
		Name:       TableTranscriptionJobs,
		Columns:    TranscriptionJobsColumns,
		PrimaryKey: []*schema.Column{TranscriptionJobsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "transcriptionjob_image_id", Columns: []*schema.Column{TranscriptionJobsColumns[1]}},
			{Name: "transcriptionjob_status_created_at", Columns: []*schema.Column{TranscriptionJobsColumns[3], TranscriptionJobsColumns[6]}},
		},
	}

	TranscriptionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID, Unique: true},
		{Name: "image_id", Type: field.TypeUUID, Unique: true},
		{Name: "current_transcription_text", Type: field.TypeString, SchemaType: textType},
		{Name: "ai_transcription_text", Type: field.TypeString, SchemaType: textType},
		{Name: "transcription_status", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	TranscriptionsTable = &schema.Table{
		Name:       TableTranscriptions,
		Columns:    TranscriptionsColumns,
		PrimaryKey: []*schema.Column{TranscriptionsColumns[0]},
	}

	CreditBalancesColumns = []*schema.Column{
		{Name: "user_id", Type: field.TypeUUID, Unique: true},
		{Name: "monthly_credits", Type: field.TypeInt64},
		{Name: "lifetime_credits", Type: field.TypeInt64},
		{Name: "image_limits", Type: field.TypeInt64},
		{Name: "updated_at", Type: field.TypeTime},
	}
	CreditBalancesTable = &schema.Table{
		Name:       TableCreditBalances,
		Columns:    CreditBalancesColumns,
		PrimaryKey: []*schema.Column{CreditBalancesColumns[0]},
	}

	CreditSettlementsColumns = []*schema.Column{
		{Name: "idempotency_key", Type: field.TypeString, Unique: true},
		{Name: "user_id", Type: field.TypeUUID},
		{Name: "task_id", Type: field.TypeUUID},
		{Name: "requested", Type: field.TypeInt64},
		{Name: "deducted", Type: field.TypeInt64},
		{Name: "created_at", Type: field.TypeTime},
	}
	CreditSettlementsTable = &schema.Table{
		Name:       TableCreditSettlements,
		Columns:    CreditSettlementsColumns,
		PrimaryKey: []*schema.Column{CreditSettlementsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "creditsettlement_user_id", Columns: []*schema.Column{CreditSettlementsColumns[1]}},
		},
	}

	DocumentsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID, Unique: true},
		{Name: "user_id", Type: field.TypeUUID},
		{Name: "title", Type: field.TypeString},
		{Name: "created_at", Type: field.TypeTime},
	}
	DocumentsTable = &schema.Table{
		Name:       TableDocuments,
		Columns:    DocumentsColumns,
		PrimaryKey: []*schema.Column{DocumentsColumns[0]},
	}

	ImagesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID, Unique: true},
		{Name: "user_id", Type: field.TypeUUID},
		{Name: "document_id", Type: field.TypeUUID, Nullable: true},
		{Name: "storage_path", Type: field.TypeString},
		{Name: "position", Type: field.TypeInt},
		{Name: "created_at", Type: field.TypeTime},
	}
	ImagesTable = &schema.Table{
		Name:       TableImages,
		Columns:    ImagesColumns,
		PrimaryKey: []*schema.Column{ImagesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "image_document_id_position", Columns: []*schema.Column{ImagesColumns[2], ImagesColumns[4]}},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		TranscriptionJobsTable,
		TranscriptionsTable,
		CreditBalancesTable,
		CreditSettlementsTable,
		DocumentsTable,
		ImagesTable,
	}
)

// Migrate creates or upgrades all tables. Columns and indexes are only ever added.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	m, err := schema.NewMigrate(db.drv)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("schema migration failed", "error", err)
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema migration complete", "tables", len(Tables))
	return nil
}
