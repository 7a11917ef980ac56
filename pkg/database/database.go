package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/zapdesk/zapdesk/internal/domain"
	"github.com/zapdesk/zapdesk/pkg/config"
)

func Connect(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

func Migrate(db *pgxpool.Pool) error {
	ctx := context.Background()

	migrations := []string{
		// Organizations table (multi-tenant)
		`CREATE TABLE IF NOT EXISTS organizations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(255) NOT NULL,
			slug VARCHAR(255) UNIQUE NOT NULL,
			plan VARCHAR(50) DEFAULT 'free',
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Users table
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			username VARCHAR(255) UNIQUE NOT NULL,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			display_name VARCHAR(255),
			role VARCHAR(50) DEFAULT 'agent',
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// WhatsApp instances: one gateway session per organization
		`CREATE TABLE IF NOT EXISTS whatsapp_instances (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			instance_name VARCHAR(255) NOT NULL,
			token VARCHAR(255) NOT NULL,
			status VARCHAR(50) DEFAULT 'disconnected',
			phone_number VARCHAR(50),
			webhook_configured BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			last_connected_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(organization_id)
		)`,

		// Contacts table
		`CREATE TABLE IF NOT EXISTS contacts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			phone VARCHAR(50) NOT NULL,
			name VARCHAR(255),
			push_name VARCHAR(255),
			email VARCHAR(255),
			company VARCHAR(255),
			avatar_url TEXT,
			tags TEXT[],
			notes TEXT,
			is_group BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(organization_id, phone)
		)`,

		// Chats table
		`CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			contact_id UUID REFERENCES contacts(id) ON DELETE SET NULL,
			phone VARCHAR(50) NOT NULL,
			name VARCHAR(255),
			last_message TEXT,
			last_message_at TIMESTAMPTZ,
			unread_count INT DEFAULT 0,
			is_archived BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(organization_id, phone)
		)`,

		// Messages table
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			gateway_id VARCHAR(255),
			body TEXT,
			message_type VARCHAR(50) DEFAULT 'text',
			media_url TEXT,
			media_mimetype VARCHAR(100),
			is_from_me BOOLEAN DEFAULT FALSE,
			status VARCHAR(50),
			timestamp TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Pipelines table
		`CREATE TABLE IF NOT EXISTS pipelines (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			is_default BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Pipeline stages table
		`CREATE TABLE IF NOT EXISTS pipeline_stages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			pipeline_id UUID NOT NULL REFERENCES pipelines(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			color VARCHAR(50) DEFAULT '#6366f1',
			position INT DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Leads table
		`CREATE TABLE IF NOT EXISTS leads (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			contact_id UUID REFERENCES contacts(id) ON DELETE SET NULL,
			stage_id UUID NOT NULL REFERENCES pipeline_stages(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			phone VARCHAR(50),
			value NUMERIC,
			source VARCHAR(100),
			notes TEXT,
			assigned_to UUID REFERENCES users(id) ON DELETE SET NULL,
			position INT DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Campaigns (mass messaging)
		`CREATE TABLE IF NOT EXISTS campaigns (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
			name VARCHAR(255) NOT NULL,
			message_template TEXT NOT NULL DEFAULT '',
			media_url TEXT,
			media_type VARCHAR(50),
			status VARCHAR(50) DEFAULT 'draft',
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			total_recipients INT DEFAULT 0,
			sent_count INT DEFAULT 0,
			failed_count INT DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS campaign_recipients (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			campaign_id UUID NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
			contact_id UUID REFERENCES contacts(id) ON DELETE SET NULL,
			phone VARCHAR(50) NOT NULL,
			name VARCHAR(255),
			status VARCHAR(50) DEFAULT 'pending',
			sent_at TIMESTAMPTZ,
			error_message TEXT
		)`,

		// Billing provider webhook events, deduplicated by (provider, event_id)
		`CREATE TABLE IF NOT EXISTS billing_events (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			provider VARCHAR(50) NOT NULL,
			event_id VARCHAR(255) NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			organization_id UUID REFERENCES organizations(id) ON DELETE SET NULL,
			payload JSONB NOT NULL DEFAULT '{}',
			processed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(provider, event_id)
		)`,

		// Indexes for performance
		`CREATE INDEX IF NOT EXISTS idx_users_org ON users(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_org ON contacts(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_phone ON contacts(phone)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_org ON chats(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_gateway ON messages(organization_id, gateway_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_org ON leads(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_leads_stage ON leads(stage_id)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_org ON campaigns(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_campaign ON campaign_recipients(campaign_id)`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_recipients_status ON campaign_recipients(status)`,
	}

	for _, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

func SeedAdmin(db *pgxpool.Pool, cfg *config.Config) error {
	ctx := context.Background()

	// Check if admin exists
	var count int
	err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users WHERE username = $1", cfg.AdminUser).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check admin existence: %w", err)
	}

	if count > 0 {
		return nil // Admin already exists
	}

	// Create default organization
	var orgID string
	err = db.QueryRow(ctx, `
		INSERT INTO organizations (name, slug, plan)
		VALUES ('Default Organization', 'default', 'enterprise')
		ON CONFLICT (slug) DO NOTHING
		RETURNING id
	`).Scan(&orgID)
	if err != nil {
		err = db.QueryRow(ctx, "SELECT id FROM organizations WHERE slug = 'default'").Scan(&orgID)
		if err != nil {
			return fmt.Errorf("failed to create/get default organization: %w", err)
		}
	}

	// Hash password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	// Create or update admin user
	_, err = db.Exec(ctx, `
		INSERT INTO users (organization_id, username, email, password_hash, display_name, role)
		VALUES ($1, $2, $3, $4, 'Administrator', $5)
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role
	`, orgID, cfg.AdminUser, cfg.AdminEmail, string(hashedPassword), domain.RoleOwner)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	// Create default pipeline (idempotent)
	var pipelineID string
	err = db.QueryRow(ctx, `
		SELECT id FROM pipelines WHERE organization_id = $1 AND is_default = TRUE LIMIT 1
	`, orgID).Scan(&pipelineID)
	if err != nil {
		err = db.QueryRow(ctx, `
			INSERT INTO pipelines (organization_id, name, is_default)
			VALUES ($1, 'Sales Pipeline', TRUE)
			RETURNING id
		`, orgID).Scan(&pipelineID)
		if err != nil {
			return fmt.Errorf("failed to create default pipeline: %w", err)
		}

		stages := []struct {
			name  string
			color string
		}{
			{"New", "#6366f1"},
			{"Contacted", "#f59e0b"},
			{"Negotiating", "#3b82f6"},
			{"Proposal", "#8b5cf6"},
			{"Won", "#10b981"},
			{"Lost", "#ef4444"},
		}

		for i, stage := range stages {
			_, err = db.Exec(ctx, `
				INSERT INTO pipeline_stages (pipeline_id, name, color, position)
				VALUES ($1, $2, $3, $4)
			`, pipelineID, stage.name, stage.color, i)
			if err != nil {
				return fmt.Errorf("failed to create stage %s: %w", stage.name, err)
			}
		}
	}

	return nil
}
