// Package store loads rule layers and user preferences from Postgres,
// with a TTL cache in front of the per-user preference lookups.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ridgeline-ai/gatehouse/policy"
	"go.uber.org/zap"
)

// RuleStore abstracts the rule-layer query for testability.
type RuleStore interface {
	ListRules(ctx context.Context) ([]ruleRow, error)
}

type ruleRow struct {
	Name         string
	Category     string
	Pattern      string
	Supervision  string
	Risk         sql.NullString
	Priority     int
	Enabled      bool
	Conditions   sql.NullString // JSONB
	Restrictions sql.NullString // JSONB
	SafetyChecks sql.NullString // JSONB
}

// sqlRuleStore is the real implementation over *sql.DB (pgx stdlib driver).
type sqlRuleStore struct {
	db *sql.DB
}

func (s *sqlRuleStore) ListRules(ctx context.Context) ([]ruleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, category, pattern, supervision, risk,
		       priority, enabled, conditions, restrictions, safety_checks
		FROM gate_rules
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ruleRow
	for rows.Next() {
		var r ruleRow
		if err := rows.Scan(
			&r.Name, &r.Category, &r.Pattern, &r.Supervision, &r.Risk,
			&r.Priority, &r.Enabled, &r.Conditions, &r.Restrictions, &r.SafetyChecks,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PostgresRuleSource loads a rule layer from the gate_rules table. Load is
// meant to run once at engine construction; rules are immutable afterward.
type PostgresRuleSource struct {
	store  RuleStore
	logger *zap.Logger
}

// PostgresRuleSourceConfig configures a PostgresRuleSource.
type PostgresRuleSourceConfig struct {
	DB     *sql.DB
	Logger *zap.Logger
}

// NewPostgresRuleSource creates a rule source over the given database.
func NewPostgresRuleSource(cfg PostgresRuleSourceConfig) *PostgresRuleSource {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRuleSource{store: &sqlRuleStore{db: cfg.DB}, logger: logger}
}

// newPostgresRuleSourceWithStore creates a source with a custom store (for testing).
func newPostgresRuleSourceWithStore(store RuleStore, logger *zap.Logger) *PostgresRuleSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRuleSource{store: store, logger: logger}
}

// Load fetches and compiles the rule layer. Malformed rows are skipped
// with a warning, never fatal to the load.
func (s *PostgresRuleSource) Load(ctx context.Context) ([]policy.Rule, error) {
	rows, err := s.store.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	rules := make([]policy.Rule, 0, len(rows))
	for _, row := range rows {
		cfg, err := rowToConfig(row)
		if err == nil {
			var rule policy.Rule
			rule, err = policy.NewRule(row.Name, cfg)
			if err == nil {
				rules = append(rules, rule)
				continue
			}
		}
		s.logger.Warn("skipping malformed rule row",
			zap.String("category", row.Category),
			zap.String("rule", row.Name),
			zap.Error(err),
		)
	}
	return rules, nil
}

func rowToConfig(row ruleRow) (policy.RuleConfig, error) {
	enabled := row.Enabled
	cfg := policy.RuleConfig{
		Pattern:     row.Pattern,
		Supervision: row.Supervision,
		Risk:        row.Risk.String,
		Priority:    row.Priority,
		Enabled:     &enabled,
	}
	if row.Conditions.Valid && row.Conditions.String != "" {
		if err := json.Unmarshal([]byte(row.Conditions.String), &cfg.Conditions); err != nil {
			return cfg, fmt.Errorf("conditions: %w", err)
		}
	}
	if row.Restrictions.Valid && row.Restrictions.String != "" {
		if err := json.Unmarshal([]byte(row.Restrictions.String), &cfg.Restrictions); err != nil {
			return cfg, fmt.Errorf("restrictions: %w", err)
		}
	}
	if row.SafetyChecks.Valid && row.SafetyChecks.String != "" {
		var checks []json.RawMessage
		if err := json.Unmarshal([]byte(row.SafetyChecks.String), &checks); err != nil {
			return cfg, fmt.Errorf("safety_checks: %w", err)
		}
		for _, raw := range checks {
			var cc policy.CheckConfig
			// A bare string is shorthand for {name: ...}.
			var name string
			if err := json.Unmarshal(raw, &name); err == nil {
				cc.Name = name
			} else if err := json.Unmarshal(raw, &cc); err != nil {
				return cfg, fmt.Errorf("safety_checks: %w", err)
			}
			cfg.SafetyChecks = append(cfg.SafetyChecks, cc)
		}
	}
	return cfg, nil
}

// PreferenceStore abstracts the preference query for testability.
type PreferenceStore interface {
	LookupPreferences(ctx context.Context, userID string) (string, error)
}

// sqlPreferenceStore is the real implementation over *sql.DB.
type sqlPreferenceStore struct {
	db *sql.DB
}

func (s *sqlPreferenceStore) LookupPreferences(ctx context.Context, userID string) (string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT preferences
		FROM gate_preferences
		WHERE user_id = $1
	`, userID).Scan(&doc)
	if err != nil {
		return "", err
	}
	return doc, nil
}

// PostgresPreferenceSource fetches per-user preference documents from the
// gate_preferences table behind a TTL stale-while-revalidate cache.
type PostgresPreferenceSource struct {
	store  PreferenceStore
	cache  *prefCache
	logger *zap.Logger
}

// PostgresPreferenceSourceConfig configures a PostgresPreferenceSource.
type PostgresPreferenceSourceConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresPreferenceSource creates a preference source.
func NewPostgresPreferenceSource(cfg PostgresPreferenceSourceConfig) *PostgresPreferenceSource {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresPreferenceSource{
		store:  &sqlPreferenceStore{db: cfg.DB},
		cache:  newPrefCache(ttl),
		logger: logger,
	}
}

// newPostgresPreferenceSourceWithStore creates a source with a custom store (for testing).
func newPostgresPreferenceSourceWithStore(store PreferenceStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresPreferenceSource {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresPreferenceSource{
		store:  store,
		cache:  newPrefCache(cacheTTL),
		logger: logger,
	}
}

// Get returns the user's preferences, serving stale cache entries while a
// background refresh runs. A missing row is a nil result, not an error.
func (s *PostgresPreferenceSource) Get(ctx context.Context, userID string) (*policy.Preferences, error) {
	cached := s.cache.Get(userID)
	if cached.Hit {
		if cached.NeedsRefresh {
			go s.refreshInBackground(userID)
		}
		return cached.Prefs, nil
	}

	prefs, err := s.fetch(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			s.cache.Set(userID, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("get preferences: %w", err)
	}

	s.cache.Set(userID, prefs)
	return prefs, nil
}

func (s *PostgresPreferenceSource) fetch(ctx context.Context, userID string) (*policy.Preferences, error) {
	doc, err := s.store.LookupPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	return policy.ParsePreferences([]byte(doc), s.logger)
}

func (s *PostgresPreferenceSource) refreshInBackground(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prefs, err := s.fetch(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			s.cache.Set(userID, nil)
			return
		}
		// Keep serving the stale entry; next stale read retries.
		s.logger.Warn("preference refresh failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		s.cache.Delete(userID)
		return
	}
	s.cache.Set(userID, prefs)
}
