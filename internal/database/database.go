package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"card-reward-advisor/internal/models"
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			card_id TEXT PRIMARY KEY,
			bank TEXT NOT NULL,
			network TEXT NOT NULL,
			reward_rate REAL NOT NULL,
			monthly_reward_cap REAL NOT NULL,
			category_multipliers TEXT NOT NULL DEFAULT '{}',
			channel_multipliers TEXT NOT NULL DEFAULT '{}',
			merchant_multipliers TEXT NOT NULL DEFAULT '{}',
			annual_fee REAL NOT NULL DEFAULT 0,
			milestone_spend REAL NOT NULL DEFAULT 0,
			milestone_bonus REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS offers (
			offer_id TEXT PRIMARY KEY,
			card_id TEXT NOT NULL,
			merchant TEXT NOT NULL,
			channel TEXT NOT NULL,
			discount_type TEXT NOT NULL,
			discount_value REAL NOT NULL,
			min_spend REAL NOT NULL,
			max_discount REAL NOT NULL,
			source TEXT NOT NULL,
			active INTEGER NOT NULL,
			last_refreshed_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			card_id TEXT NOT NULL,
			merchant TEXT NOT NULL,
			amount REAL NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			spent_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			refreshed_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			status TEXT NOT NULL,
			detail TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_card_id ON offers(card_id)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_merchant ON offers(merchant)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_source ON offers(source)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_card_id ON expenses(card_id)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_spent_at ON expenses(spent_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// UpsertCards creates or updates cards in a single transaction.
func (db *DB) UpsertCards(cards []models.Card) error {
	if len(cards) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO cards (
		card_id, bank, network, reward_rate, monthly_reward_cap,
		category_multipliers, channel_multipliers, merchant_multipliers,
		annual_fee, milestone_spend, milestone_bonus
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(card_id) DO UPDATE SET
		bank = excluded.bank,
		network = excluded.network,
		reward_rate = excluded.reward_rate,
		monthly_reward_cap = excluded.monthly_reward_cap,
		category_multipliers = excluded.category_multipliers,
		channel_multipliers = excluded.channel_multipliers,
		merchant_multipliers = excluded.merchant_multipliers,
		annual_fee = excluded.annual_fee,
		milestone_spend = excluded.milestone_spend,
		milestone_bonus = excluded.milestone_bonus`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, card := range cards {
		_, err := stmt.Exec(
			card.ID,
			card.Bank,
			card.Network,
			card.RewardRate,
			card.MonthlyRewardCap,
			serializeMultipliers(card.CategoryMultipliers),
			serializeMultipliers(card.ChannelMultipliers),
			serializeMultipliers(card.MerchantMultipliers),
			card.AnnualFee,
			card.MilestoneSpend,
			card.MilestoneBonus,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert card %s: %w", card.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Cards returns all cards.
func (db *DB) Cards() ([]models.Card, error) {
	query := `SELECT card_id, bank, network, reward_rate, monthly_reward_cap,
		category_multipliers, channel_multipliers, merchant_multipliers,
		annual_fee, milestone_spend, milestone_bonus
		FROM cards`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var card models.Card
		var categoryJSON, channelJSON, merchantJSON string

		err := rows.Scan(
			&card.ID,
			&card.Bank,
			&card.Network,
			&card.RewardRate,
			&card.MonthlyRewardCap,
			&categoryJSON,
			&channelJSON,
			&merchantJSON,
			&card.AnnualFee,
			&card.MilestoneSpend,
			&card.MilestoneBonus,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}

		card.CategoryMultipliers = deserializeMultipliers(categoryJSON)
		card.ChannelMultipliers = deserializeMultipliers(channelJSON)
		card.MerchantMultipliers = deserializeMultipliers(merchantJSON)

		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}

// DeleteCard removes a card. Returns true if a row was deleted.
func (db *DB) DeleteCard(cardID string) (bool, error) {
	result, err := db.conn.Exec(`DELETE FROM cards WHERE card_id = ?`, cardID)
	if err != nil {
		return false, fmt.Errorf("failed to delete card: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// HasCards reports whether any cards exist.
func (db *DB) HasCards() (bool, error) {
	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM cards`).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count cards: %w", err)
	}
	return count > 0, nil
}

// ReplaceOffers deactivates all offers from the given source and upserts the
// replacement set in a single transaction, stamping each row's refresh time.
func (db *DB) ReplaceOffers(offers []models.Offer, source string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE offers SET active = 0 WHERE source = ?`, source); err != nil {
		return fmt.Errorf("failed to deactivate offers for source %s: %w", source, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO offers (
		offer_id, card_id, merchant, channel, discount_type, discount_value,
		min_spend, max_discount, source, active, last_refreshed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(offer_id) DO UPDATE SET
		card_id = excluded.card_id,
		merchant = excluded.merchant,
		channel = excluded.channel,
		discount_type = excluded.discount_type,
		discount_value = excluded.discount_value,
		min_spend = excluded.min_spend,
		max_discount = excluded.max_discount,
		source = excluded.source,
		active = excluded.active,
		last_refreshed_at = excluded.last_refreshed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, offer := range offers {
		_, err := stmt.Exec(
			offer.ID,
			offer.CardID,
			offer.Merchant,
			offer.Channel,
			offer.DiscountType,
			offer.DiscountValue,
			offer.MinSpend,
			offer.MaxDiscount,
			offer.Source,
			offer.Active,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert offer %s: %w", offer.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ActiveOffers returns all active offers, optionally filtered by merchant
// (case-insensitive). Pass an empty merchant for no filter.
func (db *DB) ActiveOffers(merchant string) ([]models.Offer, error) {
	query := `SELECT offer_id, card_id, merchant, channel, discount_type,
		discount_value, min_spend, max_discount, source, active
		FROM offers WHERE active = 1`
	args := []interface{}{}

	if merchant != "" {
		query += ` AND lower(merchant) = lower(?)`
		args = append(args, merchant)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active offers: %w", err)
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		var offer models.Offer
		err := rows.Scan(
			&offer.ID,
			&offer.CardID,
			&offer.Merchant,
			&offer.Channel,
			&offer.DiscountType,
			&offer.DiscountValue,
			&offer.MinSpend,
			&offer.MaxDiscount,
			&offer.Source,
			&offer.Active,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer: %w", err)
		}
		offers = append(offers, offer)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating offers: %w", err)
	}

	return offers, nil
}

// InsertExpense records a purchase against a card.
func (db *DB) InsertExpense(expense models.Expense) error {
	spentAt := expense.SpentAt
	if spentAt.IsZero() {
		spentAt = time.Now().UTC()
	}

	_, err := db.conn.Exec(
		`INSERT INTO expenses (card_id, merchant, amount, category, spent_at) VALUES (?, ?, ?, ?, ?)`,
		expense.CardID,
		expense.Merchant,
		expense.Amount,
		expense.Category,
		spentAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert expense: %w", err)
	}

	return nil
}

// Expenses returns the most recent expenses, newest first.
func (db *DB) Expenses(limit int) ([]models.Expense, error) {
	rows, err := db.conn.Query(
		`SELECT id, card_id, merchant, amount, category, spent_at
		FROM expenses ORDER BY spent_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []models.Expense
	for rows.Next() {
		var expense models.Expense
		var spentAtStr string
		err := rows.Scan(
			&expense.ID,
			&expense.CardID,
			&expense.Merchant,
			&expense.Amount,
			&expense.Category,
			&spentAtStr,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}

		expense.SpentAt, err = time.Parse(time.RFC3339, spentAtStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse spent_at: %w", err)
		}

		expenses = append(expenses, expense)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}

	return expenses, nil
}

// MonthlySpendByCard sums this calendar month's expenses per card.
func (db *DB) MonthlySpendByCard() (map[string]float64, error) {
	rows, err := db.conn.Query(
		`SELECT card_id, COALESCE(SUM(amount), 0.0)
		FROM expenses
		WHERE strftime('%Y-%m', spent_at) = strftime('%Y-%m', 'now')
		GROUP BY card_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly spend: %w", err)
	}
	defer rows.Close()

	spend := make(map[string]float64)
	for rows.Next() {
		var cardID string
		var total float64
		if err := rows.Scan(&cardID, &total); err != nil {
			return nil, fmt.Errorf("failed to scan monthly spend: %w", err)
		}
		spend[cardID] = total
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating monthly spend: %w", err)
	}

	return spend, nil
}

// LogRefresh appends a row to the refresh audit log.
func (db *DB) LogRefresh(source, status, detail string) error {
	_, err := db.conn.Exec(
		`INSERT INTO refresh_log (source, status, detail, refreshed_at) VALUES (?, ?, ?, ?)`,
		source, status, detail, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to log refresh: %w", err)
	}
	return nil
}

// SetState stores an application state value by key.
func (db *DB) SetState(key, value string) error {
	_, err := db.conn.Exec(
		`INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to set state: %w", err)
	}
	return nil
}

// GetState reads an application state value, returning the default when the
// key is absent.
func (db *DB) GetState(key, defaultValue string) (string, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return defaultValue, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state: %w", err)
	}
	return value, nil
}

// serializeMultipliers converts a multiplier map to a JSON string.
func serializeMultipliers(m map[string]float64) string {
	if len(m) == 0 {
		return "{}"
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// deserializeMultipliers converts a serialized multiplier map back. Malformed
// payloads default to empty rather than erroring.
func deserializeMultipliers(serialized string) map[string]float64 {
	if serialized == "" || serialized == "{}" {
		return map[string]float64{}
	}
	var result map[string]float64
	if err := json.Unmarshal([]byte(serialized), &result); err != nil {
		return map[string]float64{}
	}
	return result
}
