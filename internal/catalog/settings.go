package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vdotapes/internal/database"
	"vdotapes/internal/logging"
)

// Well-known setting keys
const (
	SettingLastFolder     = "lastFolder"
	SettingGridColumns    = "gridColumns"
	SettingSortPreference = "sortPreference"
	SettingWindowState    = "windowState"
	SettingTheme          = "theme"
)

func validKey(key string) error {
	if key == "" {
		return database.NewValidationError("key", "must not be empty")
	}
	return nil
}

// GetSetting decodes the stored JSON value of key into dest. It reports
// false when the key is unset.
func (c *Catalog) GetSetting(ctx context.Context, key string, dest any) (found bool, err error) {
	if err := validKey(key); err != nil {
		return false, err
	}

	done := database.ObserveQuery("get_setting")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		if degraded("GetSetting", err) {
			return false, nil
		}
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var raw string
	err = conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("setting %s holds invalid JSON: %w", key, err)
	}
	return true, nil
}

// SetSetting stores value as JSON under key.
func (c *Catalog) SetSetting(ctx context.Context, key string, value any) (err error) {
	if err := validKey(key); err != nil {
		return err
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return database.NewValidationError("value", "not JSON encodable: %v", err)
	}

	done := database.ObserveQuery("set_setting")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(encoded), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save setting %s: %w", key, err)
	}
	logging.Debug("Setting %s updated", key)
	return nil
}

// DeleteSetting removes key. Removing an unset key is not an error.
func (c *Catalog) DeleteSetting(ctx context.Context, key string) (err error) {
	done := database.ObserveQuery("delete_setting")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err = conn.ExecContext(ctx, "DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// ListSettings returns every setting with its raw JSON value.
func (c *Catalog) ListSettings(ctx context.Context) (settings map[string]json.RawMessage, err error) {
	done := database.ObserveQuery("list_settings")
	defer func() { done(err) }()

	conn, err := c.db.Conn()
	if err != nil {
		if degraded("ListSettings", err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := conn.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	settings = map[string]json.RawMessage{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = json.RawMessage(value)
	}
	return settings, rows.Err()
}

// getTyped returns the setting or def when it is unset or unreadable.
func getTyped[T any](ctx context.Context, c *Catalog, key string, def T) T {
	var v T
	found, err := c.GetSetting(ctx, key, &v)
	if err != nil {
		logging.Warn("Falling back to default for setting %s: %v", key, err)
		return def
	}
	if !found {
		return def
	}
	return v
}

// GetString returns a string setting or def.
func (c *Catalog) GetString(ctx context.Context, key, def string) string {
	return getTyped(ctx, c, key, def)
}

// GetInt returns an integer setting or def.
func (c *Catalog) GetInt(ctx context.Context, key string, def int) int {
	return getTyped(ctx, c, key, def)
}

// GetBool returns a boolean setting or def.
func (c *Catalog) GetBool(ctx context.Context, key string, def bool) bool {
	return getTyped(ctx, c, key, def)
}
