package store

import "fmt"

// defaultActionTypes is the catalog seeded for every org on first open.
var defaultActionTypes = []ActionType{
	{Name: "visita", Label: "Visita"},
	{Name: "llamada", Label: "Llamada"},
	{Name: "correo", Label: "Correo"},
	{Name: "entrega", Label: "Entrega"},
	{Name: "cobranza", Label: "Cobranza"},
}

// EnsureCatalog seeds the org's default action types. It is transactional
// and idempotent: two concurrent first-opens converge on the same rows
// instead of racing a read-then-write "is it empty?" check.
func (s *Store) EnsureCatalog(orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, at := range defaultActionTypes {
		if _, err := tx.Exec(`
			INSERT INTO catalog_action_types (org_id, name, label)
			VALUES (?, ?, ?)
			ON CONFLICT(org_id, name) DO NOTHING`,
			orgID, at.Name, at.Label); err != nil {
			return fmt.Errorf("seed action type %s: %w", at.Name, err)
		}
	}
	return tx.Commit()
}

// ListActionTypes returns the org's catalog.
func (s *Store) ListActionTypes(orgID string) ([]ActionType, error) {
	rows, err := s.db.Query(`SELECT org_id, name, label FROM catalog_action_types WHERE org_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var types []ActionType
	for rows.Next() {
		var at ActionType
		if err := rows.Scan(&at.OrgID, &at.Name, &at.Label); err != nil {
			return nil, err
		}
		types = append(types, at)
	}
	return types, rows.Err()
}
