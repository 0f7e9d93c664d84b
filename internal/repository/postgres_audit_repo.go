package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresAuditRepo はPostgreSQLを使用した貸出状態監査リポジトリ。
// 読み取り専用で、書籍や貸出履歴を変更しない。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// FindAvailabilityMismatches はavailability_statusと貸出中履歴の有無が食い違う書籍を返す。
func (r *PostgresAuditRepo) FindAvailabilityMismatches(ctx context.Context) ([]AvailabilityMismatch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.availability_status, COUNT(r.id) AS open_records
		 FROM books b
		 LEFT JOIN borrow_records r ON r.book_id = b.id AND r.return_date IS NULL
		 GROUP BY b.id, b.availability_status
		 HAVING (b.availability_status AND COUNT(r.id) > 0)
		     OR (NOT b.availability_status AND COUNT(r.id) = 0)
		 ORDER BY b.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query availability mismatches: %w", err)
	}
	defer rows.Close()

	var mismatches []AvailabilityMismatch
	for rows.Next() {
		var m AvailabilityMismatch
		if err := rows.Scan(&m.BookID, &m.AvailabilityStatus, &m.OpenRecords); err != nil {
			return nil, fmt.Errorf("failed to scan availability mismatch: %w", err)
		}
		mismatches = append(mismatches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate availability mismatches: %w", err)
	}
	return mismatches, nil
}

// FindDuplicateOpenRecords は貸出中履歴が2件以上ある書籍のIDと件数を返す。
func (r *PostgresAuditRepo) FindDuplicateOpenRecords(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT book_id, COUNT(*) FROM borrow_records
		 WHERE return_date IS NULL
		 GROUP BY book_id
		 HAVING COUNT(*) > 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate open records: %w", err)
	}
	defer rows.Close()

	duplicates := make(map[string]int)
	for rows.Next() {
		var bookID string
		var count int
		if err := rows.Scan(&bookID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate open record: %w", err)
		}
		duplicates[bookID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate duplicate open records: %w", err)
	}
	return duplicates, nil
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)
