// Package export produces the flat fact file consumed by the recommender.
// The recommender never calls back into the pipeline; this file is the
// entire downstream contract.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var header = []string{
	"booking_id", "user_id", "user_email", "package_id", "package_name",
	"session_date", "created_at", "addons", "addon_qtys", "total_price",
}

// MergedBookings writes one CSV row per booking, with the booking's add-on
// ids and quantities as ";"-joined parallel lists. Returns the number of
// bookings written.
func MergedBookings(ctx context.Context, pool *pgxpool.Pool, outPath string) (int, error) {
	rows, err := pool.Query(ctx, `
		SELECT b.booking_id, b.customer_id, COALESCE(c.email,''),
			b.package_id, COALESCE(p.name,''),
			b.session_date, b.created_at, b.total_price,
			COALESCE(string_agg(ba.addon_id::text, ';' ORDER BY ba.addon_id), ''),
			COALESCE(string_agg(ba.addon_quantity::text, ';' ORDER BY ba.addon_id), '')
		FROM bookings b
		JOIN customers c ON c.customer_id = b.customer_id
		LEFT JOIN packages p ON p.package_id = b.package_id
		LEFT JOIN booking_addons ba ON ba.booking_id = b.booking_id
		GROUP BY b.booking_id, c.email, p.name
		ORDER BY b.booking_id
	`)
	if err != nil {
		return 0, fmt.Errorf("select merged bookings: %w", err)
	}
	defer rows.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	count := 0
	for rows.Next() {
		var (
			bookingID, customerID int64
			email, packageName    string
			packageID             *int64
			sessionDate           *time.Time
			createdAt             time.Time
			totalPrice            float64
			addonIDs, addonQtys   string
		)
		if err := rows.Scan(&bookingID, &customerID, &email, &packageID, &packageName,
			&sessionDate, &createdAt, &totalPrice, &addonIDs, &addonQtys); err != nil {
			return count, fmt.Errorf("scan booking: %w", err)
		}

		// Bookings without a session date fall back to their creation time
		// so the recommender always has a month context.
		effectiveDate := createdAt
		if sessionDate != nil {
			effectiveDate = *sessionDate
		}
		pkgID := ""
		if packageID != nil {
			pkgID = strconv.FormatInt(*packageID, 10)
		}

		record := []string{
			strconv.FormatInt(bookingID, 10),
			strconv.FormatInt(customerID, 10),
			email,
			pkgID,
			packageName,
			effectiveDate.Format(time.RFC3339),
			createdAt.Format(time.RFC3339),
			addonIDs,
			addonQtys,
			strconv.FormatFloat(totalPrice, 'f', -1, 64),
		}
		if err := w.Write(record); err != nil {
			return count, fmt.Errorf("write booking %d: %w", bookingID, err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, err
	}
	w.Flush()
	return count, w.Error()
}
