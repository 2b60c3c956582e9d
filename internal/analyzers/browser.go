package analyzers

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kenchrcum/forensic-carver/internal/model"
)

// extractBrowserHistory opens path read-only as a SQLite database and,
// if it recognizes Chrome's or Firefox's history schema, returns the
// rows as DatabaseRecords. An unrecognized or unopenable file yields an
// empty slice, not an error, since "this isn't a browser database" is
// the overwhelmingly common case for an arbitrary carved sqlite file.
func extractBrowserHistory(path, runID, sourceRelative string) ([]model.DatabaseRecord, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("analyzers: open %s: %w", path, err)
	}
	defer db.Close()

	var out []model.DatabaseRecord

	hasURLs, _ := hasTable(db, "urls")
	if hasURLs {
		hasVisits, _ := hasTable(db, "visits")
		if hasVisits {
			recs, err := extractChromeVisits(db, runID, sourceRelative)
			if err == nil {
				out = append(out, recs...)
			}
		} else {
			recs, err := extractChromeHistory(db, runID, sourceRelative)
			if err == nil {
				out = append(out, recs...)
			}
		}
	}

	hasPlaces, _ := hasTable(db, "moz_places")
	if hasPlaces {
		hasHistoryVisits, _ := hasTable(db, "moz_historyvisits")
		if hasHistoryVisits {
			recs, err := extractFirefoxVisits(db, runID, sourceRelative)
			if err == nil {
				out = append(out, recs...)
			}
		} else {
			recs, err := extractFirefoxHistory(db, runID, sourceRelative)
			if err == nil {
				out = append(out, recs...)
			}
		}
	}

	return out, nil
}

func hasTable(db *sql.DB, name string) (bool, error) {
	row := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", name)
	var got string
	if err := row.Scan(&got); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func extractChromeHistory(db *sql.DB, runID, sourceRelative string) ([]model.DatabaseRecord, error) {
	rows, err := db.Query("SELECT url, title, last_visit_time FROM urls")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DatabaseRecord
	for rows.Next() {
		var url string
		var title sql.NullString
		var lastVisit sql.NullInt64
		if err := rows.Scan(&url, &title, &lastVisit); err != nil {
			continue
		}
		var titlePtr *string
		if title.Valid {
			titlePtr = &title.String
		}
		var visitTime *time.Time
		if lastVisit.Valid {
			if t := webkitTimestampToTime(lastVisit.Int64); t != nil {
				visitTime = t
			}
		}
		out = append(out, browserHistoryRecord(runID, "chrome", "Default", url, titlePtr, visitTime, nil, sourceRelative))
	}
	return out, rows.Err()
}

func extractChromeVisits(db *sql.DB, runID, sourceRelative string) ([]model.DatabaseRecord, error) {
	rows, err := db.Query(`SELECT urls.url, urls.title, visits.visit_time, visits.transition
		FROM visits JOIN urls ON visits.url = urls.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DatabaseRecord
	for rows.Next() {
		var url string
		var title sql.NullString
		var visitTime sql.NullInt64
		var transition sql.NullInt64
		if err := rows.Scan(&url, &title, &visitTime, &transition); err != nil {
			continue
		}
		var titlePtr *string
		if title.Valid {
			titlePtr = &title.String
		}
		var t *time.Time
		if visitTime.Valid {
			t = webkitTimestampToTime(visitTime.Int64)
		}
		var sourcePtr *string
		if transition.Valid {
			s := chromeTransitionLabel(transition.Int64)
			sourcePtr = &s
		}
		out = append(out, browserHistoryRecord(runID, "chrome", "Default", url, titlePtr, t, sourcePtr, sourceRelative))
	}
	return out, rows.Err()
}

func extractFirefoxHistory(db *sql.DB, runID, sourceRelative string) ([]model.DatabaseRecord, error) {
	rows, err := db.Query("SELECT url, title, last_visit_date FROM moz_places")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DatabaseRecord
	for rows.Next() {
		var url string
		var title sql.NullString
		var lastVisit sql.NullInt64
		if err := rows.Scan(&url, &title, &lastVisit); err != nil {
			continue
		}
		var titlePtr *string
		if title.Valid {
			titlePtr = &title.String
		}
		var t *time.Time
		if lastVisit.Valid {
			t = unixMicroToTime(lastVisit.Int64)
		}
		out = append(out, browserHistoryRecord(runID, "firefox", "Default", url, titlePtr, t, nil, sourceRelative))
	}
	return out, rows.Err()
}

func extractFirefoxVisits(db *sql.DB, runID, sourceRelative string) ([]model.DatabaseRecord, error) {
	rows, err := db.Query(`SELECT moz_places.url, moz_places.title, moz_historyvisits.visit_date, moz_historyvisits.visit_type
		FROM moz_historyvisits JOIN moz_places ON moz_historyvisits.place_id = moz_places.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DatabaseRecord
	for rows.Next() {
		var url string
		var title sql.NullString
		var visitDate sql.NullInt64
		var visitType sql.NullInt64
		if err := rows.Scan(&url, &title, &visitDate, &visitType); err != nil {
			continue
		}
		var titlePtr *string
		if title.Valid {
			titlePtr = &title.String
		}
		var t *time.Time
		if visitDate.Valid {
			t = unixMicroToTime(visitDate.Int64)
		}
		var sourcePtr *string
		if visitType.Valid {
			s := firefoxVisitLabel(visitType.Int64)
			sourcePtr = &s
		}
		out = append(out, browserHistoryRecord(runID, "firefox", "Default", url, titlePtr, t, sourcePtr, sourceRelative))
	}
	return out, rows.Err()
}

func chromeTransitionLabel(transition int64) string {
	switch transition & 0xFF {
	case 0:
		return "link"
	case 1:
		return "typed"
	case 2:
		return "auto_bookmark"
	case 3:
		return "auto_subframe"
	case 4:
		return "manual_subframe"
	case 5:
		return "generated"
	case 6:
		return "auto_toplevel"
	case 7:
		return "form_submit"
	case 8:
		return "reload"
	case 9:
		return "keyword"
	case 10:
		return "keyword_generated"
	default:
		return "other"
	}
}

func firefoxVisitLabel(visitType int64) string {
	switch visitType {
	case 1:
		return "link"
	case 2:
		return "typed"
	case 3:
		return "bookmark"
	case 4:
		return "embed"
	case 5:
		return "redirect_permanent"
	case 6:
		return "redirect_temporary"
	case 7:
		return "download"
	case 8:
		return "framed_link"
	default:
		return "other"
	}
}

// webkitTimestampToTime converts a Chrome/WebKit microsecond timestamp
// (epoch 1601-01-01) to a UTC time.Time.
func webkitTimestampToTime(microseconds int64) *time.Time {
	if microseconds <= 0 {
		return nil
	}
	const unixOffsetSeconds = 11_644_473_600
	secs := microseconds/1_000_000 - unixOffsetSeconds
	if secs < 0 {
		return nil
	}
	nsecs := (microseconds % 1_000_000) * 1000
	if nsecs < 0 {
		nsecs = -nsecs
	}
	t := time.Unix(secs, nsecs).UTC()
	return &t
}

// unixMicroToTime converts a Firefox microsecond-since-epoch timestamp.
func unixMicroToTime(microseconds int64) *time.Time {
	if microseconds <= 0 {
		return nil
	}
	secs := microseconds / 1_000_000
	nsecs := (microseconds % 1_000_000) * 1000
	if nsecs < 0 {
		nsecs = -nsecs
	}
	t := time.Unix(secs, nsecs).UTC()
	return &t
}
