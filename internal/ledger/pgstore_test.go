package ledger

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

func TestPGStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	doc, err := json.Marshal(map[string]Record{
		"img-a": {Fingerprint: "img-a", Status: StatusUploaded, RemoteImageID: "remote-1"},
	})
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}

	mock.ExpectQuery(`SELECT doc FROM upload_ledgers WHERE name = \$1`).
		WithArgs("default").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow(doc))

	records, err := NewPGStore(mock, "default").Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if records["img-a"].RemoteImageID != "remote-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreLoadMissingLedger(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT doc FROM upload_ledgers WHERE name = \$1`).
		WithArgs("fresh").
		WillReturnError(pgx.ErrNoRows)

	records, err := NewPGStore(mock, "fresh").Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty ledger, got %+v", records)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSave(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO upload_ledgers`).
		WithArgs("default", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	records := map[string]Record{
		"img-a": {Fingerprint: "img-a", Status: StatusPending},
	}
	if err := NewPGStore(mock, "default").Save(context.Background(), records); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
