package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invoice-hand/models"
)

func newTestStore(t *testing.T) (*InvoiceStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return NewInvoiceStore(db, zap.NewNop()), mock
}

func invoiceRows(ids ...uint) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "invoice_number", "invoice_date", "customer_name", "vendor_name", "total_amount"})
	for _, id := range ids {
		rows.AddRow(id, "INV-001", "2024-01-13", "ACME GmbH", "Supplies Inc", "119.00")
	}
	return rows
}

func itemRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "invoice_id", "item_description", "quantity", "unit_price", "total_amount"})
}

func TestGetByIDNotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT .* FROM "invoices"`).
		WillReturnRows(invoiceRows())

	_, err := s.GetByID(context.Background(), 1)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByNumberPreloadsItems(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT .* FROM "invoices" WHERE invoice_number = \$1`).
		WillReturnRows(invoiceRows(1))
	mock.ExpectQuery(`SELECT .* FROM "items"`).
		WillReturnRows(itemRows().AddRow(5, 1, "Widget", "2", "10.00", "20.00"))

	inv, err := s.GetByNumber(context.Background(), "INV-001")
	require.NoError(t, err)
	require.Equal(t, uint(1), inv.ID)
	require.Equal(t, "Supplies Inc", inv.VendorName)
	require.Len(t, inv.Items, 1)
	require.Equal(t, "Widget", inv.Items[0].ItemDescription)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateInsertsInvoice(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	inv := &models.Invoice{InvoiceNumber: "INV-001", TotalAmount: "119.00"}
	require.NoError(t, s.Create(context.Background(), inv))
	require.Equal(t, uint(1), inv.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRollsBackOnDuplicate(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "invoices"`).
		WillReturnError(gorm.ErrDuplicatedKey)
	mock.ExpectRollback()

	err := s.Create(context.Background(), &models.Invoice{InvoiceNumber: "INV-001"})
	require.ErrorIs(t, err, gorm.ErrDuplicatedKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWithSearch(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "invoices" WHERE invoice_number ILIKE .* OR vendor_name ILIKE .* OR customer_name ILIKE`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT .* FROM "invoices" WHERE invoice_number ILIKE .* ORDER BY id desc`).
		WillReturnRows(invoiceRows(2, 1))
	mock.ExpectQuery(`SELECT .* FROM "items"`).
		WillReturnRows(itemRows())

	invoices, total, err := s.List(context.Background(), ListParams{
		Page: 1, Limit: 10, SortBy: "id", SortOrder: "desc", Search: "ACME",
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, invoices, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListIgnoresInvalidDateFilter(t *testing.T) {
	s, mock := newTestStore(t)

	// kein invoice_date-Filter im SQL erwartet
	mock.ExpectQuery(`SELECT count\(\*\) FROM "invoices"$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT .* FROM "invoices" ORDER BY id desc`).
		WillReturnRows(invoiceRows())

	_, total, err := s.List(context.Background(), ListParams{
		Page: 1, Limit: 10, SortOrder: "desc", DateFrom: "not-a-date",
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnknownSortColumnFallsBackToID(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "invoices"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`ORDER BY id desc`).
		WillReturnRows(invoiceRows())

	_, _, err := s.List(context.Background(), ListParams{
		Page: 1, Limit: 10, SortBy: "drop table", SortOrder: "desc",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSkipsUnknownItem(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "invoices"`).
		WillReturnRows(invoiceRows(1))
	mock.ExpectQuery(`SELECT .* FROM "items"`).
		WillReturnRows(itemRows().AddRow(5, 1, "Widget", "2", "10.00", "20.00"))
	mock.ExpectExec(`UPDATE "invoices" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Neuladen nach dem Commit
	mock.ExpectQuery(`SELECT .* FROM "invoices"`).
		WillReturnRows(invoiceRows(1))
	mock.ExpectQuery(`SELECT .* FROM "items"`).
		WillReturnRows(itemRows().AddRow(5, 1, "Widget", "2", "10.00", "20.00"))

	vendor := "New Vendor"
	unknownID := uint(99)
	desc := "ignored"
	inv, err := s.Update(context.Background(), 1, models.InvoiceUpdate{
		VendorName: &vendor,
		Items:      []models.ItemUpdate{{ID: &unknownID, ItemDescription: &desc}},
	})
	require.NoError(t, err)
	require.Equal(t, uint(1), inv.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCreatesItemWithoutID(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "invoices"`).
		WillReturnRows(invoiceRows(1))
	mock.ExpectQuery(`SELECT .* FROM "items"`).
		WillReturnRows(itemRows())
	mock.ExpectQuery(`INSERT INTO "items"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(6))
	mock.ExpectCommit()

	mock.ExpectQuery(`SELECT .* FROM "invoices"`).
		WillReturnRows(invoiceRows(1))
	mock.ExpectQuery(`SELECT .* FROM "items"`).
		WillReturnRows(itemRows().AddRow(6, 1, "New Item", "1", "5.00", "5.00"))

	desc := "New Item"
	qty := "1"
	inv, err := s.Update(context.Background(), 1, models.InvoiceUpdate{
		Items: []models.ItemUpdate{{ItemDescription: &desc, Quantity: &qty}},
	})
	require.NoError(t, err)
	require.Len(t, inv.Items, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM "invoices"`).
		WillReturnRows(invoiceRows())
	mock.ExpectRollback()

	_, err := s.Update(context.Background(), 42, models.InvoiceUpdate{})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateDate(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "invoices" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.UpdateDate(context.Background(), 1, "2024-01-13"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetArchiveLink(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "invoices" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.SetArchiveLink(context.Background(), 1, "https://archive/invoices/abc.jpg"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindNonCanonicalDates(t *testing.T) {
	s, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"id", "invoice_date"}).
		AddRow(1, "13/01/2024").
		AddRow(2, "March 3rd")
	mock.ExpectQuery(`SELECT .* FROM "invoices" WHERE invoice_date <> ''`).
		WillReturnRows(rows)

	invoices, err := s.FindNonCanonicalDates(context.Background())
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	require.Equal(t, "13/01/2024", invoices[0].InvoiceDate)
	require.NoError(t, mock.ExpectationsWereMet())
}
