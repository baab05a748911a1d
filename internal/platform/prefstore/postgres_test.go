package prefstore

import (
	"context"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestPostgres_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT value FROM user_preference").
		WithArgs("nurse-1", "Patient").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow(`{"v":1}`))

	s := NewPostgres(mock, "nurse-1")
	v, ok, err := s.Get(context.Background(), "Patient")
	if err != nil || !ok || v != `{"v":1}` {
		t.Errorf("Get = (%q, %v, %v)", v, ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgres_GetAbsent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT value FROM user_preference").
		WithArgs(DefaultOwner, "Slot").
		WillReturnRows(pgxmock.NewRows([]string{"value"}))

	s := NewPostgres(mock, "")
	if _, ok, err := s.Get(context.Background(), "Slot"); ok || err != nil {
		t.Errorf("Get = (ok=%v, err=%v), want absent", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgres_GetError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT value FROM user_preference").WillReturnError(boom)

	s := NewPostgres(mock, "")
	if _, _, err := s.Get(context.Background(), "Slot"); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestPostgres_Set(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO user_preference").
		WithArgs("front-desk", "defaultResourceType", "Appointment").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	s := NewPostgres(mock, "default").ForOwner("front-desk")
	if err := s.Set(context.Background(), "defaultResourceType", "Appointment"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgres_SetError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO user_preference").WillReturnError(errors.New("read-only transaction"))

	s := NewPostgres(mock, "")
	if err := s.Set(context.Background(), "Patient", "x"); err == nil {
		t.Error("expected error")
	}
}
