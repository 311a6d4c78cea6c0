package server

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-events/backend/internal/attendance"
	"github.com/campus-events/backend/internal/auth"
	"github.com/campus-events/backend/internal/certificates"
	"github.com/campus-events/backend/internal/credentials"
	"github.com/campus-events/backend/internal/enrollment"
	"github.com/campus-events/backend/internal/events"
	"github.com/campus-events/backend/internal/store/memory"
)

// Stores bundles the persistence contracts of every component.
type Stores struct {
	Users        auth.UserStore
	Events       events.Store
	Enrollment   enrollment.Store
	Credentials  credentials.Store
	Attendance   attendance.Store
	Certificates certificates.Store
}

// PostgresStores builds the PostgreSQL repositories on one pool.
func PostgresStores(pool *pgxpool.Pool) Stores {
	return Stores{
		Users:        auth.NewRepository(pool),
		Events:       events.NewRepository(pool),
		Enrollment:   enrollment.NewRepository(pool),
		Credentials:  credentials.NewRepository(pool),
		Attendance:   attendance.NewRepository(pool),
		Certificates: certificates.NewRepository(pool),
	}
}

// MemoryStores backs every component with one in-memory store.
func MemoryStores(m *memory.Store) Stores {
	return Stores{
		Users:        m,
		Events:       m,
		Enrollment:   m,
		Credentials:  m,
		Attendance:   m,
		Certificates: m,
	}
}
