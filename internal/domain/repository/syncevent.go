package repository

import (
	"context"
	"time"
)

// SyncEventKind clasifica los eventos del ciclo de vida de una integración.
type SyncEventKind string

const (
	SyncEventConnected    SyncEventKind = "connected"
	SyncEventReconnected  SyncEventKind = "reconnected"
	SyncEventTokenRefresh SyncEventKind = "token_refresh"
	SyncEventRevoked      SyncEventKind = "revoked"
	SyncEventDisconnected SyncEventKind = "disconnected"
)

// SyncEvent es una entrada del log de sincronización por integración.
// Es advisory: fallar al escribirlo nunca falla la operación principal.
type SyncEvent struct {
	ID            int64
	IntegrationID string
	TenantID      string
	Kind          SyncEventKind
	Detail        string
	CreatedAt     time.Time
}

// SyncEventRepository registra eventos del ciclo de vida.
type SyncEventRepository interface {
	Append(ctx context.Context, ev SyncEvent) error

	// ListByIntegration retorna los últimos eventos, más recientes primero.
	ListByIntegration(ctx context.Context, integrationID string, limit int) ([]SyncEvent, error)
}
