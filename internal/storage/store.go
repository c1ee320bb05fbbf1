package storage

import (
	"context"
	"errors"
	"time"

	"github.com/eric-w/dp3t-sdk-go/internal/client"
)

// ErrDescriptorNotFound is returned when no descriptor is stored for the
// requested application id.
var ErrDescriptorNotFound = errors.New("application descriptor not found")

// Handshake is a single recorded proximity event between two devices'
// rotating tokens.
type Handshake struct {
	ID        int64
	Token     []byte
	RSSI      float64
	Timestamp time.Time
}

// Contact is an aggregated record derived from the handshakes observed
// for one token on one calendar day.
type Contact struct {
	Day     string
	Token   []byte
	Windows int
}

// Store is the storage collaborator consumed by the orchestrator.
type Store interface {
	// AddHandshake records one proximity event.
	AddHandshake(ctx context.Context, h Handshake) error

	// HandshakeCount returns the number of recorded handshakes.
	HandshakeCount(ctx context.Context) (int, error)

	// ContactCount returns the number of derived contacts.
	ContactCount(ctx context.Context) (int, error)

	// RegenerateContactsFromHandshakes rebuilds the contacts table from
	// the recorded handshakes. Idempotent.
	RegenerateContactsFromHandshakes(ctx context.Context) error

	// Contacts returns the derived contacts for one calendar day.
	Contacts(ctx context.Context, day string) ([]Contact, error)

	// UpsertDescriptor stores a discovered application descriptor.
	UpsertDescriptor(ctx context.Context, desc client.Descriptor) error

	// ResolveDescriptor looks up the descriptor for appID, returning
	// ErrDescriptorNotFound when absent.
	ResolveDescriptor(ctx context.Context, appID string) (client.Descriptor, error)

	// Clear empties all tables but keeps the database usable.
	Clear(ctx context.Context) error

	// Destroy closes the database and removes its backing file.
	Destroy() error

	// Close closes the database without removing it.
	Close() error
}
