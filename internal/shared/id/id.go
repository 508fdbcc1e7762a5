// Package id provides prefixed ULID generation for the gateway.
//
// All identifiers handed out by the gateway (sessions, snapshots, client
// connections) are ULIDs with a short type prefix, so they sort by creation
// time and are recognizable in logs. Handles for remote engine objects are
// NOT generated here; those originate from the engine itself.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a gateway session.
type SessionID string

// SnapshotID identifies a saved state snapshot.
type SnapshotID string

// ClientID identifies a realtime client connection.
type ClientID string

func (id SessionID) String() string  { return string(id) }
func (id SnapshotID) String() string { return string(id) }
func (id ClientID) String() string   { return string(id) }

const (
	SessionPrefix  = "sess"
	SnapshotPrefix = "snap"
	ClientPrefix   = "client"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// useful for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new session ID.
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewSnapshotID generates a new snapshot ID.
func NewSnapshotID() SnapshotID {
	return SnapshotID(Default().GenerateWithPrefix(SnapshotPrefix))
}

// NewClientID generates a new client connection ID.
func NewClientID() ClientID {
	return ClientID(Default().GenerateWithPrefix(ClientPrefix))
}
