package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a compilation does not exist.
var ErrNotFound = errors.New("not found")

// CompilationStatus is the outcome of a compilation
type CompilationStatus string

const (
	CompilationSucceeded CompilationStatus = "succeeded"
	CompilationFailed    CompilationStatus = "failed"
	CompilationRejected  CompilationStatus = "rejected" // blocked by an enforced policy
)

// Compilation is one run of the compiler over a document
type Compilation struct {
	ID           string            `json:"id"`
	Document     string            `json:"document"`
	DocumentHash string            `json:"document_hash"` // SHA256 of the input bytes
	Status       CompilationStatus `json:"status"`
	Format       string            `json:"format"`
	Components   int               `json:"components"`
	Steps        int               `json:"steps"`
	Records      int               `json:"records"`
	Skipped      int               `json:"skipped"`
	Warnings     []string          `json:"warnings,omitempty"`
	Output       *string           `json:"output,omitempty"`
	Error        *string           `json:"error,omitempty"`
	Duration     time.Duration     `json:"duration"`
	StartedAt    time.Time         `json:"started_at"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewCompilation starts a compilation entry for document with a fresh id.
func NewCompilation(document string, input []byte) *Compilation {
	now := time.Now().UTC()
	return &Compilation{
		ID:           uuid.NewString(),
		Document:     document,
		DocumentHash: HashDocument(input),
		StartedAt:    now,
		CreatedAt:    now,
	}
}

// HashDocument returns the hex SHA256 of a document's bytes.
func HashDocument(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SkippedStep is a step that failed validation during a compilation
type SkippedStep struct {
	ID            int64  `json:"id"`
	CompilationID string `json:"compilation_id"`
	Component     string `json:"component"`
	StateID       string `json:"stateid"`
	Module        string `json:"module"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

// PolicyViolation is a policy finding recorded for a compilation
type PolicyViolation struct {
	ID            int64  `json:"id"`
	CompilationID string `json:"compilation_id"`
	Policy        string `json:"policy"`
	Tag           string `json:"tag"`
	Severity      string `json:"severity"`
	Message       string `json:"message"`
}

// ListOptions filters ListCompilations
type ListOptions struct {
	Document string
	Status   CompilationStatus
	Limit    int
	Offset   int
}

// Store defines the interface for the compilation history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Compilation operations
	RecordCompilation(ctx context.Context, c *Compilation, skipped []SkippedStep, violations []PolicyViolation) error
	GetCompilation(ctx context.Context, id string) (*Compilation, error)
	LatestCompilation(ctx context.Context, document string) (*Compilation, error)
	ListCompilations(ctx context.Context, opts ListOptions) ([]*Compilation, error)
	DeleteCompilation(ctx context.Context, id string) error
	PruneCompilations(ctx context.Context, before time.Time) (int64, error)

	// Details
	ListSkippedSteps(ctx context.Context, compilationID string) ([]*SkippedStep, error)
	ListPolicyViolations(ctx context.Context, compilationID string) ([]*PolicyViolation, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
