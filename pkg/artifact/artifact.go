package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Artifact is an immutable, versioned completion returned by a provider.
type Artifact struct {
	ID        string            `json:"id"`
	Version   int               `json:"version"`
	Content   string            `json:"content"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Hash      string            `json:"hash"`
}

// New creates a first-version artifact with a computed hash.
func New(content, provider, model string) *Artifact {
	a := &Artifact{
		ID:        uuid.NewString(),
		Version:   1,
		Content:   content,
		Provider:  provider,
		Model:     model,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now().UTC(),
	}
	a.Hash = a.computeHash()
	return a
}

// NewVersion derives the next version of the artifact from revised content.
// Provider and model are taken from the revision, since a different model may
// have produced it.
func (a *Artifact) NewVersion(revised *Artifact) *Artifact {
	next := &Artifact{
		ID:        a.ID,
		Version:   a.Version + 1,
		Content:   revised.Content,
		Provider:  revised.Provider,
		Model:     revised.Model,
		Metadata:  copyMetadata(a.Metadata),
		CreatedAt: time.Now().UTC(),
	}
	for k, v := range revised.Metadata {
		next.Metadata[k] = v
	}
	next.Hash = next.computeHash()
	return next
}

// WithMetadata returns a copy of the artifact with an extra metadata entry.
func (a *Artifact) WithMetadata(key, value string) *Artifact {
	c := *a
	c.Metadata = copyMetadata(a.Metadata)
	c.Metadata[key] = value
	return &c
}

func (a *Artifact) computeHash() string {
	h := sha256.New()
	h.Write([]byte(a.Content))
	h.Write([]byte(a.Provider))
	h.Write([]byte(a.Model))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func copyMetadata(m map[string]string) map[string]string {
	newM := make(map[string]string, len(m))
	for k, v := range m {
		newM[k] = v
	}
	return newM
}
