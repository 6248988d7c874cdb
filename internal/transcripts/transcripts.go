// Package transcripts persists completed turns as JSON records under the
// engine data directory. The engine only writes through SaveTurn; reads
// serve the transcript RPC surface.
package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fincite/engine/internal/citations"
	"fincite/engine/internal/llm"
	"fincite/engine/internal/turn"
)

const schemaVersion = 1

var ErrNotFound = errors.New("transcript not found")

type Transcript struct {
	SchemaVersion    int                 `json:"schema_version"`
	TurnID           string              `json:"turn_id"`
	Text             string              `json:"text"`
	Citations        []citations.Encoded `json:"citations,omitempty"`
	Routing          llm.RoutingDecision `json:"routing"`
	DroppedCitations int                 `json:"dropped_citations,omitempty"`
	CreatedAt        string              `json:"created_at"`
}

// Summary is the listing view of a stored transcript.
type Summary struct {
	TurnID        string `json:"turn_id"`
	ModelID       string `json:"model_id,omitempty"`
	CitationCount int    `json:"citation_count"`
	CreatedAt     string `json:"created_at"`
}

type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// SaveTurn stores the finalized turn. It satisfies the turn runner's
// persistence collaborator.
func (s *Store) SaveTurn(_ context.Context, turnID string, result turn.Result) error {
	path, err := s.recordPath(turnID)
	if err != nil {
		return err
	}
	record := Transcript{
		SchemaVersion:    schemaVersion,
		TurnID:           turnID,
		Text:             result.Text,
		Citations:        citations.EncodeAll(result.Citations),
		Routing:          result.Decision,
		DroppedCitations: result.DroppedCitations,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	return writeJSON(path, record)
}

func (s *Store) Get(turnID string) (*Transcript, error) {
	path, err := s.recordPath(turnID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var record Transcript
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns stored transcripts, newest first. Unreadable records are
// skipped rather than failing the listing.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, err
	}
	var summaries []Summary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := s.Get(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		summaries = append(summaries, Summary{
			TurnID:        record.TurnID,
			ModelID:       record.Routing.ModelID,
			CitationCount: len(record.Citations),
			CreatedAt:     record.CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt != summaries[j].CreatedAt {
			return summaries[i].CreatedAt > summaries[j].CreatedAt
		}
		return summaries[i].TurnID > summaries[j].TurnID
	})
	return summaries, nil
}

func (s *Store) recordPath(turnID string) (string, error) {
	if turnID == "" || strings.ContainsAny(turnID, "/\\") || strings.Contains(turnID, "..") {
		return "", errors.New("invalid turn id")
	}
	return filepath.Join(s.baseDir, turnID+".json"), nil
}

func writeJSON(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
