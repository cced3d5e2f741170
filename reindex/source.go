package reindex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// SliceSource emits a fixed list of documents.
type SliceSource []map[string]any

func (s SliceSource) Stream(ctx context.Context, emit func(map[string]any) error) error {
	for _, doc := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(doc); err != nil {
			return err
		}
	}
	return nil
}

// JSONLinesSource reads one JSON object per line. Blank lines are skipped.
type JSONLinesSource struct {
	Reader io.Reader
}

func (s JSONLinesSource) Stream(ctx context.Context, emit func(map[string]any) error) error {
	scanner := bufio.NewScanner(s.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("reindex: line %d: %w", line, err)
		}
		if err := emit(doc); err != nil {
			return err
		}
	}
	return scanner.Err()
}
