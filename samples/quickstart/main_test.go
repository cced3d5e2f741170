package main

import (
	"context"
	"testing"
	"time"
)

func TestRunAgainstMemoryEngine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, "", defaultIndex, "chair"); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunReportsBadElasticURL(t *testing.T) {
	if err := run(context.Background(), "not a url", defaultIndex, "chair"); err == nil {
		t.Fatalf("expected an error for an invalid cluster URL")
	}
}
