//go:build integration

package elastic

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/internal/testenv"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	indexSeq       atomic.Uint64
	integrationURL string
)

func TestMain(m *testing.M) {
	testenv.Main(m, testenv.Service{
		Name:         "elasticsearch",
		EnvVar:       "ESQUERY_TEST_URL",
		StartTimeout: 4 * time.Minute,
		Start:        startElasticContainer,
	}, &integrationURL)
}

func startElasticContainer(ctx context.Context) (testcontainers.Container, string, error) {
	container, host, port, err := testenv.Started(ctx, testcontainers.ContainerRequest{
		Image:        "docker.elastic.co/elasticsearch/elasticsearch:6.8.23",
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type": "single-node",
			"ES_JAVA_OPTS":   "-Xms512m -Xmx512m",
		},
		WaitingFor: wait.ForHTTP("/_cluster/health?wait_for_status=yellow").
			WithPort("9200/tcp").
			WithStartupTimeout(3 * time.Minute),
	}, "9200/tcp")
	if err != nil {
		return nil, "", err
	}
	return container, "http://" + net.JoinHostPort(host, port), nil
}

func newIntegrationTable(t *testing.T) (*Client, *esquery.Table) {
	t.Helper()

	client, err := NewClient(Options{
		Hosts:           []string{integrationURL},
		UseMappingTypes: true,
		Refresh:         "true",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	index := fmt.Sprintf("it_%d_%d", time.Now().UnixNano(), indexSeq.Add(1))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = client.CreateIndex(ctx, index, map[string]any{
		"mappings": map[string]any{
			"users": map[string]any{
				"properties": map[string]any{
					"name":  map[string]any{"type": "text"},
					"bio":   map[string]any{"type": "text"},
					"city":  map[string]any{"type": "keyword"},
					"age":   map[string]any{"type": "integer"},
					"score": map[string]any{"type": "double"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.DeleteIndex(ctx, index)
	})

	conn, err := esquery.NewConnection(client, index, esquery.ConnectionOptions{})
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	return client, conn.Table("users", "")
}

func seedIntegration(t *testing.T, table *esquery.Table) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	docs := []map[string]any{
		{"name": "Alice Smith", "bio": "golang developer", "city": "Tbilisi", "age": 34, "score": 1.5},
		{"name": "Bob Stone", "bio": "rust hobbyist", "city": "Batumi", "age": 19, "score": 2.5},
		{"name": "Carol Smith", "bio": "database administrator", "city": "Tbilisi", "age": 52, "score": 4.0},
	}
	for _, doc := range docs {
		if _, err := table.Insert(ctx, doc); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
}

func TestIntegrationInsertAndLastInsertID(t *testing.T) {
	// Arrange
	_, table := newIntegrationTable(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Act
	ok, err := table.Insert(ctx, map[string]any{"name": "n"})

	// Assert
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !ok {
		t.Fatalf("expected insert to succeed")
	}
	if table.LastInsertID() == "" {
		t.Fatalf("expected generated id to be recorded")
	}
}

func TestIntegrationMatchQuery(t *testing.T) {
	// Arrange
	_, table := newIntegrationTable(t)
	seedIntegration(t, table)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Act
	rs, err := table.Get(ctx, table.Query().Where("name", "like", "smiht"))

	// Assert
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rs.Total != 2 {
		t.Fatalf("expected 2 fuzzy matches, got %d", rs.Total)
	}
}

func TestIntegrationMultiMatch(t *testing.T) {
	_, table := newIntegrationTable(t)
	seedIntegration(t, table)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rs, err := table.Get(ctx, table.Query().WhereMultiMatch([]string{"bio", "name"}, "golang alice", "100%"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rs.Rows) != 1 || rs.Rows[0].Fields["name"] != "Alice Smith" {
		t.Fatalf("unexpected multi-match rows: %+v", rs.Rows)
	}
}

func TestIntegrationAggregates(t *testing.T) {
	_, table := newIntegrationTable(t)
	seedIntegration(t, table)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sum, err := table.Sum(ctx, table.Query(), "age")
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if sum != 105 {
		t.Fatalf("expected sum 105, got %v", sum)
	}

	stats, err := table.Stats(ctx, table.Query(), "score")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	maxScore, _ := stats["max"].(json.Number)
	if f, err := maxScore.Float64(); err != nil || f != 4 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestIntegrationUpdateAndDelete(t *testing.T) {
	_, table := newIntegrationTable(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := table.Insert(ctx, map[string]any{"name": "n"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	id := table.LastInsertID()

	n, err := table.Update(ctx, id, map[string]any{"name": "m"})
	if err != nil || n != 1 {
		t.Fatalf("Update: %d, %v", n, err)
	}
	n, err = table.Delete(ctx, id)
	if err != nil || n != 1 {
		t.Fatalf("Delete: %d, %v", n, err)
	}
	n, err = table.Delete(ctx, id)
	if err != nil || n != 0 {
		t.Fatalf("second Delete: %d, %v", n, err)
	}
}
