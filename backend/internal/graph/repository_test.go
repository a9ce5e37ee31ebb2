package graph

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// The repository tests require a running Neo4j instance.
// Set NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD to point them at one.
func TestRepository_UpsertAndMastery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Skipf("Neo4j not available: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, "")
	suffix := time.Now().Format("20060102150405")
	student := "user_it_" + suffix
	module := "module_it_" + suffix
	defer cleanup(ctx, driver, student, module)

	err = repo.UpsertNodes(ctx, []Node{
		{ID: student, Label: LabelStudent, Name: "Integration Student"},
		{ID: module, Label: LabelModule, Name: "Integration Module"},
	})
	if err != nil {
		t.Fatalf("UpsertNodes failed: %v", err)
	}

	edge := Edge{
		Source: student, SourceLabel: LabelStudent,
		Relation: RelMasteryOn,
		Target:   module, TargetLabel: LabelModule,
		Props: MasteryProps(0.75, 2, 20),
	}
	for i := 0; i < 2; i++ {
		merged, err := repo.UpsertEdges(ctx, []Edge{edge})
		if err != nil {
			t.Fatalf("UpsertEdges failed: %v", err)
		}
		if merged != 1 {
			t.Errorf("Expected 1 merged edge, got %d", merged)
		}
	}

	rows, err := repo.StudentMastery(ctx, student)
	if err != nil {
		t.Fatalf("StudentMastery failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected one mastery edge after repeated upsert, got %d", len(rows))
	}
	if rows[0].Mastery != 0.75 || rows[0].Quizzes != 2 {
		t.Errorf("Unexpected mastery row: %+v", rows[0])
	}
}

func TestRepository_ReplaceStudentEmbeddings(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	ctx := context.Background()
	driver, err := createTestDriver()
	if err != nil {
		t.Skipf("Neo4j not available: %v", err)
	}
	defer driver.Close(ctx)

	repo := NewRepository(driver, "")
	suffix := time.Now().Format("20060102150405")
	first := "user_it_a_" + suffix
	second := "user_it_b_" + suffix
	defer cleanup(ctx, driver, first, second)

	if err := repo.UpsertNodes(ctx, []Node{
		{ID: first, Label: LabelStudent},
		{ID: second, Label: LabelStudent},
	}); err != nil {
		t.Fatalf("UpsertNodes failed: %v", err)
	}

	now := time.Now().UTC()
	if err := repo.ReplaceStudentEmbeddings(ctx, map[string][]float64{
		first:  {1, 0},
		second: {0, 1},
	}, now, "cycle-1"); err != nil {
		t.Fatalf("ReplaceStudentEmbeddings failed: %v", err)
	}
	if err := repo.ReplaceStudentEmbeddings(ctx, map[string][]float64{
		first: {0.5, 0.5},
	}, now.Add(time.Second), "cycle-2"); err != nil {
		t.Fatalf("ReplaceStudentEmbeddings failed: %v", err)
	}

	vec, err := repo.StudentEmbedding(ctx, second)
	if err != nil {
		t.Fatalf("StudentEmbedding failed: %v", err)
	}
	if vec != nil {
		t.Errorf("Expected stale embedding to be removed, got %v", vec.Embedding)
	}

	vec, err = repo.StudentEmbedding(ctx, first)
	if err != nil {
		t.Fatalf("StudentEmbedding failed: %v", err)
	}
	if vec == nil || vec.CycleID != "cycle-2" {
		t.Errorf("Expected cycle-2 embedding, got %+v", vec)
	}
}

func cleanup(ctx context.Context, driver neo4j.DriverWithContext, ids ...string) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)
	_, _ = session.Run(ctx, "MATCH (n) WHERE n.id IN $ids DETACH DELETE n", map[string]interface{}{"ids": ids})
}

func createTestDriver() (neo4j.DriverWithContext, error) {
	uri := envOr("NEO4J_URI", "bolt://localhost:7687")
	user := envOr("NEO4J_USER", "neo4j")
	password := envOr("NEO4J_PASSWORD", "password")

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(context.Background())
		return nil, err
	}

	return driver, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
