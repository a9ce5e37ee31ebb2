package kgbuild

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"edukg/backend/internal/graph"
)

// Output file names
const (
	NodesFile   = "nodes.csv"
	EdgesFile   = "edges.csv"
	TriplesFile = "triples.csv"
)

// WriteNodes writes the node table (id, label, name)
func WriteNodes(w io.Writer, nodes []graph.Node) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "label", "name"})
	for _, n := range nodes {
		_ = cw.Write([]string{n.ID, string(n.Label), n.Name})
	}
	cw.Flush()
	return cw.Error()
}

// WriteEdges writes the edge table; the score column is empty when absent
func WriteEdges(w io.Writer, edges []graph.Edge) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"source", "source_label", "relation", "target", "target_label", "score"})
	for _, e := range edges {
		score := ""
		if e.Score != nil {
			score = graph.FormatScore(*e.Score)
		}
		_ = cw.Write([]string{e.Source, string(e.SourceLabel), string(e.Relation), e.Target, string(e.TargetLabel), score})
	}
	cw.Flush()
	return cw.Error()
}

// WriteTriples writes the flat triple table (entity1, relation, entity2)
func WriteTriples(w io.Writer, triples []graph.Triple) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"entity1", "relation", "entity2"})
	for _, t := range triples {
		_ = cw.Write([]string{t.Subject, t.Relation, t.Object})
	}
	cw.Flush()
	return cw.Error()
}

// Save writes nodes.csv, edges.csv and triples.csv into dir
func Save(dir string, g *Graph) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	outputs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{NodesFile, func(w io.Writer) error { return WriteNodes(w, g.Nodes()) }},
		{EdgesFile, func(w io.Writer) error { return WriteEdges(w, g.Edges()) }},
		{TriplesFile, func(w io.Writer) error { return WriteTriples(w, g.Triples()) }},
	}
	for _, out := range outputs {
		path := filepath.Join(dir, out.name)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := out.write(f); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
