package segmenttree

import (
	"reflect"
	"testing"

	"github.com/kohei101/multidimalgorithm/libs/mdserr"
)

func TestStabbingScenario(t *testing.T) {
	tree := New[int64, string]()
	tree.Insert(0, 10, "A")
	tree.Insert(5, 15, "B")
	tree.Insert(12, 20, "C")
	tree.BuildTree()

	check := func(p int64, want []string) {
		t.Helper()
		got, err := tree.Search(p)
		if err != nil {
			t.Fatalf("Search(%d) failed: %v", p, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Search(%d) = %v, want %v", p, got, want)
		}
	}
	check(6, []string{"A", "B"})
	check(13, []string{"B", "C"})
	check(10, []string{"B"})

	tree.Remove("B")
	check(13, []string{"C"})
}

func TestSearchRequiresBuild(t *testing.T) {
	tree := New[int64, string]()
	tree.Insert(0, 10, "A")
	if _, err := tree.Search(5); !mdserr.Is(err, mdserr.TreeNotBuilt) {
		t.Errorf("expected tree-not-built before BuildTree, got %v", err)
	}
	tree.BuildTree()
	if _, err := tree.Search(5); err != nil {
		t.Errorf("unexpected error after BuildTree: %v", err)
	}
	tree.Insert(20, 30, "Z")
	if _, err := tree.Search(5); !mdserr.Is(err, mdserr.TreeNotBuilt) {
		t.Errorf("expected mutation to invalidate the tree, got %v", err)
	}
}

func TestSearchOutsideDomainIsEmpty(t *testing.T) {
	tree := New[int64, string]()
	tree.Insert(10, 20, "A")
	tree.BuildTree()
	got, err := tree.Search(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no handles outside the domain, got %v", got)
	}
	got, err = tree.Search(20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no handles at the exclusive upper bound, got %v", got)
	}
}

func TestEmptyTreeBuildsAndSearches(t *testing.T) {
	tree := New[int64, string]()
	tree.BuildTree()
	got, err := tree.Search(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no handles in an empty tree, got %v", got)
	}
}

func TestInsertRejectsEmptyRange(t *testing.T) {
	tree := New[int64, string]()
	tree.Insert(5, 5, "A")
	tree.Insert(10, 3, "B")
	tree.BuildTree()
	got, err := tree.Search(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected b>=e inserts to be no-ops, got %v", got)
	}
}

func TestRemoveIsCommutativeWithSearchWithoutRebuild(t *testing.T) {
	tree := New[int64, string]()
	tree.Insert(0, 10, "A")
	tree.Insert(0, 10, "B")
	tree.BuildTree()
	tree.Remove("A")

	got, err := tree.Search(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("Search(5) after Remove(A) = %v, want [B]", got)
	}
}

func TestRemoveThenRebuildDoesNotResurrectHandle(t *testing.T) {
	tree := New[int64, string]()
	tree.Insert(0, 10, "A")
	tree.BuildTree()
	tree.Remove("A")
	tree.Insert(0, 10, "B")
	tree.BuildTree()

	got, err := tree.Search(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"B"}) {
		t.Errorf("Search(5) = %v, want [B]", got)
	}
}

func TestExactMatchIntervalLabelsWholeSubtree(t *testing.T) {
	tree := New[int64, string]()
	tree.Insert(0, 10, "A")
	tree.BuildTree()
	for p := int64(0); p < 10; p++ {
		got, err := tree.Search(p)
		if err != nil {
			t.Fatalf("Search(%d) failed: %v", p, err)
		}
		if !reflect.DeepEqual(got, []string{"A"}) {
			t.Errorf("Search(%d) = %v, want [A]", p, got)
		}
	}
}
