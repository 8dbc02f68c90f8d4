package extraction

import (
	"reflect"
	"testing"
)

func TestPagesToProcessReturnsAllPagesUnderBudget(t *testing.T) {
	got := pagesToProcess(5, 10)
	want := []int{1, 2, 3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPagesToProcessUnboundedWhenMaxPagesIsZero(t *testing.T) {
	got := pagesToProcess(3, 0)
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPagesToProcessTruncatesToFirstAndLastHalves(t *testing.T) {
	got := pagesToProcess(20, 10)
	want := []int{1, 2, 3, 4, 5, 16, 17, 18, 19, 20}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPagesToProcessOddBudgetHalvesRoundDown(t *testing.T) {
	got := pagesToProcess(20, 3)
	want := []int{1, 20}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestPagesToProcessAvoidsOverlapOnSmallDocuments(t *testing.T) {
	got := pagesToProcess(6, 4)
	want := []int{1, 2, 5, 6}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
