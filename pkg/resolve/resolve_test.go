package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckhaven/import-service/pkg/importerr"
)

// fakeCardService serves a fixed candidate list and counts searches.
type fakeCardService struct {
	printings map[string][]Printing
	searches  int
}

func (f *fakeCardService) Search(_ context.Context, name string) ([]Printing, error) {
	f.searches++
	// A real card service does its own fuzzy candidate retrieval; the fake
	// returns everything and leaves scoring to the policy.
	var all []Printing
	for _, ps := range f.printings {
		all = append(all, ps...)
	}
	return all, nil
}

func testService() *fakeCardService {
	date := func(y int) time.Time { return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC) }
	return &fakeCardService{printings: map[string][]Printing{
		"Sol Ring": {
			{CardID: "sol-lea", Name: "Sol Ring", SetCode: "lea", ReleasedAt: date(1993)},
			{CardID: "sol-c21", Name: "Sol Ring", SetCode: "c21", ReleasedAt: date(2021)},
		},
		"Solemn Simulacrum": {
			{CardID: "solemn-mrd", Name: "Solemn Simulacrum", SetCode: "mrd", ReleasedAt: date(2003)},
		},
		"Command Tower": {
			{CardID: "tower-cmd", Name: "Command Tower", SetCode: "cmd", ReleasedAt: date(2011)},
		},
	}}
}

func TestResolveExactNameAndSet(t *testing.T) {
	r := NewResolver(testService(), Config{})
	res, err := r.Resolve(context.Background(), "Sol Ring", "lea")
	require.NoError(t, err)
	assert.Equal(t, "sol-lea", res.CardID)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Nil(t, res.Warning)
}

func TestResolveExactNamePicksMostRecentPrinting(t *testing.T) {
	r := NewResolver(testService(), Config{})
	res, err := r.Resolve(context.Background(), "Sol Ring", "")
	require.NoError(t, err)
	assert.Equal(t, "sol-c21", res.CardID)
	require.NotNil(t, res.Warning, "ambiguous printing should warn")
	assert.Equal(t, importerr.SeverityWarning, res.Warning.Severity)
}

func TestResolveUnknownSetFallsBack(t *testing.T) {
	r := NewResolver(testService(), Config{})
	res, err := r.Resolve(context.Background(), "Sol Ring", "xyz")
	require.NoError(t, err)
	assert.Equal(t, "sol-c21", res.CardID)
	require.NotNil(t, res.Warning)
}

func TestResolveFuzzyMatch(t *testing.T) {
	r := NewResolver(testService(), Config{})
	res, err := r.Resolve(context.Background(), "Command Towr", "")
	require.NoError(t, err)
	assert.Equal(t, "tower-cmd", res.CardID)
	assert.False(t, res.Ambiguous, "similarity above safe threshold")
	require.NotNil(t, res.Warning)
}

func TestResolveAmbiguousBand(t *testing.T) {
	r := NewResolver(testService(), Config{SafeThreshold: 0.95, MinThreshold: 0.5})
	res, err := r.Resolve(context.Background(), "Comand Towr", "")
	require.NoError(t, err)
	assert.Equal(t, "tower-cmd", res.CardID)
	assert.True(t, res.Ambiguous)
}

func TestResolveNotFoundWithSuggestions(t *testing.T) {
	r := NewResolver(testService(), Config{})
	_, err := r.Resolve(context.Background(), "Not A Real Card", "")
	var ierr importerr.Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, importerr.TypeCardNotFound, ierr.Type)
	assert.True(t, ierr.Recoverable)
	assert.NotEmpty(t, ierr.Suggestions)
	assert.LessOrEqual(t, len(ierr.Suggestions), importerr.MaxSuggestions)
}

func TestResolveDeterministic(t *testing.T) {
	r := NewResolver(testService(), Config{})
	first, err := r.Resolve(context.Background(), "Solem Simulacrum", "")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Resolve(context.Background(), "Solem Simulacrum", "")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveCachesResults(t *testing.T) {
	svc := testService()
	r := NewResolver(svc, Config{})
	_, err := r.Resolve(context.Background(), "Sol Ring", "lea")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "sol ring", "LEA")
	require.NoError(t, err)
	assert.Equal(t, 1, svc.searches, "second lookup should hit the cache")
}

func TestResolveFailuresAreNotCached(t *testing.T) {
	svc := testService()
	r := NewResolver(svc, Config{})
	for i := 0; i < 2; i++ {
		_, err := r.Resolve(context.Background(), "Totally Unknown Card", "")
		require.Error(t, err)
	}
	assert.Equal(t, 2, svc.searches, "failed lookups should retry the service")
}
