package docindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	docs    map[string]string
	listErr error
	readErr map[string]error
	lists   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) List(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := make([]string, 0, len(f.docs))
	for n := range f.docs {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeSource) Read(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[name]; err != nil {
		return "", err
	}
	return f.docs[name], nil
}

const pricingDoc = `Company overview
We build widgets.

Our pricing starts at $10 per month.
Enterprise plans are negotiated.
Support is included.
Contact sales for volume discounts.
Founded in 2019.`

func TestSearchReturnsContextWindow(t *testing.T) {
	ix := New(nil, nil, &fakeSource{docs: map[string]string{"plans.txt": pricingDoc}})

	got, err := ix.Search(context.Background(), "pricing details")
	require.NoError(t, err)
	want := "From plans.txt:\n" + strings.Join([]string{
		"Company overview",
		"We build widgets.",
		"Our pricing starts at $10 per month.",
		"Enterprise plans are negotiated.",
		"Support is included.",
	}, "\n")
	require.Equal(t, want, got)
}

func TestSearchMatchesFullQueryAndShortWordsIgnored(t *testing.T) {
	docs := map[string]string{"a.txt": "line one\nan ox\nline three"}
	hits := searchDocs(docs, "an ox")
	// "an" and "ox" are too short as words, but the whole query still matches.
	require.Len(t, hits, 1)
	require.Equal(t, "line one\nan ox\nline three", hits[0].Text)
}

func TestSearchClipsWindowAtDocumentBounds(t *testing.T) {
	docs := map[string]string{"a.txt": "alpha match\nb\nc\nd\ne"}
	hits := searchDocs(docs, "match")
	require.Len(t, hits, 1)
	require.Equal(t, "alpha match\nb\nc", hits[0].Text)
}

func TestSearchFallbackReturnsEveryDocument(t *testing.T) {
	d1 := "first document\nabout apples"
	d2 := "second document\nabout oranges"
	ix := New(nil, nil, &fakeSource{docs: map[string]string{"d1.txt": d1, "d2.txt": d2}})

	got, err := ix.Search(context.Background(), "quantum chromodynamics")
	require.NoError(t, err)
	require.Equal(t, "From d1.txt:\n"+d1+"\n\n---\n\nFrom d2.txt:\n"+d2, got)
}

func TestSearchEmptyIndexReturnsSentinel(t *testing.T) {
	ix := New(nil, nil, &fakeSource{docs: map[string]string{}})
	got, err := ix.Search(context.Background(), "pricing")
	require.NoError(t, err)
	require.Equal(t, "No relevant information found.", got)
}

func TestSearchLazyLoadsOnce(t *testing.T) {
	src := &fakeSource{docs: map[string]string{"a.txt": "pricing"}}
	ix := New(nil, nil, src)

	for i := 0; i < 3; i++ {
		_, err := ix.Search(context.Background(), "pricing")
		require.NoError(t, err)
	}
	require.Equal(t, 1, src.lists)
}

func TestLoadIsBestEffort(t *testing.T) {
	broken := &fakeSource{listErr: errors.New("disk gone")}
	partial := &fakeSource{
		docs:    map[string]string{"ok.txt": "fine", "bad.txt": "never read"},
		readErr: map[string]error{"bad.txt": errors.New("permission denied")},
	}
	ix := New(nil, nil, broken, partial)

	require.NoError(t, ix.Load(context.Background()))
	docs := ix.Documents()
	require.Len(t, docs, 1)
	require.Equal(t, "ok.txt", docs[0].Name)
}

func TestReloadReplacesCorpusWholesale(t *testing.T) {
	src := &fakeSource{docs: map[string]string{"old.txt": "old text"}}
	ix := New(nil, nil, src)
	require.NoError(t, ix.Load(context.Background()))
	require.Equal(t, 1, ix.Len())

	src.mu.Lock()
	src.docs = map[string]string{"new.txt": "new text"}
	src.mu.Unlock()
	require.NoError(t, ix.Reload(context.Background()))

	docs := ix.Documents()
	require.Len(t, docs, 1)
	require.Equal(t, "new.txt", docs[0].Name)
}

func TestConcurrentSearchDuringReload(t *testing.T) {
	src := &fakeSource{docs: map[string]string{"a.txt": "pricing is $10", "b.txt": "pricing is $20"}}
	ix := New(nil, nil, src)
	require.NoError(t, ix.Load(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				got, err := ix.Search(context.Background(), "pricing")
				if err != nil || !strings.Contains(got, "From a.txt:") || !strings.Contains(got, "From b.txt:") {
					t.Errorf("partial corpus observed: %q (err=%v)", got, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, ix.Reload(context.Background()))
	}
	wg.Wait()
}

func TestDirSourceListsEligibleFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("notes.md", "# notes")
	write("report.pdf.txt", "extracted report")
	write("image.png", "binary")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.txt"), 0o700))

	src := NewDirSource(dir)
	names, err := src.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"notes.md", "report.pdf"}, names)

	text, err := src.Read(context.Background(), "report.pdf")
	require.NoError(t, err)
	require.Equal(t, "extracted report", text)
}

func TestDirSourceMissingDirectory(t *testing.T) {
	ix := New(nil, nil, NewDirSource(filepath.Join(t.TempDir(), "missing")))
	got, err := ix.Search(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, NoRelevantInformation, got)
}
