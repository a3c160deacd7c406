package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/kgbuild/internal/provision"
	"github.com/agentic-research/kgbuild/internal/stats"
)

var testLayout = Layout{
	ImportDir:            "/data/imports",
	ExperimentsDir:       "/data/experiments",
	ExperimentsImportDir: "/data/imports/experiments",
}

func fileRecord(dataset, name string) stats.Record {
	return stats.Record{
		Date:           "2024-03-01",
		Time:           "10:00:00",
		Dataset:        dataset,
		Filename:       dataset + "_" + name + ".tsv",
		FileSize:       1024,
		ImportedNumber: 42,
		ImportType:     "entity",
		Name:           name,
	}
}

type ontologyFunc func(ctx context.Context, outputDir string, names []string) ([]stats.Record, error)

func (f ontologyFunc) GenerateGraphFiles(ctx context.Context, outputDir string, names []string) ([]stats.Record, error) {
	return f(ctx, outputDir, names)
}

type databaseFunc func(ctx context.Context, outputDir, name string) ([]stats.Record, error)

func (f databaseFunc) GenerateGraphFiles(ctx context.Context, outputDir, name string) ([]stats.Record, error) {
	return f(ctx, outputDir, name)
}

type experimentFunc func(ctx context.Context, project, dataset, outputDir string) error

func (f experimentFunc) GenerateDatasetImports(ctx context.Context, project, dataset, outputDir string) error {
	return f(ctx, project, dataset, outputDir)
}

type fixture struct {
	fs     billy.Filesystem
	ledger *stats.Ledger
	opts   Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := memfs.New()
	ledger := stats.NewLedger(filepath.Join(t.TempDir(), "stats"), "stats.db", "1.0")

	return &fixture{
		fs:     fs,
		ledger: ledger,
		opts: Options{
			Layout:     testLayout,
			Ontologies: []string{"Protein", "Disease", "Tissue"},
			Databases:  []string{"UniProt", "HGNC"},
			Dirs:       provision.New(fs),
			Ledger:     ledger,
			Ontology: ontologyFunc(func(context.Context, string, []string) ([]stats.Record, error) {
				return nil, nil
			}),
			Database: databaseFunc(func(context.Context, string, string) ([]stats.Record, error) {
				return nil, nil
			}),
			Experiment: experimentFunc(func(context.Context, string, string, string) error {
				return nil
			}),
		},
	}
}

func (f *fixture) initLedger(t *testing.T) {
	t.Helper()
	require.NoError(t, f.ledger.InitializeIfAbsent(context.Background(), stats.Columns))
}

func (f *fixture) rows(t *testing.T) []stats.Record {
	t.Helper()
	frame, err := f.ledger.Read(context.Background(), "")
	require.NoError(t, err)
	return frame.Records
}

func (f *fixture) mkdirs(t *testing.T, dirs ...string) {
	t.Helper()
	for _, d := range dirs {
		require.NoError(t, f.fs.MkdirAll(d, 0o755))
	}
}

func isDir(t *testing.T, f *fixture, path string) bool {
	t.Helper()
	info, err := f.fs.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func TestImportOntologies(t *testing.T) {
	ctx := context.Background()

	t.Run("records appended with every field", func(t *testing.T) {
		f := newFixture(t)
		f.initLedger(t)

		var gotDir string
		var gotNames []string
		f.opts.Ontology = ontologyFunc(func(_ context.Context, dir string, names []string) ([]stats.Record, error) {
			gotDir, gotNames = dir, names
			out := make([]stats.Record, 0, len(names))
			for _, n := range names {
				out = append(out, fileRecord("ontology", n))
			}
			return out, nil
		})
		o := New(f.opts)

		n, err := o.ImportOntologies(ctx, All())
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, "/data/imports/ontologies", gotDir)
		assert.Equal(t, []string{"Protein", "Disease", "Tissue"}, gotNames)
		assert.True(t, isDir(t, f, "/data/imports/ontologies"))

		rows := f.rows(t)
		require.Len(t, rows, 3)
		assert.Equal(t, fileRecord("ontology", "Protein"), rows[0])
		assert.Equal(t, fileRecord("ontology", "Tissue"), rows[2])
		assert.Equal(t, 3.0, testutil.ToFloat64(o.Metrics().recordsImported.WithLabelValues(FamilyOntologies)))
	})

	t.Run("named selection is deduplicated", func(t *testing.T) {
		f := newFixture(t)
		f.initLedger(t)

		var gotNames []string
		f.opts.Ontology = ontologyFunc(func(_ context.Context, _ string, names []string) ([]stats.Record, error) {
			gotNames = names
			return nil, nil
		})

		_, err := New(f.opts).ImportOntologies(ctx, Named("Tissue", "Protein", "Tissue"))
		require.NoError(t, err)
		assert.Equal(t, []string{"Tissue", "Protein"}, gotNames)
	})

	t.Run("empty selection does not call the adapter", func(t *testing.T) {
		f := newFixture(t)
		f.initLedger(t)
		f.opts.Ontology = ontologyFunc(func(context.Context, string, []string) ([]stats.Record, error) {
			t.Fatal("adapter called")
			return nil, nil
		})

		n, err := New(f.opts).ImportOntologies(ctx, Named())
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("adapter failure writes nothing", func(t *testing.T) {
		f := newFixture(t)
		f.initLedger(t)
		f.opts.Ontology = ontologyFunc(func(context.Context, string, []string) ([]stats.Record, error) {
			return []stats.Record{fileRecord("ontology", "Protein")}, errors.New("source unavailable")
		})

		_, err := New(f.opts).ImportOntologies(ctx, All())
		require.ErrorContains(t, err, "source unavailable")
		assert.Empty(t, f.rows(t))
	})

	t.Run("uninitialized ledger", func(t *testing.T) {
		f := newFixture(t)
		f.opts.Ontology = ontologyFunc(func(context.Context, string, []string) ([]stats.Record, error) {
			return []stats.Record{fileRecord("ontology", "Protein")}, nil
		})

		_, err := New(f.opts).ImportOntologies(ctx, All())
		require.ErrorIs(t, err, stats.ErrNotInitialized)
	})

	t.Run("invalid name", func(t *testing.T) {
		f := newFixture(t)
		f.initLedger(t)

		_, err := New(f.opts).ImportOntologies(ctx, Named("../etc"))
		require.Error(t, err)
	})
}

type gatedDatabases struct {
	gate    chan struct{}
	arrived chan string

	mu       sync.Mutex
	inFlight int
	peak     int
	calls    map[string]int
}

func newGatedDatabases(n int) *gatedDatabases {
	return &gatedDatabases{
		gate:    make(chan struct{}),
		arrived: make(chan string, n),
		calls:   make(map[string]int),
	}
}

func (g *gatedDatabases) GenerateGraphFiles(_ context.Context, _, name string) ([]stats.Record, error) {
	g.mu.Lock()
	g.inFlight++
	g.peak = max(g.peak, g.inFlight)
	g.calls[name]++
	g.mu.Unlock()

	g.arrived <- name
	<-g.gate

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return []stats.Record{fileRecord(name, "Gene")}, nil
}

func TestImportDatabases_FanIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.initLedger(t)

	names := []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9"}
	adapter := newGatedDatabases(len(names))
	f.opts.Database = adapter
	o := New(f.opts)

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := o.ImportDatabases(ctx, Named(names...), 4)
		done <- result{n, err}
	}()

	for range 4 {
		select {
		case <-adapter.arrived:
		case <-time.After(5 * time.Second):
			t.Fatal("workers did not start")
		}
	}

	// Four calls are parked on the gate: nothing may be aggregated yet.
	select {
	case <-done:
		t.Fatal("returned before workers finished")
	default:
	}
	assert.Empty(t, f.rows(t))

	close(adapter.gate)
	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("import did not finish")
	}
	require.NoError(t, res.err)
	assert.Equal(t, 10, res.n)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	assert.Equal(t, 4, adapter.peak)
	for _, n := range names {
		assert.Equal(t, 1, adapter.calls[n], n)
	}

	rows := f.rows(t)
	require.Len(t, rows, 10)
	seen := map[string]bool{}
	for _, r := range rows {
		seen[r.Dataset] = true
	}
	assert.Len(t, seen, 10)
}

func TestImportDatabases(t *testing.T) {
	ctx := context.Background()

	t.Run("all uses configured databases", func(t *testing.T) {
		f := newFixture(t)
		f.initLedger(t)

		var mu sync.Mutex
		var got []string
		f.opts.Database = databaseFunc(func(_ context.Context, dir, name string) ([]stats.Record, error) {
			assert.Equal(t, "/data/imports/databases", dir)
			mu.Lock()
			got = append(got, name)
			mu.Unlock()
			return []stats.Record{fileRecord(name, "Gene"), fileRecord(name, "Protein")}, nil
		})

		n, err := New(f.opts).ImportDatabases(ctx, All(), 2)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.ElementsMatch(t, []string{"UniProt", "HGNC"}, got)
		assert.Len(t, f.rows(t), 4)
	})

	t.Run("one failure means no ledger write", func(t *testing.T) {
		f := newFixture(t)
		f.initLedger(t)
		f.opts.Database = databaseFunc(func(_ context.Context, _, name string) ([]stats.Record, error) {
			if name == "broken" {
				return nil, errors.New("download failed")
			}
			return []stats.Record{fileRecord(name, "Gene")}, nil
		})
		o := New(f.opts)

		_, err := o.ImportDatabases(ctx, Named("UniProt", "broken", "HGNC"), 4)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database broken")
		assert.Contains(t, err.Error(), "download failed")
		assert.Empty(t, f.rows(t))
		assert.Equal(t, 1.0, testutil.ToFloat64(o.Metrics().unitsTotal.WithLabelValues(FamilyDatabases, "failed")))
	})

	t.Run("panic is reported as failure", func(t *testing.T) {
		f := newFixture(t)
		f.initLedger(t)
		f.opts.Database = databaseFunc(func(context.Context, string, string) ([]stats.Record, error) {
			panic("bad parser state")
		})

		_, err := New(f.opts).ImportDatabases(ctx, Named("UniProt"), 1)
		require.ErrorContains(t, err, "bad parser state")
		assert.Empty(t, f.rows(t))
	})
}

type experimentCall struct {
	project, dataset, outputDir string
}

type recordingExperiments struct {
	mu    sync.Mutex
	calls []experimentCall
	fail  string
}

func (r *recordingExperiments) GenerateDatasetImports(_ context.Context, project, dataset, outputDir string) error {
	r.mu.Lock()
	r.calls = append(r.calls, experimentCall{project, dataset, outputDir})
	r.mu.Unlock()
	if project == r.fail {
		return errors.New("malformed design file")
	}
	return nil
}

func TestImportExperiments(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, *recordingExperiments) {
		f := newFixture(t)
		f.mkdirs(t,
			"/data/experiments/P1/d1",
			"/data/experiments/P2/d1",
			"/data/experiments/.cache",
		)
		require.NoError(t, util.WriteFile(f.fs, "/data/experiments/README", []byte("x"), 0o644))
		rec := &recordingExperiments{}
		f.opts.Experiment = rec
		return f, rec
	}

	t.Run("all discovers projects and datasets", func(t *testing.T) {
		f, rec := setup(t)

		require.NoError(t, New(f.opts).ImportExperiments(ctx, All(), 2))

		assert.ElementsMatch(t, []experimentCall{
			{"P1", "d1", "/data/imports/experiments/P1/d1"},
			{"P2", "d1", "/data/imports/experiments/P2/d1"},
		}, rec.calls)
		assert.True(t, isDir(t, f, "/data/imports/experiments/P1/d1"))
		assert.True(t, isDir(t, f, "/data/imports/experiments/P2/d1"))
	})

	t.Run("named project", func(t *testing.T) {
		f, rec := setup(t)
		f.mkdirs(t, "/data/experiments/P1/d2")

		require.NoError(t, New(f.opts).ImportExperiments(ctx, Named("P1"), 4))

		assert.Equal(t, []experimentCall{
			{"P1", "d1", "/data/imports/experiments/P1/d1"},
			{"P1", "d2", "/data/imports/experiments/P1/d2"},
		}, rec.calls)
		assert.False(t, isDir(t, f, "/data/imports/experiments/P2"))
	})

	t.Run("missing project directory", func(t *testing.T) {
		f, _ := setup(t)

		err := New(f.opts).ImportExperiments(ctx, Named("P9"), 1)
		require.ErrorContains(t, err, "project P9")
	})

	t.Run("failure stops unstarted projects", func(t *testing.T) {
		f, rec := setup(t)
		rec.fail = "P1"

		err := New(f.opts).ImportExperiments(ctx, All(), 1)
		require.ErrorContains(t, err, "project P1 dataset d1")
		assert.Equal(t, []experimentCall{{"P1", "d1", "/data/imports/experiments/P1/d1"}}, rec.calls)
	})

	t.Run("no projects", func(t *testing.T) {
		f := newFixture(t)
		f.mkdirs(t, "/data/experiments")

		require.NoError(t, New(f.opts).ImportExperiments(ctx, All(), 4))
		assert.True(t, isDir(t, f, "/data/imports/experiments"))
	})

	t.Run("host filesystem with symlinked project", func(t *testing.T) {
		for _, parallelism := range []int{1, 2, 4} {
			root := t.TempDir()
			shared := t.TempDir()
			layout := Layout{
				ImportDir:            filepath.Join(root, "imports"),
				ExperimentsDir:       filepath.Join(root, "experiments"),
				ExperimentsImportDir: filepath.Join(root, "imports", "experiments"),
			}
			require.NoError(t, os.MkdirAll(filepath.Join(layout.ExperimentsDir, "P1", "d1"), 0o755))
			require.NoError(t, os.MkdirAll(filepath.Join(shared, "P2", "d1"), 0o755))
			require.NoError(t, os.Symlink(filepath.Join(shared, "P2"), filepath.Join(layout.ExperimentsDir, "P2")))

			f := newFixture(t)
			rec := &recordingExperiments{}
			f.opts.Layout = layout
			f.opts.Dirs = provision.NewOS()
			f.opts.Experiment = rec

			require.NoError(t, New(f.opts).ImportExperiments(ctx, All(), parallelism))

			assert.ElementsMatch(t, []experimentCall{
				{"P1", "d1", filepath.Join(layout.ExperimentsImportDir, "P1", "d1")},
				{"P2", "d1", filepath.Join(layout.ExperimentsImportDir, "P2", "d1")},
			}, rec.calls, "parallelism %d", parallelism)
			assert.DirExists(t, filepath.Join(layout.ExperimentsImportDir, "P2", "d1"))
		}
	})
}

func TestFullImport(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, *[]string) {
		f := newFixture(t)
		f.mkdirs(t, "/data/experiments/P1/d1")
		f.opts.Jobs = 2

		var mu sync.Mutex
		var order []string
		log := func(s string) {
			mu.Lock()
			order = append(order, s)
			mu.Unlock()
		}
		f.opts.Ontology = ontologyFunc(func(_ context.Context, _ string, names []string) ([]stats.Record, error) {
			log(FamilyOntologies)
			return []stats.Record{fileRecord("ontology", names[0])}, nil
		})
		f.opts.Database = databaseFunc(func(_ context.Context, _, name string) ([]stats.Record, error) {
			log(FamilyDatabases)
			return []stats.Record{fileRecord(name, "Gene")}, nil
		})
		f.opts.Experiment = experimentFunc(func(context.Context, string, string, string) error {
			log(FamilyExperiments)
			return nil
		})
		return f, &order
	}

	t.Run("stages run in order", func(t *testing.T) {
		f, order := setup(t)

		timings, err := New(f.opts).FullImport(ctx)
		require.NoError(t, err)

		assert.Equal(t, []string{FamilyOntologies, FamilyDatabases, FamilyDatabases, FamilyExperiments}, *order)
		require.Len(t, timings, 3)
		assert.Equal(t, FamilyOntologies, timings[0].Stage)
		assert.Equal(t, FamilyDatabases, timings[1].Stage)
		assert.Equal(t, FamilyExperiments, timings[2].Stage)
		assert.LessOrEqual(t, timings[0].Elapsed, timings[1].Elapsed)
		assert.LessOrEqual(t, timings[1].Elapsed, timings[2].Elapsed)

		assert.True(t, f.ledger.Exists())
		assert.Len(t, f.rows(t), 3)
	})

	t.Run("failing stage stops the run", func(t *testing.T) {
		f, order := setup(t)
		f.opts.Database = databaseFunc(func(context.Context, string, string) ([]stats.Record, error) {
			return nil, errors.New("mirror offline")
		})

		timings, err := New(f.opts).FullImport(ctx)
		require.ErrorContains(t, err, "databases import")
		require.Len(t, timings, 1)
		assert.Equal(t, []string{FamilyOntologies}, *order)
		assert.Len(t, f.rows(t), 1)
	})

	t.Run("metrics textfile", func(t *testing.T) {
		f, _ := setup(t)
		o := New(f.opts)

		_, err := o.FullImport(ctx)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "kgbuild.prom")
		require.NoError(t, o.Metrics().WriteTextfile(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		text := string(data)
		assert.True(t, strings.Contains(text, "kgbuild_imported_records_total"))
		assert.True(t, strings.Contains(text, `kgbuild_stage_duration_seconds_count{stage="experiments"} 1`))

		// One series per stage.
		n, err := testutil.GatherAndCount(o.Metrics().Registry(), "kgbuild_stage_duration_seconds")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})
}

func TestScopeResolve(t *testing.T) {
	discover := listed([]string{"a", "b"})

	targets, err := All().Resolve(discover)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, targets.Names())

	targets, err = Named("b", "c", "b").Resolve(discover)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, targets.Names())

	targets, err = Named().Resolve(discover)
	require.NoError(t, err)
	assert.Zero(t, targets.Len())

	_, err = All().Resolve(func() ([]string, error) { return nil, errors.New("boom") })
	require.ErrorContains(t, err, "boom")

	for _, bad := range []string{"", " ", "a/b", "..", "."} {
		_, err := Named(bad).Resolve(discover)
		assert.Error(t, err, bad)
	}

	names := []string{"x"}
	s := Named(names...)
	names[0] = "y"
	targets, err = s.Resolve(discover)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, targets.Names())

	assert.Equal(t, "all", All().String())
	assert.Equal(t, "x", s.String())
	assert.Equal(t, "b,c", Named("b", "c").String())
}
