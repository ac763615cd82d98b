package graph

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/54b3r/ragflow-go/internal/docstore"
	"github.com/54b3r/ragflow-go/internal/oracle"
)

// fakeRetriever returns a fixed result set for every search.
type fakeRetriever struct {
	docs []docstore.Document
	err  error
}

func (r *fakeRetriever) Search(ctx context.Context, query string, k int) ([]docstore.Document, error) {
	if r.err != nil {
		return nil, r.err
	}
	if k < len(r.docs) {
		return r.docs[:k], nil
	}
	return r.docs, nil
}

// fakeOracles implements every oracle with scripted behavior.
type fakeOracles struct {
	route oracle.Datasource

	// relevant maps document content to its relevance verdict; unlisted
	// documents are graded irrelevant.
	relevant map[string]bool

	// groundedVerdicts is consumed one per hallucination grade; when it
	// runs out, true is returned.
	groundedVerdicts []bool

	// usefulVerdicts is consumed one per answer grade; when it runs out,
	// true is returned.
	usefulVerdicts []bool

	webResults []docstore.Document

	routeErr    error
	generateErr error
}

func (o *fakeOracles) Route(ctx context.Context, clientTopics []string, question string) (oracle.Datasource, error) {
	if o.routeErr != nil {
		return "", o.routeErr
	}
	return o.route, nil
}

func (o *fakeOracles) GradeDocument(ctx context.Context, question string, doc docstore.Document) (oracle.Verdict, error) {
	return oracle.Verdict{BinaryScore: o.relevant[doc.Content]}, nil
}

func (o *fakeOracles) GradeGeneration(ctx context.Context, docs []docstore.Document, generation string) (oracle.Verdict, error) {
	if len(o.groundedVerdicts) == 0 {
		return oracle.Verdict{BinaryScore: true}, nil
	}
	v := o.groundedVerdicts[0]
	o.groundedVerdicts = o.groundedVerdicts[1:]
	return oracle.Verdict{BinaryScore: v}, nil
}

func (o *fakeOracles) GradeAnswer(ctx context.Context, question, generation string) (oracle.Verdict, error) {
	if len(o.usefulVerdicts) == 0 {
		return oracle.Verdict{BinaryScore: true}, nil
	}
	v := o.usefulVerdicts[0]
	o.usefulVerdicts = o.usefulVerdicts[1:]
	return oracle.Verdict{BinaryScore: v}, nil
}

func (o *fakeOracles) Generate(ctx context.Context, question string, docs []docstore.Document) (string, error) {
	if o.generateErr != nil {
		return "", o.generateErr
	}
	return "generated answer", nil
}

func (o *fakeOracles) Search(ctx context.Context, question string) ([]docstore.Document, error) {
	return o.webResults, nil
}

// newTestEngine wires an engine from the fakes with default bounds.
func newTestEngine(t *testing.T, store Retriever, o *fakeOracles, cfg Config) *Engine {
	t.Helper()
	e, err := New(store, Oracles{
		Router:              o,
		RetrievalGrader:     o,
		HallucinationGrader: o,
		AnswerGrader:        o,
		Generator:           o,
		WebSearcher:         o,
	}, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func Test_Graph_HappyPath_AllRelevant(t *testing.T) {
	t.Parallel()

	store := &fakeRetriever{docs: []docstore.Document{
		{Content: "agents have short and long memory", Score: 0.9},
		{Content: "agent planning uses episodic recall", Score: 0.8},
	}}
	o := &fakeOracles{
		route: oracle.DatasourceVectorstore,
		relevant: map[string]bool{
			"agents have short and long memory":   true,
			"agent planning uses episodic recall": true,
		},
	}
	e := newTestEngine(t, store, o, Config{})

	state, err := e.Run(context.Background(), "what are the types of agent memory", []string{"agents"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantPath := []Node{NodeRetrieve, NodeGradeDocuments, NodeGenerate, NodeEnd}
	if !reflect.DeepEqual(state.Path, wantPath) {
		t.Errorf("path mismatch:\n got %v\nwant %v", state.Path, wantPath)
	}
	if state.WebSearch {
		t.Error("web search flag should stay unset on an all-relevant grade")
	}
	if state.Generation != "generated answer" {
		t.Errorf("generation missing: %q", state.Generation)
	}
	if len(state.Documents) != 2 {
		t.Errorf("relevant documents dropped: %d", len(state.Documents))
	}
}

func Test_Graph_GradingFallback_AppendsWebResults(t *testing.T) {
	t.Parallel()

	store := &fakeRetriever{docs: []docstore.Document{
		{Content: "agents have short and long memory", Score: 0.9},
		{Content: "prompt injection bypasses filters", Score: 0.3},
	}}
	o := &fakeOracles{
		route: oracle.DatasourceVectorstore,
		relevant: map[string]bool{
			"agents have short and long memory": true,
		},
		webResults: []docstore.Document{{Content: "web result about agent memory"}},
	}
	e := newTestEngine(t, store, o, Config{})

	state, err := e.Run(context.Background(), "what are the types of agent memory", []string{"agents"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantPath := []Node{NodeRetrieve, NodeGradeDocuments, NodeWebSearch, NodeGenerate, NodeEnd}
	if !reflect.DeepEqual(state.Path, wantPath) {
		t.Errorf("path mismatch:\n got %v\nwant %v", state.Path, wantPath)
	}
	if !state.WebSearch {
		t.Error("dropping a document must flip the web search flag")
	}
	// Fallback keeps the relevant document and appends the web results.
	if len(state.Documents) != 2 {
		t.Fatalf("want kept doc + web result, got %d docs", len(state.Documents))
	}
	if state.Documents[0].Content != "agents have short and long memory" {
		t.Errorf("relevant document lost in fallback: %v", state.Documents)
	}
}

func Test_Graph_ZeroRelevant_ForcesWebSearch(t *testing.T) {
	t.Parallel()

	store := &fakeRetriever{docs: []docstore.Document{
		{Content: "prompt injection bypasses filters", Score: 0.3},
	}}
	o := &fakeOracles{
		route:      oracle.DatasourceVectorstore,
		relevant:   map[string]bool{},
		webResults: []docstore.Document{{Content: "web result about agent memory"}},
	}
	e := newTestEngine(t, store, o, Config{})

	state, err := e.Run(context.Background(), "what are the types of agent memory", []string{"agents"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !state.WebSearch {
		t.Error("empty relevant set must flip the web search flag")
	}
	// Direct replacement: nothing survived grading, so the context is
	// exactly the web results.
	if len(state.Documents) != 1 || state.Documents[0].Content != "web result about agent memory" {
		t.Errorf("context should be the web results: %v", state.Documents)
	}
}

func Test_Graph_DirectWebsearchRoute(t *testing.T) {
	t.Parallel()

	store := &fakeRetriever{docs: []docstore.Document{{Content: "never retrieved"}}}
	o := &fakeOracles{
		route:      oracle.DatasourceWebsearch,
		webResults: []docstore.Document{{Content: "match report from last night"}},
	}
	e := newTestEngine(t, store, o, Config{})

	state, err := e.Run(context.Background(), "who won the match last night", []string{"agents"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantPath := []Node{NodeWebSearch, NodeGenerate, NodeEnd}
	if !reflect.DeepEqual(state.Path, wantPath) {
		t.Errorf("path mismatch:\n got %v\nwant %v", state.Path, wantPath)
	}
	if state.Route != string(oracle.DatasourceWebsearch) {
		t.Errorf("route not recorded: %q", state.Route)
	}
	if state.WebSearch {
		t.Error("direct routing is not the grading fallback; flag should stay unset")
	}
}

func Test_Graph_UngroundedGeneration_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	store := &fakeRetriever{docs: []docstore.Document{{Content: "agents have short and long memory"}}}
	o := &fakeOracles{
		route:            oracle.DatasourceVectorstore,
		relevant:         map[string]bool{"agents have short and long memory": true},
		groundedVerdicts: []bool{false, true},
	}
	e := newTestEngine(t, store, o, Config{})

	state, err := e.Run(context.Background(), "what are the types of agent memory", []string{"agents"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantPath := []Node{NodeRetrieve, NodeGradeDocuments, NodeGenerate, NodeGenerate, NodeEnd}
	if !reflect.DeepEqual(state.Path, wantPath) {
		t.Errorf("path mismatch:\n got %v\nwant %v", state.Path, wantPath)
	}
}

func Test_Graph_UngroundedGeneration_RetryBound(t *testing.T) {
	t.Parallel()

	store := &fakeRetriever{docs: []docstore.Document{{Content: "agents have short and long memory"}}}
	o := &fakeOracles{
		route:            oracle.DatasourceVectorstore,
		relevant:         map[string]bool{"agents have short and long memory": true},
		groundedVerdicts: []bool{false, false, false, false, false},
	}
	e := newTestEngine(t, store, o, Config{MaxGenerateRetries: 3})

	_, err := e.Run(context.Background(), "what are the types of agent memory", []string{"agents"})
	if err == nil {
		t.Fatal("persistently ungrounded generation must fail, not loop")
	}
	var oe *oracle.OracleError
	if !errors.As(err, &oe) || oe.Oracle != "hallucination_grader" {
		t.Errorf("want *OracleError from hallucination_grader, got %v", err)
	}
}

func Test_Graph_NotUseful_FallsBackToWebSearch(t *testing.T) {
	t.Parallel()

	store := &fakeRetriever{docs: []docstore.Document{{Content: "agents have short and long memory"}}}
	o := &fakeOracles{
		route:          oracle.DatasourceVectorstore,
		relevant:       map[string]bool{"agents have short and long memory": true},
		usefulVerdicts: []bool{false, true},
		webResults:     []docstore.Document{{Content: "web result about agent memory"}},
	}
	e := newTestEngine(t, store, o, Config{})

	state, err := e.Run(context.Background(), "what are the types of agent memory", []string{"agents"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	wantPath := []Node{NodeRetrieve, NodeGradeDocuments, NodeGenerate, NodeWebSearch, NodeGenerate, NodeEnd}
	if !reflect.DeepEqual(state.Path, wantPath) {
		t.Errorf("path mismatch:\n got %v\nwant %v", state.Path, wantPath)
	}
}

func Test_Graph_HopCeiling(t *testing.T) {
	t.Parallel()

	store := &fakeRetriever{docs: []docstore.Document{{Content: "agents have short and long memory"}}}
	// Every generation is grounded but never useful, so the query would
	// cycle generate→websearch forever without the hop ceiling.
	o := &fakeOracles{
		route:    oracle.DatasourceVectorstore,
		relevant: map[string]bool{"agents have short and long memory": true},
		usefulVerdicts: []bool{
			false, false, false, false, false, false, false, false,
			false, false, false, false, false, false, false, false,
		},
		webResults: []docstore.Document{{Content: "web result"}},
	}
	e := newTestEngine(t, store, o, Config{MaxHops: 10})

	_, err := e.Run(context.Background(), "what are the types of agent memory", []string{"agents"})
	if !errors.Is(err, ErrHopLimit) {
		t.Fatalf("want hop limit error, got %v", err)
	}
}

func Test_Graph_Determinism(t *testing.T) {
	t.Parallel()

	run := func() []Node {
		store := &fakeRetriever{docs: []docstore.Document{
			{Content: "agents have short and long memory", Score: 0.9},
			{Content: "prompt injection bypasses filters", Score: 0.3},
		}}
		o := &fakeOracles{
			route:      oracle.DatasourceVectorstore,
			relevant:   map[string]bool{"agents have short and long memory": true},
			webResults: []docstore.Document{{Content: "web result"}},
		}
		e := newTestEngine(t, store, o, Config{})
		state, err := e.Run(context.Background(), "what are the types of agent memory", []string{"agents"})
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return state.Path
	}

	first := run()
	for range 3 {
		if got := run(); !reflect.DeepEqual(got, first) {
			t.Fatalf("identical oracle outputs must reproduce the path:\n got %v\nwant %v", got, first)
		}
	}
}

func Test_Graph_NodeErrorsAbortQuery(t *testing.T) {
	t.Parallel()

	t.Run("router failure", func(t *testing.T) {
		t.Parallel()
		o := &fakeOracles{routeErr: errors.New("model unavailable")}
		e := newTestEngine(t, &fakeRetriever{}, o, Config{})
		if _, err := e.Run(context.Background(), "q", nil); err == nil {
			t.Error("router failure must abort the query")
		}
	})

	t.Run("store failure", func(t *testing.T) {
		t.Parallel()
		o := &fakeOracles{route: oracle.DatasourceVectorstore}
		e := newTestEngine(t, &fakeRetriever{err: errors.New("connection refused")}, o, Config{})
		if _, err := e.Run(context.Background(), "q", nil); err == nil {
			t.Error("store failure must abort the query")
		}
	})

	t.Run("generator failure", func(t *testing.T) {
		t.Parallel()
		o := &fakeOracles{
			route:       oracle.DatasourceWebsearch,
			webResults:  []docstore.Document{{Content: "web result"}},
			generateErr: errors.New("model unavailable"),
		}
		e := newTestEngine(t, &fakeRetriever{}, o, Config{})
		if _, err := e.Run(context.Background(), "q", nil); err == nil {
			t.Error("generator failure must abort the query")
		}
	})
}

func Test_Graph_CancelledContext(t *testing.T) {
	t.Parallel()

	o := &fakeOracles{route: oracle.DatasourceVectorstore}
	e := newTestEngine(t, &fakeRetriever{docs: []docstore.Document{{Content: "doc"}}}, o, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Run(ctx, "q", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func Test_Graph_MissingOracleRejected(t *testing.T) {
	t.Parallel()

	_, err := New(&fakeRetriever{}, Oracles{}, Config{})
	if err == nil {
		t.Error("missing oracles must be rejected at construction")
	}
}
