package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ent0n29/aegis/internal/llm"
	"github.com/ent0n29/aegis/internal/memory"
	"github.com/ent0n29/aegis/internal/observability"
	"github.com/ent0n29/aegis/internal/policy"
	"github.com/ent0n29/aegis/internal/prompt"
	"github.com/ent0n29/aegis/internal/reliability"
	"github.com/ent0n29/aegis/internal/retrieval"
	"github.com/ent0n29/aegis/internal/semcache"
	"github.com/ent0n29/aegis/internal/vectorstore"
)

type fakeRetriever struct {
	result retrieval.Result
	err    error
	calls  int
}

func (r *fakeRetriever) Retrieve(ctx context.Context, question string) (retrieval.Result, error) {
	r.calls++
	if r.err != nil {
		return retrieval.Result{}, r.err
	}
	return r.result, nil
}

type recordingGenerator struct {
	reply    string
	err      error
	calls    int
	lastReq  llm.GenerateRequest
	streamed bool
}

func (g *recordingGenerator) Generate(ctx context.Context, req llm.GenerateRequest, onDelta llm.DeltaHandler) (llm.GenerateResponse, error) {
	g.calls++
	g.lastReq = req
	if g.err != nil {
		return llm.GenerateResponse{}, g.err
	}
	if onDelta != nil {
		g.streamed = true
		for _, part := range strings.SplitAfter(g.reply, " ") {
			if err := onDelta(part); err != nil {
				return llm.GenerateResponse{}, err
			}
		}
	}
	return llm.GenerateResponse{Text: g.reply}, nil
}

type failingCache struct{}

func (failingCache) Lookup(context.Context, []float32) (*semcache.Entry, error) {
	return nil, fmt.Errorf("redis down")
}
func (failingCache) Store(context.Context, semcache.Entry) error { return fmt.Errorf("redis down") }
func (failingCache) Close() error                                { return nil }

func testSanitizer() *policy.Sanitizer {
	return policy.NewSanitizer(policy.NewLocalDetector(), time.Second, nil)
}

func testOrchestrator(t *testing.T, ret Retriever, gen llm.Generator) (*Orchestrator, memory.Store, semcache.Cache) {
	t.Helper()
	hist := memory.NewInMemoryStore()
	cache := semcache.NewInMemoryCache(8, 0.95)
	o := New(Options{
		Sanitizer:    testSanitizer(),
		Retriever:    ret,
		History:      hist,
		Cache:        cache,
		Assembler:    prompt.NewAssembler(""),
		Generator:    gen,
		HistoryLimit: 20,
	})
	return o, hist, cache
}

func TestChatHappyPath(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{
		Fragments:   []vectorstore.Fragment{{Content: "go is a language", Score: 0.9}},
		QueryVector: []float32{1, 0, 0},
	}}
	gen := &recordingGenerator{reply: "Go is a compiled language."}
	o, hist, _ := testOrchestrator(t, ret, gen)

	res, err := o.Chat(context.Background(), "alice", "s1", "what is go?")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Answer != gen.reply {
		t.Fatalf("res.Answer = %q, want %q", res.Answer, gen.reply)
	}
	if res.Cached {
		t.Fatal("res.Cached = true on first turn, want false")
	}
	if res.TurnID == "" {
		t.Fatal("res.TurnID is empty")
	}

	turns, err := hist.History(context.Background(), "alice:s1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Role != memory.RoleUser || turns[1].Role != memory.RoleAssistant {
		t.Fatalf("turn roles = %q,%q, want user,assistant", turns[0].Role, turns[1].Role)
	}
	if turns[0].Content != "what is go?" {
		t.Fatalf("user turn content = %q", turns[0].Content)
	}
}

func TestChatSanitizesInputBeforePromptAndHistory(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "done"}
	o, hist, _ := testOrchestrator(t, ret, gen)

	_, err := o.Chat(context.Background(), "alice", "s1", "mail me at bob@example.com please")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	last := gen.lastReq.Messages[len(gen.lastReq.Messages)-1]
	if strings.Contains(last.Content, "bob@example.com") {
		t.Fatalf("prompt contains raw email: %q", last.Content)
	}
	if !strings.Contains(last.Content, "[EMAIL_ADDRESS]") {
		t.Fatalf("prompt missing redaction marker: %q", last.Content)
	}

	turns, _ := hist.History(context.Background(), "alice:s1", 0)
	if strings.Contains(turns[0].Content, "bob@example.com") {
		t.Fatalf("persisted turn contains raw email: %q", turns[0].Content)
	}
	if !turns[0].PIIRedacted {
		t.Fatal("turns[0].PIIRedacted = false, want true")
	}
}

func TestChatSanitizesOutputBeforeCacheAndHistory(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "reach support at help@corp.example"}
	o, hist, cache := testOrchestrator(t, ret, gen)

	res, err := o.Chat(context.Background(), "alice", "s1", "how do I get help?")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if strings.Contains(res.Answer, "help@corp.example") {
		t.Fatalf("answer contains raw email: %q", res.Answer)
	}

	entry, err := cache.Lookup(context.Background(), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if entry == nil {
		t.Fatal("Lookup() = nil, want stored entry")
	}
	if strings.Contains(entry.Response, "help@corp.example") {
		t.Fatalf("cached response contains raw email: %q", entry.Response)
	}

	turns, _ := hist.History(context.Background(), "alice:s1", 0)
	if strings.Contains(turns[1].Content, "help@corp.example") {
		t.Fatalf("persisted assistant turn contains raw email: %q", turns[1].Content)
	}
	if !turns[1].PIIRedacted {
		t.Fatal("turns[1].PIIRedacted = false, want true")
	}
}

func TestChatRetrievalFailureIsFatal(t *testing.T) {
	ret := &fakeRetriever{err: fmt.Errorf("vector store unreachable")}
	gen := &recordingGenerator{reply: "never"}
	o, hist, _ := testOrchestrator(t, ret, gen)

	_, err := o.Chat(context.Background(), "alice", "s1", "hello")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Chat() error = %v, want ErrInternal", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator calls = %d, want 0", gen.calls)
	}
	turns, _ := hist.History(context.Background(), "alice:s1", 0)
	if len(turns) != 0 {
		t.Fatalf("len(turns) = %d, want 0 after fatal failure", len(turns))
	}
}

func TestChatGenerationFailureIsFatal(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{err: fmt.Errorf("model overloaded")}
	o, hist, _ := testOrchestrator(t, ret, gen)

	_, err := o.Chat(context.Background(), "alice", "s1", "hello")
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Chat() error = %v, want ErrInternal", err)
	}
	turns, _ := hist.History(context.Background(), "alice:s1", 0)
	if len(turns) != 0 {
		t.Fatalf("len(turns) = %d, want 0 after generation failure", len(turns))
	}
}

func TestChatCacheHitShortCircuits(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "first answer"}
	o, hist, _ := testOrchestrator(t, ret, gen)

	if _, err := o.Chat(context.Background(), "alice", "s1", "what is go?"); err != nil {
		t.Fatalf("first Chat() error = %v", err)
	}
	res, err := o.Chat(context.Background(), "alice", "s1", "tell me what go is")
	if err != nil {
		t.Fatalf("second Chat() error = %v", err)
	}
	if !res.Cached {
		t.Fatal("res.Cached = false, want true on near-identical embedding")
	}
	if res.Answer != "first answer" {
		t.Fatalf("res.Answer = %q, want cached %q", res.Answer, "first answer")
	}
	if gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1 (hit must not regenerate)", gen.calls)
	}

	// A cache hit responds without touching stored history.
	turns, _ := hist.History(context.Background(), "alice:s1", 0)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2 (only the miss persisted)", len(turns))
	}
}

func TestChatCacheFailureDegrades(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "generated anyway"}
	hist := memory.NewInMemoryStore()
	o := New(Options{
		Sanitizer:    testSanitizer(),
		Retriever:    ret,
		History:      hist,
		Cache:        failingCache{},
		Assembler:    prompt.NewAssembler(""),
		Generator:    gen,
		HistoryLimit: 20,
	})

	res, err := o.Chat(context.Background(), "alice", "s1", "hello")
	if err != nil {
		t.Fatalf("Chat() error = %v, want degraded success", err)
	}
	if res.Answer != "generated anyway" {
		t.Fatalf("res.Answer = %q", res.Answer)
	}
}

func TestChatSessionIsolation(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "hi"}
	o, hist, _ := testOrchestrator(t, ret, gen)

	if _, err := o.Chat(context.Background(), "alice", "shared", "from alice"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	// Same session id, different identity: cache would hit, so vary the vector.
	ret.result.QueryVector = []float32{0, 1, 0}
	if _, err := o.Chat(context.Background(), "bob", "shared", "from bob"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	aliceTurns, _ := hist.History(context.Background(), "alice:shared", 0)
	bobTurns, _ := hist.History(context.Background(), "bob:shared", 0)
	if len(aliceTurns) != 2 || len(bobTurns) != 2 {
		t.Fatalf("turn counts = %d,%d, want 2,2", len(aliceTurns), len(bobTurns))
	}
	if aliceTurns[0].Content != "from alice" || bobTurns[0].Content != "from bob" {
		t.Fatal("history leaked across identities sharing a session id")
	}
}

func TestChatHistoryReplayOrdering(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "answer one"}
	o, _, _ := testOrchestrator(t, ret, gen)

	if _, err := o.Chat(context.Background(), "alice", "s1", "question one"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	ret.result.QueryVector = []float32{0, 1, 0}
	gen.reply = "answer two"
	if _, err := o.Chat(context.Background(), "alice", "s1", "question two"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	msgs := gen.lastReq.Messages
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want 4 (system, user, assistant, user)", len(msgs))
	}
	if msgs[0].Role != prompt.RoleSystem {
		t.Fatalf("msgs[0].Role = %q, want system", msgs[0].Role)
	}
	if msgs[1].Content != "question one" || msgs[1].Role != prompt.RoleUser {
		t.Fatalf("msgs[1] = %+v, want replayed first question", msgs[1])
	}
	if msgs[2].Content != "answer one" || msgs[2].Role != prompt.RoleAssistant {
		t.Fatalf("msgs[2] = %+v, want replayed first answer", msgs[2])
	}
	if !strings.Contains(msgs[3].Content, "question two") {
		t.Fatalf("msgs[3].Content = %q, want current question", msgs[3].Content)
	}
}

func TestChatStreamDeltasMatchAnswer(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "streamed out in parts"}
	o, _, _ := testOrchestrator(t, ret, gen)

	var deltas []string
	res, err := o.ChatStream(context.Background(), "alice", "s1", "hello", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if !gen.streamed {
		t.Fatal("generator was not invoked in streaming mode")
	}
	if got := strings.Join(deltas, ""); got != res.Answer {
		t.Fatalf("joined deltas = %q, want %q", got, res.Answer)
	}
}

func TestChatStreamCacheHitSingleDelta(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "the answer"}
	o, _, _ := testOrchestrator(t, ret, gen)

	if _, err := o.Chat(context.Background(), "alice", "s1", "q"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	var deltas []string
	res, err := o.ChatStream(context.Background(), "alice", "s1", "q again", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if !res.Cached {
		t.Fatal("res.Cached = false, want true")
	}
	if len(deltas) != 1 || deltas[0] != "the answer" {
		t.Fatalf("deltas = %v, want single cached delta", deltas)
	}
	if gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.calls)
	}
}

func TestChatStreamGuardRedactsDeltas(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "write to leak@example.com now"}
	hist := memory.NewInMemoryStore()
	o := New(Options{
		Sanitizer:    testSanitizer(),
		Retriever:    ret,
		History:      hist,
		Cache:        semcache.NewInMemoryCache(8, 0.95),
		Assembler:    prompt.NewAssembler(""),
		Generator:    gen,
		HistoryLimit: 20,
		StreamGuard:  "redact",
	})

	var streamed strings.Builder
	_, err := o.ChatStream(context.Background(), "alice", "s1", "hello", func(d string) error {
		streamed.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	if strings.Contains(streamed.String(), "leak@example.com") {
		t.Fatalf("streamed output contains raw email: %q", streamed.String())
	}
}

// blockingHistory blocks reads until the caller's context is cancelled.
type blockingHistory struct {
	memory.Store
}

func (b blockingHistory) History(ctx context.Context, sessionKey string, limit int) ([]memory.TurnRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestChatHistoryReadBoundedByStageTimeout(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "answered without history"}
	o := New(Options{
		Sanitizer:    testSanitizer(),
		Retriever:    ret,
		History:      blockingHistory{memory.NewInMemoryStore()},
		Cache:        semcache.NewInMemoryCache(8, 0.95),
		Assembler:    prompt.NewAssembler(""),
		Generator:    gen,
		HistoryLimit: 20,
		StageTimeout: 50 * time.Millisecond,
	})

	type outcome struct {
		res ChatResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.Chat(context.Background(), "alice", "s1", "hello")
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Chat() error = %v, want degraded success", out.err)
		}
		if out.res.Answer != "answered without history" {
			t.Fatalf("res.Answer = %q", out.res.Answer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Chat() still blocked long after the stage timeout elapsed")
	}
}

type failingDetector struct{}

func (failingDetector) Redact(context.Context, string, []string) (string, error) {
	return "", fmt.Errorf("dlp unavailable")
}

func TestChatDoesNotCacheFailClosedPlaceholder(t *testing.T) {
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{reply: "contact us at sales@corp.example"}
	hist := memory.NewInMemoryStore()
	cache := semcache.NewInMemoryCache(8, 0.95)
	o := New(Options{
		Sanitizer:    policy.NewSanitizer(failingDetector{}, time.Second, nil),
		Retriever:    ret,
		History:      hist,
		Cache:        cache,
		Assembler:    prompt.NewAssembler(""),
		Generator:    gen,
		HistoryLimit: 20,
	})

	res, err := o.Chat(context.Background(), "alice", "s1", "how do I reach sales?")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Answer != policy.Placeholder {
		t.Fatalf("res.Answer = %q, want fail-closed placeholder", res.Answer)
	}

	entry, err := cache.Lookup(context.Background(), []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if entry != nil {
		t.Fatalf("cache holds %q, want no entry for a degraded answer", entry.Response)
	}

	// Once the detector recovers the same question must regenerate.
	if _, err := o.Chat(context.Background(), "alice", "s1", "how do I reach sales?"); err != nil {
		t.Fatalf("second Chat() error = %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("generator calls = %d, want 2", gen.calls)
	}
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey("alice", "s1"); got != "alice:s1" {
		t.Fatalf("SessionKey() = %q, want %q", got, "alice:s1")
	}
}

// NewMetrics registers collectors globally, so all assertions against a
// real Metrics instance live in this one test.
func TestChatRecordsProviderErrorsAndIndicators(t *testing.T) {
	m := observability.NewMetrics("aegis_pipeline_test")
	ret := &fakeRetriever{result: retrieval.Result{QueryVector: []float32{1, 0, 0}}}
	gen := &recordingGenerator{err: &reliability.StatusError{Provider: "llm", Code: 503, Detail: "overloaded"}}
	o := New(Options{
		Sanitizer:    testSanitizer(),
		Retriever:    ret,
		History:      memory.NewInMemoryStore(),
		Cache:        semcache.NewInMemoryCache(8, 0.95),
		Assembler:    prompt.NewAssembler(""),
		Generator:    gen,
		Metrics:      m,
		HistoryLimit: 20,
	})

	if _, err := o.Chat(context.Background(), "alice", "s1", "hello"); !errors.Is(err, ErrInternal) {
		t.Fatalf("Chat() error = %v, want ErrInternal", err)
	}
	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("llm", "503")); got != 1 {
		t.Fatalf("llm/503 provider errors = %v, want 1", got)
	}

	// Retrieval failures without a status code fall under the stage label.
	ret.err = fmt.Errorf("vector store unreachable")
	if _, err := o.Chat(context.Background(), "alice", "s1", "hello"); !errors.Is(err, ErrInternal) {
		t.Fatalf("Chat() error = %v, want ErrInternal", err)
	}
	if got := testutil.ToFloat64(m.ProviderErrors.WithLabelValues("retrieval", "error")); got != 1 {
		t.Fatalf("retrieval provider errors = %v, want 1", got)
	}

	ret.err = nil
	gen.err = nil
	gen.reply = "fine now"
	if _, err := o.Chat(context.Background(), "alice", "s1", "hello"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	res, err := o.Chat(context.Background(), "alice", "s1", "hello again")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if !res.Cached {
		t.Fatal("res.Cached = false, want cache hit")
	}

	var hits int
	for _, ind := range m.SnapshotStages().Indicators {
		if ind.Name == "cache_hit" {
			hits = ind.Count
		}
	}
	if hits != 1 {
		t.Fatalf("cache_hit indicator count = %d, want 1", hits)
	}
}
