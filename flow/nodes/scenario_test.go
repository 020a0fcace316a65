package nodes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/dshills/edgeflow-go/flow"
	"github.com/dshills/edgeflow-go/flow/emit"
	"github.com/dshills/edgeflow-go/flow/model"
)

// runWorkflow parses and executes a definition against the builtin
// library plus any extra registrations applied by customize.
func runWorkflow(t *testing.T, definition string, customize func(*flow.Registry), options ...flow.Option) *flow.Result {
	t.Helper()
	r := flow.NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	if customize != nil {
		customize(r)
	}

	wf, err := flow.NewParser(r).Parse([]byte(definition))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	engine, err := flow.New(r, options...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	result, err := engine.Execute(context.Background(), wf, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	return result
}

func TestWorkflowRandomDecision(t *testing.T) {
	result := runWorkflow(t, `{"workflow": [
		"print-random-number",
		{"decision-node": {
			"big?": {"print-message": {"message": "big one"}},
			"small?": {"print-message": {"message": "small one"}}
		}}
	]}`, nil)

	n, ok := result.State["randomNumber"].(int)
	if !ok {
		t.Fatalf("randomNumber = %v", result.State["randomNumber"])
	}
	want := "small one"
	if n > 50 {
		want = "big one"
	}
	if result.State["message"] != want {
		t.Errorf("message = %v for randomNumber %d, want %q", result.State["message"], n, want)
	}
	if result.Edge != "success" {
		t.Errorf("terminal edge = %q", result.Edge)
	}
}

func TestWorkflowCountingLoop(t *testing.T) {
	buffered := emit.NewBufferedEmitter()
	result := runWorkflow(t, `{"workflow": [
		{"loop-node…": {"again?": {"print-message": {"message": "tick"}}}}
	]}`, nil, flow.WithEmitter(buffered))

	if result.Edge != "stop" {
		t.Errorf("terminal edge = %q, want stop", result.Edge)
	}
	if result.State["loopCount"] != 5 {
		t.Errorf("loopCount = %v, want 5", result.State["loopCount"])
	}
	if result.Payload["loopCount"] != 5 {
		t.Errorf("stop payload = %v", result.Payload)
	}

	reentries := buffered.HistoryWithFilter(result.ExecutionID, emit.HistoryFilter{Msg: emit.LoopReenter})
	if len(reentries) != 5 {
		t.Errorf("re-entries = %d, want 5", len(reentries))
	}
}

func TestWorkflowNestedLoopInBranch(t *testing.T) {
	// A loop nested inside a decision branch: the loop only runs when
	// the decision routes to it.
	const definition = `{"initialState": {"randomNumber": %d}, "workflow": [
		{"decision-node": {
			"big?": {"loop-node…": {"again?": {"print-message": {"message": "loop"}}}},
			"small?": {"print-message": {"message": "done"}}
		}}
	]}`

	t.Run("big path runs the loop to completion", func(t *testing.T) {
		result := runWorkflow(t, fmt.Sprintf(definition, 80), nil)
		if result.State["loopCount"] != 5 {
			t.Errorf("loopCount = %v, want 5", result.State["loopCount"])
		}
		if result.State["message"] != "loop" {
			t.Errorf("message = %v, want loop", result.State["message"])
		}
		if result.Edge != "stop" {
			t.Errorf("terminal edge = %q, want stop", result.Edge)
		}
	})

	t.Run("small path never enters the loop", func(t *testing.T) {
		result := runWorkflow(t, fmt.Sprintf(definition, 20), nil)
		if result.State["message"] != "done" {
			t.Errorf("message = %v, want done", result.State["message"])
		}
		if count, ok := result.State["loopCount"]; ok {
			t.Errorf("loopCount = %v, want untouched", count)
		}
		if result.Edge != "success" {
			t.Errorf("terminal edge = %q, want success", result.Edge)
		}
	})
}

func TestWorkflowDecisionErrorEdgeIsRoutable(t *testing.T) {
	// No randomNumber anywhere; the decision emits its error edge and the
	// workflow handles it like any other route.
	result := runWorkflow(t, `{"workflow": [
		{"decision-node": {
			"big?": {"print-message": {"message": "big"}},
			"small?": {"print-message": {"message": "small"}},
			"error?": {"print-message": {"message": "no value"}}
		}}
	]}`, nil)

	if result.State["message"] != "no value" {
		t.Errorf("message = %v, want routed error handler", result.State["message"])
	}
	if result.Edge != "success" {
		t.Errorf("terminal edge = %q", result.Edge)
	}
}

func TestWorkflowRangeLoopCollects(t *testing.T) {
	collectDesc := flow.Descriptor{
		Type:    "collect",
		Version: "1.0.0",
		Edges:   []string{"success"},
	}
	collect := func(_ context.Context, ec *flow.Context, _ map[string]any) (flow.EdgeMap, error) {
		values, _ := ec.State["collected"].([]any)
		ec.State["collected"] = append(values, ec.Inputs["rangeValue"])
		return flow.Emit("success", nil), nil
	}

	result := runWorkflow(t, `{"workflow": [
		{"range…": {"start": 1, "stop": 4, "next?": "collect"}}
	]}`, func(r *flow.Registry) {
		if err := r.Register(collectDesc, func() flow.Node { return flow.NodeFunc(collect) }); err != nil {
			t.Fatalf("register collect: %v", err)
		}
	})

	if result.Edge != "complete" {
		t.Errorf("terminal edge = %q, want complete", result.Edge)
	}
	if got := result.State["collected"]; !reflect.DeepEqual(got, []any{1, 2, 3}) {
		t.Errorf("collected = %v, want [1 2 3]", got)
	}
	if result.Payload["rangeValue"] != nil {
		t.Errorf("complete payload = %v", result.Payload)
	}
}

func TestWorkflowFetchStatusRouting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	result := runWorkflow(t, `{"workflow": [
		{"fetch": {
			"url": "`+server.URL+`",
			"clientError?": {"set-state": {"outcome": "missing"}},
			"serverError?": {"set-state": {"outcome": "broken"}}
		}}
	]}`, nil)

	// A 404 is a routable outcome, not an engine failure.
	if result.State["outcome"] != "missing" {
		t.Errorf("outcome = %v, want missing", result.State["outcome"])
	}
}

func TestWorkflowTemplatePromptThroughLLM(t *testing.T) {
	completer := &model.MockCompleter{Responses: []model.Completion{
		{Text: "blue", Tokens: 3},
	}}

	result := runWorkflow(t, `{"initialState": {"topic": "the sky"}, "workflow": [
		{"set-state": {"question": "what colour is $.topic"}},
		{"llm-complete": {"prompt": "$.question"}}
	]}`, nil, flow.WithServices(map[string]any{"llm": completer}))

	if result.State["llmResponse"] != "blue" {
		t.Errorf("llmResponse = %v", result.State["llmResponse"])
	}
	if result.State["llmTokens"] != 3 {
		t.Errorf("llmTokens = %v", result.State["llmTokens"])
	}
	if len(completer.Prompts) != 1 || !strings.Contains(completer.Prompts[0], "what colour") {
		t.Errorf("prompts = %v", completer.Prompts)
	}
}
