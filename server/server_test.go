//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/deepresearch-go/driver"
	"trpc.group/trpc-go/deepresearch-go/graph"
	"trpc.group/trpc-go/deepresearch-go/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/deepresearch-go/research"
)

const longQuery = "What are the main LLM quantization methods? Compare GPTQ, AWQ, and GGUF formats."

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	g, err := research.NewGraph()
	require.NoError(t, err)
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(inmemory.NewSaver()))
	require.NoError(t, err)
	runner, err := driver.New(exec)
	require.NoError(t, err)
	host, err := driver.NewHost(runner, 4)
	require.NoError(t, err)

	ts := httptest.NewServer(New(host, exec, opts...).Handler())
	t.Cleanup(func() {
		ts.Close()
		host.Close()
	})
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	rsp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return rsp
}

func getRun(t *testing.T, ts *httptest.Server, threadID string) RunView {
	t.Helper()
	rsp, err := http.Get(ts.URL + "/runs/" + threadID)
	require.NoError(t, err)
	defer rsp.Body.Close()
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	var v RunView
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&v))
	return v
}

func waitStatus(t *testing.T, ts *httptest.Server, threadID string, want driver.Status) RunView {
	t.Helper()
	var v RunView
	require.Eventually(t, func() bool {
		v = getRun(t, ts, threadID)
		return v.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return v
}

func TestStartRunCompletes(t *testing.T) {
	ts := newTestServer(t)
	rsp := postJSON(t, ts.URL+"/runs", StartRequest{Query: longQuery, ThreadID: "test-1"})
	defer rsp.Body.Close()
	require.Equal(t, http.StatusAccepted, rsp.StatusCode)
	var started RunView
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&started))
	assert.Equal(t, "test-1", started.ThreadID)

	v := waitStatus(t, ts, "test-1", driver.StatusCompleted)
	assert.Equal(t, []string{
		research.NodeClarify, research.NodeBrief, research.NodeDraft, research.NodeSupervisor, research.NodeFinal,
	}, v.Stages)
	assert.Equal(t, 1, v.Passes)
	assert.Equal(t, string(driver.SourceStream), v.ResultSource)
	assert.Contains(t, v.FinalReport, "GGUF")
	assert.Empty(t, v.Error)
}

func TestGeneratedThreadID(t *testing.T) {
	ts := newTestServer(t, WithThreadPrefix("job"))
	rsp := postJSON(t, ts.URL+"/runs", StartRequest{Query: longQuery})
	defer rsp.Body.Close()
	var v RunView
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&v))
	assert.True(t, strings.HasPrefix(v.ThreadID, "job-"), v.ThreadID)
}

func TestAnswerInterrupt(t *testing.T) {
	ts := newTestServer(t)
	rsp := postJSON(t, ts.URL+"/runs", StartRequest{Query: "Quantization?", ThreadID: "short"})
	rsp.Body.Close()

	var v RunView
	require.Eventually(t, func() bool {
		v = getRun(t, ts, "short")
		return v.Status == driver.StatusAwaitingInput && v.Pending != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, research.InterruptClarification, v.Pending.Type)
	assert.Contains(t, v.Pending.Question, "Quantization?")
	assert.Equal(t, research.NodeClarify, v.Pending.NodeID)

	stRsp, err := http.Get(ts.URL + "/threads/short/state")
	require.NoError(t, err)
	var st StateView
	require.NoError(t, json.NewDecoder(stRsp.Body).Decode(&st))
	stRsp.Body.Close()
	assert.True(t, st.Interrupted)
	assert.Equal(t, []string{research.NodeClarify}, st.Next)

	again := postJSON(t, ts.URL+"/runs", StartRequest{Query: "other", ThreadID: "short"})
	again.Body.Close()
	assert.Equal(t, http.StatusConflict, again.StatusCode)

	ans := postJSON(t, ts.URL+"/runs/short/answer", AnswerRequest{Answer: " consumer GPUs "})
	ans.Body.Close()
	assert.Equal(t, http.StatusAccepted, ans.StatusCode)

	v = waitStatus(t, ts, "short", driver.StatusCompleted)
	assert.Nil(t, v.Pending)
	assert.Equal(t, 2, v.Passes)
	assert.Contains(t, v.FinalReport, "Scope from the user: consumer GPUs")
}

func TestAnswerWithoutPendingInput(t *testing.T) {
	ts := newTestServer(t)
	rsp := postJSON(t, ts.URL+"/runs/nobody/answer", AnswerRequest{Answer: "x"})
	defer rsp.Body.Close()
	assert.Equal(t, http.StatusConflict, rsp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&body))
	assert.Equal(t, ErrNoPendingInput.Error(), body["error"])
}

func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)
	rsp := postJSON(t, ts.URL+"/runs", StartRequest{})
	rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	rsp, err := http.Post(ts.URL+"/runs", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, rsp.StatusCode)

	for _, path := range []string{"/runs/missing", "/runs/missing/events", "/threads/missing/state"} {
		rsp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		rsp.Body.Close()
		assert.Equal(t, http.StatusNotFound, rsp.StatusCode, path)
	}
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"b", "a"} {
		rsp := postJSON(t, ts.URL+"/runs", StartRequest{Query: longQuery, ThreadID: id})
		rsp.Body.Close()
		waitStatus(t, ts, id, driver.StatusCompleted)
	}
	rsp, err := http.Get(ts.URL + "/runs")
	require.NoError(t, err)
	defer rsp.Body.Close()
	var views []RunView
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&views))
	require.Len(t, views, 2)
	assert.Equal(t, "a", views[0].ThreadID)
	assert.Equal(t, "b", views[1].ThreadID)
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t)
	rsp := postJSON(t, ts.URL+"/runs", StartRequest{Query: longQuery, ThreadID: "sse"})
	rsp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/runs/sse/events", nil)
	require.NoError(t, err)
	events, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer events.Body.Close()
	assert.Equal(t, "text/event-stream", events.Header.Get("Content-Type"))

	var stages []string
	var done bool
	scanner := bufio.NewScanner(events.Body)
	var kind string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && kind == "stage":
			var ev StageEvent
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			stages = append(stages, ev.Stage)
		case strings.HasPrefix(line, "data: ") && kind == "done":
			var v RunView
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &v))
			assert.Equal(t, driver.StatusCompleted, v.Status)
			done = true
		}
	}
	assert.True(t, done)
	assert.Len(t, stages, 5)
	assert.Equal(t, research.NodeFinal, stages[len(stages)-1])
}

func TestCompletionCallback(t *testing.T) {
	var mu sync.Mutex
	var got []string
	ts := newTestServer(t, WithCompletion(func(query string, out *driver.Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil && out.Result != nil {
			got = append(got, query)
		}
	}))
	rsp := postJSON(t, ts.URL+"/runs", StartRequest{Query: longQuery, ThreadID: "cb"})
	rsp.Body.Close()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == longQuery
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/runs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	rsp.Body.Close()
	assert.Equal(t, "*", rsp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAnswerBox(t *testing.T) {
	box := newAnswerBox()
	p := box.prompter("t")
	req := driver.NewInterruptRequest(map[string]any{"type": "x"})

	result := make(chan string, 1)
	go func() {
		a, err := p.Prompt(context.Background(), req)
		assert.NoError(t, err)
		result <- a
	}()
	require.Eventually(t, func() bool {
		_, ok := box.get("t")
		return ok
	}, time.Second, time.Millisecond)
	require.NoError(t, box.answer("t", "yes"))
	assert.Equal(t, "yes", <-result)
	assert.ErrorIs(t, box.answer("t", "again"), ErrNoPendingInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Prompt(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := box.get("t")
	assert.False(t, ok)
}
