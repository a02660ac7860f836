package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yaogent/ymux/internal/config"
	"github.com/yaogent/ymux/internal/mcperr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeSession builds a Session whose CallTool invokes fn.
func fakeSession(fn func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error)) *Session {
	return &Session{
		ListTools: func(ctx context.Context) ([]ToolInfo, error) {
			return []ToolInfo{{Name: "echo"}}, nil
		},
		ListResources: func(ctx context.Context) ([]ResourceInfo, error) {
			return nil, nil
		},
		ListResourceTemplates: func(ctx context.Context) ([]TemplateInfo, error) {
			return nil, nil
		},
		CallTool: fn,
		Close:    func() error { return nil },
	}
}

func echoDialer() Dialer {
	return func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		return fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
			return &ToolResult{Content: "ok:" + tool}, nil
		}), nil
	}
}

func twoServers() map[string]config.ServerConfig {
	return map[string]config.ServerConfig{
		"a": {Command: "mcp-a"},
		"b": {Command: "mcp-b"},
	}
}

func TestEstablishAllReportsPerServerOutcomes(t *testing.T) {
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		if cfg.Command == "mcp-b" {
			return nil, errors.New("connection refused")
		}
		return fakeSession(nil), nil
	}
	r := New(twoServers(), discardLogger(), WithDialer(dialer))

	outcomes := r.EstablishAll(context.Background())
	require.Len(t, outcomes, 2)

	byName := map[string]error{}
	for _, o := range outcomes {
		byName[o.Server] = o.Err
	}
	assert.NoError(t, byName["a"])
	require.Error(t, byName["b"])
	assert.True(t, mcperr.HasCode(byName["b"], mcperr.CodeHandshake))

	states := r.States()
	assert.Equal(t, StateReady, states["a"].State)
	assert.Equal(t, StateDisconnected, states["b"].State)
}

func TestCallToolOnFailedServerReturnsUnavailable(t *testing.T) {
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		return nil, errors.New("no such host")
	}
	r := New(twoServers(), discardLogger(), WithDialer(dialer))
	r.EstablishAll(context.Background())

	_, err := r.CallTool(context.Background(), "b", "echo", nil)
	require.Error(t, err)
	assert.True(t, mcperr.HasCode(err, mcperr.CodeUnavailable))
}

func TestCallToolUnknownServerReturnsNotFound(t *testing.T) {
	r := New(twoServers(), discardLogger(), WithDialer(echoDialer()))

	_, err := r.CallTool(context.Background(), "nope", "echo", nil)
	require.Error(t, err)
	assert.True(t, mcperr.HasCode(err, mcperr.CodeNotFound))
}

func TestCallToolConnectsOnFirstUse(t *testing.T) {
	var dials atomic.Int32
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		dials.Add(1)
		return fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
			return &ToolResult{Content: "hi"}, nil
		}), nil
	}
	r := New(twoServers(), discardLogger(), WithDialer(dialer))

	result, err := r.CallTool(context.Background(), "a", "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Content)

	_, err = r.CallTool(context.Background(), "a", "echo", nil)
	require.NoError(t, err)

	// One connection per server, reused across calls; server b never dialed.
	assert.Equal(t, int32(1), dials.Load())
}

func TestSameServerCallsSerializeAcrossCallers(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		return fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
			n := inFlight.Add(1)
			for {
				cur := maxInFlight.Load()
				if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &ToolResult{}, nil
		}), nil
	}
	r := New(twoServers(), discardLogger(), WithDialer(dialer))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.CallTool(context.Background(), "a", "echo", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "same-server calls must never overlap")
}

func TestDifferentServersRunInParallel(t *testing.T) {
	start := make(chan struct{})
	var arrived sync.WaitGroup
	arrived.Add(2)

	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		return fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
			arrived.Done()
			<-start // both calls must be in flight before either returns
			return &ToolResult{}, nil
		}), nil
	}
	r := New(twoServers(), discardLogger(), WithDialer(dialer))

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, name := range []string{"a", "b"} {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				_, err := r.CallTool(context.Background(), name, "echo", nil)
				assert.NoError(t, err)
			}(name)
		}
		wg.Wait()
	}()

	waitDone := make(chan struct{})
	go func() {
		arrived.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("calls to different servers did not overlap")
	}
	close(start)
	<-done
}

func TestTransportFailureDegradesThenReconnects(t *testing.T) {
	var dials atomic.Int32
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		n := dials.Add(1)
		return fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
			if n == 1 {
				return nil, errors.New("broken pipe")
			}
			return &ToolResult{Content: "recovered"}, nil
		}), nil
	}
	r := New(twoServers(), discardLogger(),
		WithDialer(dialer),
		WithReconnectPolicy(3, time.Millisecond))

	_, err := r.CallTool(context.Background(), "a", "echo", nil)
	require.Error(t, err)
	assert.True(t, mcperr.HasCode(err, mcperr.CodeUnavailable))
	assert.Equal(t, StateDegraded, r.States()["a"].State)

	// Next request triggers the bounded reconnect and succeeds.
	result, err := r.CallTool(context.Background(), "a", "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Content)
	assert.Equal(t, StateReady, r.States()["a"].State)
}

func TestReconnectBudgetExhaustionDisconnects(t *testing.T) {
	var dials atomic.Int32
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		if dials.Add(1) == 1 {
			return fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
				return nil, errors.New("broken pipe")
			}), nil
		}
		return nil, errors.New("connection refused")
	}
	r := New(twoServers(), discardLogger(),
		WithDialer(dialer),
		WithReconnectPolicy(2, time.Millisecond))

	_, err := r.CallTool(context.Background(), "a", "echo", nil)
	require.Error(t, err)

	_, err = r.CallTool(context.Background(), "a", "echo", nil)
	require.Error(t, err)
	assert.True(t, mcperr.HasCode(err, mcperr.CodeUnavailable))

	// First failing call plus two reconnect attempts.
	assert.Equal(t, int32(3), dials.Load())
	assert.Equal(t, StateDisconnected, r.States()["a"].State)
}

func TestShutdownAllCompletesWithStuckOperation(t *testing.T) {
	block := make(chan struct{})
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		return fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
			<-block
			return &ToolResult{}, nil
		}), nil
	}
	r := New(twoServers(), discardLogger(),
		WithDialer(dialer),
		WithCloseTimeout(50*time.Millisecond))
	r.EstablishAll(context.Background())

	go func() {
		_, _ = r.CallTool(context.Background(), "a", "echo", nil)
	}()
	time.Sleep(20 * time.Millisecond) // let the call take the gate

	done := make(chan struct{})
	go func() {
		r.ShutdownAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ShutdownAll hung on a stuck connection")
	}
	close(block)
}

func TestReconcileAddsAndRemovesServers(t *testing.T) {
	closed := make(chan string, 4)
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		name := cfg.Command
		s := fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
			return &ToolResult{}, nil
		})
		s.Close = func() error {
			closed <- name
			return nil
		}
		return s, nil
	}
	r := New(map[string]config.ServerConfig{"a": {Command: "mcp-a"}}, discardLogger(), WithDialer(dialer))
	r.EstablishAll(context.Background())

	outcomes := r.Reconcile(context.Background(), map[string]config.ServerConfig{
		"c": {Command: "mcp-c"},
	})
	require.Len(t, outcomes, 1)
	assert.Equal(t, "c", outcomes[0].Server)
	assert.NoError(t, outcomes[0].Err)

	select {
	case name := <-closed:
		assert.Equal(t, "mcp-a", name)
	case <-time.After(time.Second):
		t.Fatal("removed server connection was not closed")
	}

	_, err := r.CallTool(context.Background(), "a", "echo", nil)
	assert.True(t, mcperr.HasCode(err, mcperr.CodeNotFound))

	states := r.States()
	assert.Equal(t, StateReady, states["c"].State)
	assert.Equal(t, []string{"c"}, r.Servers())
}

func TestEstablishAllTwiceDoesNotDuplicateConnections(t *testing.T) {
	var dials atomic.Int32
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		dials.Add(1)
		return fakeSession(nil), nil
	}
	r := New(map[string]config.ServerConfig{"a": {Command: "mcp-a"}}, discardLogger(), WithDialer(dialer))

	r.EstablishAll(context.Background())
	r.EstablishAll(context.Background())

	assert.Equal(t, int32(1), dials.Load())
}

func TestListToolsReturnsCatalog(t *testing.T) {
	r := New(twoServers(), discardLogger(), WithDialer(echoDialer()))

	tools, err := r.ListTools(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
}

func TestStatesIncludesHandshakeError(t *testing.T) {
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		return nil, fmt.Errorf("spawn failed")
	}
	r := New(map[string]config.ServerConfig{"a": {Command: "mcp-a"}}, discardLogger(), WithDialer(dialer))
	r.EstablishAll(context.Background())

	st := r.States()["a"]
	assert.Equal(t, StateDisconnected, st.State)
	assert.Contains(t, st.Error, "spawn failed")
}

func TestStatesNotBlockedByInFlightCall(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	dialer := func(ctx context.Context, cfg config.ServerConfig) (*Session, error) {
		return fakeSession(func(ctx context.Context, tool string, args map[string]any) (*ToolResult, error) {
			close(started)
			<-block
			return &ToolResult{Content: "done"}, nil
		}), nil
	}
	r := New(map[string]config.ServerConfig{"a": {Command: "mcp-a"}}, discardLogger(), WithDialer(dialer))
	r.EstablishAll(context.Background())

	callDone := make(chan struct{})
	go func() {
		defer close(callDone)
		_, _ = r.CallTool(context.Background(), "a", "echo", nil)
	}()
	<-started

	// A slow tool call holds the per-server gate; status must still answer.
	statesDone := make(chan map[string]Status, 1)
	go func() { statesDone <- r.States() }()
	select {
	case states := <-statesDone:
		assert.Equal(t, StateReady, states["a"].State)
	case <-time.After(time.Second):
		t.Fatal("States blocked behind the in-flight tool call")
	}

	close(block)
	<-callDone
}
