package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// recorder пишет последовательность start/stop событий.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func register(t *testing.T, m *Manager, rec *recorder, name, parent string, deps []string) {
	t.Helper()
	err := m.Register(name, parent, deps,
		func(ctx context.Context) (context.Context, error) {
			rec.add("start " + name)
			return nil, nil
		},
		func(context.Context) error {
			rec.add("stop " + name)
			return nil
		})
	if err != nil {
		t.Fatalf("Register(%s): %v", name, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	if err := m.Register("", "", nil, nil, nil); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := m.Register("root", "", nil, nil, nil); err == nil {
		t.Fatal("reserved root name accepted")
	}
	if err := m.Register("a", "", nil, nil, nil); err != nil {
		t.Fatalf("Register(a): %v", err)
	}
	if err := m.Register("a", "", nil, nil, nil); err == nil {
		t.Fatal("duplicate name accepted")
	}
	if err := m.Register("b", "ghost", nil, nil, nil); err == nil {
		t.Fatal("unknown parent accepted")
	}
	if err := m.Register("c", "", []string{"c"}, nil, nil); err == nil {
		t.Fatal("self-dependency accepted")
	}
}

func TestStartAllHonorsDependencies(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	rec := &recorder{}
	// Алфавитный обход начал бы с consumer, но deps тянут producer первым.
	register(t, m, rec, "consumer", "", []string{"producer"})
	register(t, m, rec, "producer", "", nil)

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll(): %v", err)
	}

	want := []string{"start producer", "start consumer"}
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestShutdownReverseOrder(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	rec := &recorder{}
	register(t, m, rec, "storage", "", nil)
	register(t, m, rec, "workers", "", []string{"storage"})
	register(t, m, rec, "web", "", []string{"workers"})

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll(): %v", err)
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown(): %v", err)
	}

	want := []string{
		"start storage", "start workers", "start web",
		"stop web", "stop workers", "stop storage",
	}
	if got := rec.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestStartFailurePropagates(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	boom := errors.New("boom")
	err := m.Register("bad", "", nil,
		func(context.Context) (context.Context, error) { return nil, boom },
		nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := m.StartAll(); !errors.Is(err, boom) {
		t.Fatalf("StartAll() = %v, want boom", err)
	}
	// Провалившийся узел не попадает в порядок остановки.
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown(): %v", err)
	}
}

func TestDependencyFailureBlocksDependent(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	boom := errors.New("no disk")
	if err := m.Register("db", "", nil,
		func(context.Context) (context.Context, error) { return nil, boom },
		nil); err != nil {
		t.Fatalf("Register(db): %v", err)
	}

	started := false
	if err := m.Register("api", "", []string{"db"},
		func(context.Context) (context.Context, error) {
			started = true
			return nil, nil
		},
		nil); err != nil {
		t.Fatalf("Register(api): %v", err)
	}

	if err := m.StartAll(); !errors.Is(err, boom) {
		t.Fatalf("StartAll() = %v, want boom", err)
	}
	if started {
		t.Fatal("dependent node started despite failed dependency")
	}
}

func TestShutdownCancelsNodeContext(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	var nodeCtx context.Context
	if err := m.Register("svc", "", nil,
		func(ctx context.Context) (context.Context, error) {
			nodeCtx = ctx
			return nil, nil
		},
		nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll(): %v", err)
	}
	if nodeCtx.Err() != nil {
		t.Fatal("node context canceled prematurely")
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown(): %v", err)
	}
	if nodeCtx.Err() == nil {
		t.Fatal("node context still alive after shutdown")
	}
}

func TestReturnedContextBridged(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	external, externalCancel := context.WithCancel(context.Background())
	defer externalCancel()

	if err := m.Register("ext", "", nil,
		func(context.Context) (context.Context, error) { return external, nil },
		nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll(): %v", err)
	}

	// Контекст узла — прокладка над возвращённым: её и гасит Shutdown.
	wrapper, err := m.nodeContext("ext")
	if err != nil {
		t.Fatalf("nodeContext: %v", err)
	}
	if wrapper.Err() != nil {
		t.Fatal("node context canceled prematurely")
	}
	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown(): %v", err)
	}
	if wrapper.Err() == nil {
		t.Fatal("shutdown did not cancel the bridged node context")
	}
	// Сам возвращённый контекст принадлежит узлу, менеджер его не трогает.
	if external.Err() != nil {
		t.Fatal("shutdown must not cancel the externally owned context")
	}
}

func TestExternalCancelReachesBridgedContext(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	external, externalCancel := context.WithCancel(context.Background())

	if err := m.Register("ext", "", nil,
		func(context.Context) (context.Context, error) { return external, nil },
		nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll(): %v", err)
	}

	wrapper, err := m.nodeContext("ext")
	if err != nil {
		t.Fatalf("nodeContext: %v", err)
	}

	externalCancel()
	select {
	case <-wrapper.Done():
	case <-time.After(time.Second):
		t.Fatal("external cancel did not reach the bridged node context")
	}

	if err := m.Shutdown(); err != nil {
		t.Fatalf("Shutdown(): %v", err)
	}
}

func TestRootContextCancelReachesNodes(t *testing.T) {
	t.Parallel()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	m := New(rootCtx)

	var nodeCtx context.Context
	if err := m.Register("svc", "", nil,
		func(ctx context.Context) (context.Context, error) {
			nodeCtx = ctx
			return nil, nil
		},
		nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll(): %v", err)
	}

	rootCancel()
	select {
	case <-nodeCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("root cancel did not propagate to node context")
	}
}

func TestStopFuncErrorCollected(t *testing.T) {
	t.Parallel()

	m := New(context.Background())
	bad := errors.New("close failed")
	if err := m.Register("svc", "", nil, nil,
		func(context.Context) error { return bad }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.StartAll(); err != nil {
		t.Fatalf("StartAll(): %v", err)
	}
	if err := m.Shutdown(); !errors.Is(err, bad) {
		t.Fatalf("Shutdown() = %v, want close failure", err)
	}
}
