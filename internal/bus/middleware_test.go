package bus

import (
	"errors"
	"testing"
)

func TestPipelineOrderingAndNesting(t *testing.T) {
	p := newPipeline()
	var trace []string

	record := func(name string) MiddlewareFunc {
		return func(_ Message, next func() error) error {
			trace = append(trace, name+":pre")
			err := next()
			trace = append(trace, name+":post")
			return err
		}
	}

	// Registered low priority first; the pipeline must re-sort.
	p.use(Middleware{Name: "low", Priority: 5, Fn: record("low")})
	p.use(Middleware{Name: "high", Priority: 10, Fn: record("high")})

	delivered, err := p.run(NewMessage(SystemSource, "t", nil))
	if err != nil || !delivered {
		t.Fatalf("run() = %v, %v", delivered, err)
	}

	want := []string{"high:pre", "low:pre", "low:post", "high:post"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestPipelineEqualPriorityKeepsInsertionOrder(t *testing.T) {
	p := newPipeline()
	var trace []string

	for _, name := range []string{"first", "second", "third"} {
		name := name
		p.use(Middleware{Name: name, Fn: func(_ Message, next func() error) error {
			trace = append(trace, name)
			return next()
		}})
	}

	if _, err := p.run(NewMessage(SystemSource, "t", nil)); err != nil {
		t.Fatal(err)
	}
	if trace[0] != "first" || trace[1] != "second" || trace[2] != "third" {
		t.Errorf("equal priorities must keep insertion order, got %v", trace)
	}
}

func TestPipelineErrorAbortsChain(t *testing.T) {
	p := newPipeline()
	boom := errors.New("boom")
	reached := false

	p.use(Middleware{Name: "failing", Priority: 10, Fn: func(Message, func() error) error {
		return boom
	}})
	p.use(Middleware{Name: "downstream", Fn: func(_ Message, next func() error) error {
		reached = true
		return next()
	}})

	delivered, err := p.run(NewMessage(SystemSource, "t", nil))
	if !errors.Is(err, boom) {
		t.Fatalf("run() err = %v, want boom", err)
	}
	if delivered {
		t.Error("failed pipeline must not report delivery")
	}
	if reached {
		t.Error("downstream middleware ran after a failure")
	}
}

func TestPipelineVetoWithoutError(t *testing.T) {
	p := newPipeline()
	p.use(Middleware{Name: "veto", Fn: func(Message, func() error) error {
		return nil // never calls next
	}})

	delivered, err := p.run(NewMessage(SystemSource, "t", nil))
	if err != nil {
		t.Fatalf("run() err = %v", err)
	}
	if delivered {
		t.Error("vetoed message must not be delivered")
	}
}

func TestPipelineContinuationIsSingleUse(t *testing.T) {
	p := newPipeline()
	count := 0

	p.use(Middleware{Name: "double", Fn: func(_ Message, next func() error) error {
		if err := next(); err != nil {
			return err
		}
		return next() // second call must be a no-op
	}})
	p.use(Middleware{Name: "counter", Fn: func(_ Message, next func() error) error {
		count++
		return next()
	}})

	if _, err := p.run(NewMessage(SystemSource, "t", nil)); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("downstream middleware ran %d times, want 1", count)
	}
}

func TestPipelinePanicBecomesError(t *testing.T) {
	p := newPipeline()
	p.use(Middleware{Name: "panicky", Fn: func(Message, func() error) error {
		panic("unexpected")
	}})

	delivered, err := p.run(NewMessage(SystemSource, "t", nil))
	if err == nil {
		t.Fatal("panicking middleware must surface as an error")
	}
	if delivered {
		t.Error("panicked pipeline must not report delivery")
	}
}

func TestPipelineEmptyDelivers(t *testing.T) {
	p := newPipeline()
	delivered, err := p.run(NewMessage(SystemSource, "t", nil))
	if err != nil || !delivered {
		t.Fatalf("empty pipeline: delivered=%v err=%v", delivered, err)
	}
}
