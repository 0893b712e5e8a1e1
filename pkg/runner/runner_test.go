package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/jmharte/secprobe/pkg/probe"
	"github.com/sirupsen/logrus"
)

// fakeProber records which hosts it was asked to probe and fails the
// ones listed in fail.
type fakeProber struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]bool
	inUse int
	peak  int
}

func (f *fakeProber) Run(_ context.Context, params probe.Params) (*probe.Record, error) {
	f.mu.Lock()
	f.seen = append(f.seen, params.Host)
	f.inUse++
	if f.inUse > f.peak {
		f.peak = f.inUse
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inUse--
		f.mu.Unlock()
	}()

	if f.fail[params.Host] {
		return nil, fmt.Errorf("connect %s: access denied", params.Host)
	}
	return probe.NewRecord(params.Host), nil
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func targets(hosts ...string) []probe.Params {
	ts := make([]probe.Params, len(hosts))
	for i, h := range hosts {
		ts[i] = probe.Params{Host: h}
	}
	return ts
}

func TestRun_AllTargetsProbed(t *testing.T) {
	fp := &fakeProber{}
	r, err := New(fp, WithWorkers(4), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcomes := r.Run(context.Background(), targets("a", "b", "c", "d", "e"))
	if len(outcomes) != 5 {
		t.Fatalf("expected 5 outcomes, got %d", len(outcomes))
	}

	var hosts []string
	for _, o := range outcomes {
		if o.Err != nil {
			t.Errorf("unexpected error for %s: %v", o.Host, o.Err)
		}
		if o.Record == nil || o.Record.Host != o.Host {
			t.Errorf("outcome for %s carries wrong record", o.Host)
		}
		hosts = append(hosts, o.Host)
	}
	sort.Strings(hosts)
	want := []string{"a", "b", "c", "d", "e"}
	for i, h := range want {
		if hosts[i] != h {
			t.Fatalf("hosts = %v, want %v", hosts, want)
		}
	}
}

func TestRun_FatalErrorsPerHost(t *testing.T) {
	fp := &fakeProber{fail: map[string]bool{"bad": true}}
	r, _ := New(fp, WithLogger(quietLogger()))

	outcomes := r.Run(context.Background(), targets("good", "bad"))
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		switch o.Host {
		case "good":
			if o.Err != nil || o.Record == nil {
				t.Error("good host should yield a record")
			}
		case "bad":
			if o.Err == nil {
				t.Error("bad host should yield an error")
			}
			if o.Record != nil {
				t.Error("no record may accompany a fatal error")
			}
		}
	}
}

func TestRun_WorkerBound(t *testing.T) {
	fp := &fakeProber{}
	r, _ := New(fp, WithWorkers(2), WithLogger(quietLogger()))

	r.Run(context.Background(), targets("a", "b", "c", "d", "e", "f"))

	fp.mu.Lock()
	peak := fp.peak
	fp.mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds worker bound 2", peak)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fp := &fakeProber{}
	r, _ := New(fp, WithLogger(quietLogger()))

	outcomes := r.Run(ctx, targets("a", "b", "c"))
	if len(outcomes) > 3 {
		t.Errorf("got %d outcomes for 3 targets", len(outcomes))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil prober")
	}
	if _, err := New(&fakeProber{}, WithWorkers(0)); err == nil {
		t.Error("expected error for zero workers")
	}
	if _, err := New(&fakeProber{}, WithRateLimit(0, 1)); err == nil {
		t.Error("expected error for zero rate")
	}
	if _, err := New(&fakeProber{}, WithRateLimit(1, 0)); err == nil {
		t.Error("expected error for zero burst")
	}
}

func TestRun_WithRateLimit(t *testing.T) {
	fp := &fakeProber{}
	r, err := New(fp, WithRateLimit(1000, 10), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	outcomes := r.Run(context.Background(), targets("a", "b", "c"))
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
}
